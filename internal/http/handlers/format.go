package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-users-backend/internal/auth"
	"github.com/tbourn/go-users-backend/internal/reporting"
	"github.com/tbourn/go-users-backend/internal/services"
	"github.com/tbourn/go-users-backend/internal/validation"
)

// ExceptionFormatter turns a failure, plus the ids it was reported under,
// into an HTTP status and JSON body.
type ExceptionFormatter interface {
	Format(err error, reports reporting.Results) (int, gin.H)
}

// Message bodies fixed by the API contract.
const (
	msgNotAuthenticated = "You are not authenticated"
	msgInternal         = "internal server error"
	msgUserNotFound     = "user not found"
)

// actionPhrases completes "You are not authorized to ...".
var actionPhrases = map[string]string{
	auth.ActionCreateUser: "create users",
	auth.ActionViewUsers:  "view users",
}

// BaseFormatter maps the domain error taxonomy onto statuses and bodies.
// Causes and stack traces are never rendered.
type BaseFormatter struct{}

func (BaseFormatter) Format(err error, _ reporting.Results) (int, gin.H) {
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		return http.StatusBadRequest, gin.H{"errors": verrs}
	}
	if errors.Is(err, services.ErrUserNotFound) {
		return http.StatusNotFound, gin.H{"error": msgUserNotFound}
	}

	var de *services.DomainError
	if !errors.As(err, &de) {
		return http.StatusInternalServerError, gin.H{"error": msgInternal}
	}
	switch de.Kind {
	case services.KindNotAuthenticated:
		return http.StatusUnauthorized, gin.H{"error": msgNotAuthenticated}
	case services.KindNotAuthorized:
		phrase, ok := actionPhrases[de.Value]
		if !ok {
			phrase = "perform this action"
		}
		return http.StatusForbidden, gin.H{"error": "You are not authorized to " + phrase}
	case services.KindAlreadyExists:
		return http.StatusConflict, gin.H{
			"error": fmt.Sprintf("A user with the %s %s already exists!", de.Field, de.Value),
		}
	default:
		return http.StatusInternalServerError, gin.H{"error": msgInternal}
	}
}

// ReportIDFormatter decorates Base with the report ids of the failure, so a
// client can quote them to support. Bodies are left untouched when no
// reporter assigned an id.
type ReportIDFormatter struct {
	Base ExceptionFormatter
}

func (f ReportIDFormatter) Format(err error, reports reporting.Results) (int, gin.H) {
	base := f.Base
	if base == nil {
		base = BaseFormatter{}
	}
	status, body := base.Format(err, reports)

	ids := make(map[string]string, len(reports))
	for name, id := range reports {
		if id != "" {
			ids[name] = id
		}
	}
	if len(ids) == 0 {
		return status, body
	}

	out := make(gin.H, len(body)+1)
	for k, v := range body {
		out[k] = v
	}
	out["reports"] = ids
	return status, out
}
