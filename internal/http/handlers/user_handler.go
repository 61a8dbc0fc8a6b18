// User HTTP handlers.
//
// This file exposes REST endpoints for user resources:
//   - POST   /users        (create)
//   - GET    /users        (list, paginated, ETag support)
//   - GET    /users/{id}   (fetch one)
//
// Every endpoint runs the same pipeline: authentication, authorization,
// input validation, then the service call. The first failing stage answers
// the request. Only failures coming out of the service are sent to the
// exception reporters.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-users-backend/internal/auth"
	"github.com/tbourn/go-users-backend/internal/domain"
	"github.com/tbourn/go-users-backend/internal/http/middleware"
	"github.com/tbourn/go-users-backend/internal/reporting"
	"github.com/tbourn/go-users-backend/internal/services"
	"github.com/tbourn/go-users-backend/internal/utils"
	"github.com/tbourn/go-users-backend/internal/validation"
)

//
// Contracts
//

// UserService defines the user operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type UserService interface {
	// Create stores a new user built from a validated command.
	Create(ctx context.Context, cmd services.CreateUserCommand) (*domain.User, error)
	// Get returns one user or services.ErrUserNotFound.
	Get(ctx context.Context, id string) (*domain.User, error)
	// ListPage returns a page of users and the total number of matches.
	ListPage(ctx context.Context, q services.ListQuery) ([]domain.User, int64, error)
	// Stats returns the match count and latest update time for q.
	Stats(ctx context.Context, q services.ListQuery) (int64, *time.Time, error)
}

// ErrorReporter sends a failure to the configured exception reporters and
// returns the ids they assigned.
type ErrorReporter interface {
	Report(ctx context.Context, err error) reporting.Results
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for users.
type Handlers struct {
	users     UserService
	gate      auth.Gate
	reporter  ErrorReporter
	formatter ExceptionFormatter
}

// New constructs Handlers. A nil gate denies everything, a nil reporter
// reports nothing and a nil formatter falls back to BaseFormatter.
func New(users UserService, gate auth.Gate, reporter ErrorReporter, formatter ExceptionFormatter) *Handlers {
	if gate == nil {
		gate = auth.GateFunc(func(*domain.Actor, string) bool { return false })
	}
	if formatter == nil {
		formatter = BaseFormatter{}
	}
	return &Handlers{users: users, gate: gate, reporter: reporter, formatter: formatter}
}

//
// DTOs
//

// CreateUserRequest documents the POST /users payload. The handler decodes
// the body as a free-form object; unknown fields under "user" are kept as
// attributes.
type CreateUserRequest struct {
	User struct {
		Email string `json:"email" example:"ada@example.com"`
		Name  string `json:"name,omitempty" example:"Ada Lovelace"`
	} `json:"user"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListUsersResponse wraps a page of users and pagination information.
type ListUsersResponse struct {
	Users      []domain.User `json:"users"`
	Pagination Pagination    `json:"pagination"`
}

//
// Helpers
//

// authorize runs the authentication and authorization stages for action.
// It answers the request and returns nil when either stage fails.
func (h *Handlers) authorize(c *gin.Context, action string) *domain.Actor {
	actor := middleware.ActorFrom(c)
	if actor == nil {
		h.respond(c, services.ErrNotAuthenticated, nil)
		return nil
	}
	if !h.gate.Check(actor, action) {
		middleware.LoggerFrom(c).Info().
			Str("actor_id", actor.ID).
			Str("action", action).
			Msg("authorization denied")
		h.respond(c, services.NotAuthorized(action), nil)
		return nil
	}
	return actor
}

// respond writes the formatted failure and aborts the chain.
func (h *Handlers) respond(c *gin.Context, err error, reports reporting.Results) {
	status, body := h.formatter.Format(err, reports)
	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().Err(err).Int("status", status).Interface("reports", reports).Msg("request failed")
	}
	c.AbortWithStatusJSON(status, body)
}

// reportAndRespond sends err to the reporters before formatting it.
func (h *Handlers) reportAndRespond(c *gin.Context, err error) {
	var reports reporting.Results
	if h.reporter != nil {
		reports = h.reporter.Report(c.Request.Context(), err)
	}
	h.respond(c, err, reports)
}

// listQuery reads the list options from the query string, normalized.
func listQuery(c *gin.Context) services.ListQuery {
	return services.ListQuery{
		Page:     utils.AtoiDefault(c.Query("page"), 1),
		PageSize: utils.AtoiDefault(c.Query("page_size"), 0),
		Sort:     c.Query("sort"),
		Email:    c.Query("email"),
	}.Normalize()
}

//
// Handlers
//

// CreateUser godoc
// @ID          createUser
// @Summary     Create a user
// @Description Creates a user with an activation record and sends a welcome notification. Requires the create-user permission.
// @Tags        Users
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.CreateUserRequest  true  "User payload"
//
// @Success     201  {object}  domain.User
// @Failure     400  {object}  handlers.ValidationErrorResponse  "Invalid payload"
// @Failure     401  {object}  handlers.ErrorResponse            "Not authenticated"
// @Failure     403  {object}  handlers.ErrorResponse            "Not authorized"
// @Failure     409  {object}  handlers.ErrorResponse            "Email already taken"
// @Failure     500  {object}  handlers.ErrorResponse            "Internal error"
// @Router      /users [post]
func (h *Handlers) CreateUser(c *gin.Context) {
	if h.authorize(c, auth.ActionCreateUser) == nil {
		return
	}

	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil || payload == nil {
		h.respond(c, validation.Errors{"body": {"must be a valid JSON object"}}, nil)
		return
	}

	v, err := validation.Validate(payload, services.CreateUserRules)
	if err != nil {
		var verrs validation.Errors
		if errors.As(err, &verrs) {
			h.respond(c, verrs, nil)
			return
		}
		h.reportAndRespond(c, services.Internal(err))
		return
	}

	cmd, err := services.NewCreateUserCommand(v)
	if err != nil {
		h.reportAndRespond(c, services.Internal(err))
		return
	}

	u, err := h.users.Create(c.Request.Context(), cmd)
	if err != nil {
		h.reportAndRespond(c, err)
		return
	}
	ok(c, http.StatusCreated, u)
}

// ListUsers godoc
// @ID          listUsers
// @Summary     List users (paginated)
// @Description Returns a page of users. Supports weak ETag via If-None-Match and may return 304. Requires the view-users permission.
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"users:3:1700000000\")
// @Param       page           query   int     false "Page number"                 minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"              minimum(1) maximum(100) default(20)
// @Param       sort           query   string  false "Sort key"                    Enums(created_at, -created_at, email, -email) default(-created_at)
// @Param       email          query   string  false "Exact email filter"
//
// @Success     200  {object} handlers.ListUsersResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     401  {object} handlers.ErrorResponse "Not authenticated"
// @Failure     403  {object} handlers.ErrorResponse "Not authorized"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /users [get]
func (h *Handlers) ListUsers(c *gin.Context) {
	if h.authorize(c, auth.ActionViewUsers) == nil {
		return
	}
	ctx := c.Request.Context()
	q := listQuery(c)

	// ETag pre-check (best effort).
	if count, maxTS, err := h.users.Stats(ctx, q); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.UnixNano()
		}
		etag := fmt.Sprintf(`W/"users:%d:%d:%d:%d:%s:%s"`, count, ts, q.Page, q.PageSize, q.Sort, url.QueryEscape(q.Email))
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	} else {
		middleware.LoggerFrom(c).Warn().Err(err).Msg("users stats failed; skipping etag")
	}

	items, total, err := h.users.ListPage(ctx, q)
	if err != nil {
		h.reportAndRespond(c, err)
		return
	}

	totalPages := utils.TotalPages(total, q.PageSize)
	ok(c, http.StatusOK, ListUsersResponse{
		Users: items,
		Pagination: Pagination{
			Page:       q.Page,
			PageSize:   q.PageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    q.Page < totalPages,
		},
	})
}

// GetUser godoc
// @ID          getUser
// @Summary     Fetch a user
// @Description Returns one user by id. Requires the view-users permission.
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  string  true  "User ID (UUID)"  format(uuid) example(141add05-4415-4938-b5a1-17e0d3171aff)
//
// @Success     200  {object} domain.User
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Not authenticated"
// @Failure     403  {object} handlers.ErrorResponse "Not authorized"
// @Failure     404  {object} handlers.ErrorResponse "User not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /users/{id} [get]
func (h *Handlers) GetUser(c *gin.Context) {
	if h.authorize(c, auth.ActionViewUsers) == nil {
		return
	}

	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user id must be a UUID")
		return
	}

	u, err := h.users.Get(c.Request.Context(), id)
	switch {
	case errors.Is(err, services.ErrUserNotFound):
		h.respond(c, err, nil)
	case err != nil:
		h.reportAndRespond(c, err)
	default:
		ok(c, http.StatusOK, u)
	}
}
