// Package handlers defines HTTP-layer error codes used by the router and
// transport-level failures.
//
// Codes are lowercase snake_case and mirror HTTP status semantics. They are
// only attached by fail(); bodies produced by the ExceptionFormatter keep the
// fixed {"error": ...} / {"errors": ...} shapes.
package handlers

import "github.com/tbourn/go-users-backend/internal/http/middleware"

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	// Shared with the recovery middleware.
	ErrCodeInternal = middleware.CodeInternal
)
