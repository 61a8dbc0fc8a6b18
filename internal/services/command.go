package services

import (
	"github.com/tbourn/go-users-backend/internal/repo"
	"github.com/tbourn/go-users-backend/internal/validation"
)

// CreateUserRules are the constraints for POST /users.
var CreateUserRules = validation.Rules{
	"user":       "required|array",
	"user.email": "required|email|max:255",
	"user.name":  "string|max:255",
}

// protectedKeys are never copied from the payload into user attributes.
var protectedKeys = map[string]struct{}{
	"id":         {},
	"email":      {},
	"name":       {},
	"created_at": {},
	"updated_at": {},
	"activation": {},
}

// CreateUserCommand is the validated input of UserService.Create. It can only
// be built from a validation.Validated value.
type CreateUserCommand struct {
	email      string
	name       string
	attributes map[string]any
	valid      bool
}

// NewCreateUserCommand builds the command from a payload validated against
// CreateUserRules.
func NewCreateUserCommand(v validation.Validated) (CreateUserCommand, error) {
	if !v.Valid() {
		return CreateUserCommand{}, ErrUnvalidatedCommand
	}
	user := v.Object("user")
	if user == nil {
		return CreateUserCommand{}, ErrUnvalidatedCommand
	}

	var attrs map[string]any
	for k, val := range user {
		if _, skip := protectedKeys[k]; skip {
			continue
		}
		if attrs == nil {
			attrs = make(map[string]any)
		}
		attrs[k] = val
	}

	return CreateUserCommand{
		email:      v.String("user.email"),
		name:       v.String("user.name"),
		attributes: attrs,
		valid:      true,
	}, nil
}

// Email returns the submitted address as given.
func (c CreateUserCommand) Email() string { return c.email }

// Name returns the optional display name.
func (c CreateUserCommand) Name() string { return c.name }

// Attributes returns a copy of the extra fields, or nil when there are none.
func (c CreateUserCommand) Attributes() map[string]any {
	if c.attributes == nil {
		return nil
	}
	out := make(map[string]any, len(c.attributes))
	for k, v := range c.attributes {
		out[k] = v
	}
	return out
}

// ListQuery selects a page of users.
type ListQuery struct {
	Page     int
	PageSize int
	Sort     string
	Email    string
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Normalize applies defaults and bounds: page >= 1, page size in
// [1, 100] (default 20), a known sort key (default "-created_at"), and a
// case-folded email filter.
func (q ListQuery) Normalize() ListQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = defaultPageSize
	}
	if q.PageSize > maxPageSize {
		q.PageSize = maxPageSize
	}
	if !repo.ValidSort(q.Sort) {
		q.Sort = repo.DefaultSort
	}
	q.Email = NormalizeEmail(q.Email)
	return q
}
