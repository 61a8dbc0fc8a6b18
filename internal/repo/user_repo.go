// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: no business logic, only persistence and query composition.
//
// Error semantics:
//   - When a user is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound).
//   - Constraint violations and connectivity errors are propagated as-is.
package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-users-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrUnsupportedField is returned by FindUserBy for columns that are not
// lookup keys.
var ErrUnsupportedField = errors.New("repo: unsupported lookup field")

// lookupColumns lists the user columns FindUserBy may query.
var lookupColumns = map[string]string{
	"id":    "id",
	"email": "email",
}

// UserFilter narrows list and count queries. Zero values match everything.
type UserFilter struct {
	Email string
}

func (f UserFilter) apply(q *gorm.DB) *gorm.DB {
	if f.Email != "" {
		q = q.Where("email = ?", f.Email)
	}
	return q
}

// sortOrders maps public sort keys to ORDER BY clauses.
var sortOrders = map[string]string{
	"created_at":  "created_at asc, id asc",
	"-created_at": "created_at desc, id desc",
	"email":       "email asc",
	"-email":      "email desc",
}

// DefaultSort is applied when the requested sort key is unknown or empty.
const DefaultSort = "-created_at"

// CreateUser inserts u, assigning an ID and UTC timestamps when unset.
func CreateUser(ctx context.Context, db *gorm.DB, u *domain.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = u.CreatedAt
	}
	return db.WithContext(ctx).Create(u).Error
}

// FindUserBy fetches the user whose field equals value. Only "id" and
// "email" are accepted.
func FindUserBy(ctx context.Context, db *gorm.DB, field, value string) (*domain.User, error) {
	col, ok := lookupColumns[field]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedField, field)
	}
	var u domain.User
	if err := db.WithContext(ctx).Where(col+" = ?", value).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUser fetches a user by primary key.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	return FindUserBy(ctx, db, "id", id)
}

// CountUsers returns the number of users matching f.
func CountUsers(ctx context.Context, db *gorm.DB, f UserFilter) (int64, error) {
	var total int64
	err := f.apply(db.WithContext(ctx).Model(&domain.User{})).Count(&total).Error
	return total, err
}

// ListUsersPage returns one page of users matching f, ordered by sort
// (see sortOrders; unknown keys fall back to DefaultSort).
func ListUsersPage(ctx context.Context, db *gorm.DB, f UserFilter, sort string, offset, limit int) ([]domain.User, error) {
	order, ok := sortOrders[sort]
	if !ok {
		order = sortOrders[DefaultSort]
	}
	var out []domain.User
	err := f.apply(db.WithContext(ctx)).
		Order(order).
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ValidSort reports whether sort is a known sort key.
func ValidSort(sort string) bool {
	_, ok := sortOrders[sort]
	return ok
}
