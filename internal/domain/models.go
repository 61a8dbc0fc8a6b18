// Package domain defines the persistence models for users and their
// activation records, plus the Actor identity the HTTP pipeline works with.
// User and Activation are mapped with GORM and form the core data layer of
// the users backend.
package domain

import (
	"time"
)

// User is an account created through POST /users.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Email: case-folded address; unique across all users.
//   - Name: optional display name.
//   - Attributes: any additional fields accepted at creation, stored as JSON.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type User struct {
	ID         string         `json:"id"         gorm:"type:char(36);primaryKey"`
	Email      string         `json:"email"      gorm:"type:varchar(255);not null;uniqueIndex:ux_users_email"`
	Name       string         `json:"name"       gorm:"type:varchar(255);not null;default:''"`
	Attributes map[string]any `json:"attributes" gorm:"type:text;serializer:json"`
	CreatedAt  time.Time      `json:"created_at" gorm:"index:idx_users_created"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Activation holds the one-time token a new user redeems to activate the
// account. Exactly one activation exists per user and it is created in the
// same transaction as the user row.
type Activation struct {
	ID          string     `json:"id"           gorm:"type:char(36);primaryKey"`
	UserID      string     `json:"user_id"      gorm:"type:char(36);not null;uniqueIndex:ux_activation_user"`
	Token       string     `json:"-"            gorm:"type:varchar(64);not null;uniqueIndex:ux_activation_token"`
	ExpiresAt   time.Time  `json:"expires_at"   gorm:"not null"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`

	// User is the account being activated. Activations are cascade-deleted
	// with their user.
	User *User `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Activation.
func (Activation) TableName() string { return "activations" }

// Expired reports whether the activation can no longer be redeemed at now.
func (a Activation) Expired(now time.Time) bool {
	return !a.ExpiresAt.After(now)
}
