package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-users-backend/internal/domain"
)

// CreateActivation inserts the activation record for userID.
func CreateActivation(ctx context.Context, db *gorm.DB, userID, token string, expiresAt time.Time) (*domain.Activation, error) {
	a := &domain.Activation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Token:     token,
		ExpiresAt: expiresAt.UTC(),
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(a).Error; err != nil {
		return nil, err
	}
	return a, nil
}

// GetActivationByUser returns the activation record owned by userID.
func GetActivationByUser(ctx context.Context, db *gorm.DB, userID string) (*domain.Activation, error) {
	var a domain.Activation
	if err := db.WithContext(ctx).Where("user_id = ?", userID).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}
