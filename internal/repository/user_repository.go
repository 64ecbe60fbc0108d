package repository

import (
	"context"
	"fmt"
	"time"

	"presence-service/pkg/models"

	"gorm.io/gorm"
)

// UserRepository reads the tenant roster and keeps the durable last-seen
// timestamp for users while they are offline.
type UserRepository interface {
	ListByTenant(ctx context.Context, tenantID string) ([]models.User, error)
	TouchLastSeen(ctx context.Context, userID string, lastSeenAt time.Time) error
}

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) ListByTenant(ctx context.Context, tenantID string) ([]models.User, error) {
	var users []models.User
	if err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list tenant roster: %w", err)
	}
	return users, nil
}

func (r *userRepository) TouchLastSeen(ctx context.Context, userID string, lastSeenAt time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Update("last_seen_at", lastSeenAt).Error
	if err != nil {
		return fmt.Errorf("touch last seen: %w", err)
	}
	return nil
}
