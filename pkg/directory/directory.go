// Package directory reads users and group membership from the host platform tables.
package directory

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/yourorg/certificate-service/pkg/apperr"
	"github.com/yourorg/certificate-service/pkg/db/models"
)

// UserDirectory looks up users for issue snapshots
type UserDirectory interface {
	GetUser(ctx context.Context, userID uint64) (*models.User, error)
	GetUsers(ctx context.Context, userIDs []uint64) (map[uint64]*models.User, error)
}

// GroupResolver answers group membership questions
type GroupResolver interface {
	GroupMembers(ctx context.Context, groupID uint64) ([]uint64, error)
}

// DB implements UserDirectory and GroupResolver over the users and group_members tables
type DB struct {
	db *gorm.DB
}

// NewDB creates a table-backed directory
func NewDB(db *gorm.DB) *DB {
	return &DB{db: db}
}

// GetUser returns one user
func (d *DB) GetUser(ctx context.Context, userID uint64) (*models.User, error) {
	var user models.User
	if err := d.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("user")
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// GetUsers returns the users that exist among userIDs
func (d *DB) GetUsers(ctx context.Context, userIDs []uint64) (map[uint64]*models.User, error) {
	out := make(map[uint64]*models.User, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	var users []models.User
	if err := d.db.WithContext(ctx).Where("id IN ?", userIDs).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to get users: %w", err)
	}
	for i := range users {
		out[users[i].ID] = &users[i]
	}
	return out, nil
}

// GroupMembers returns the user ids in a group
func (d *DB) GroupMembers(ctx context.Context, groupID uint64) ([]uint64, error) {
	var ids []uint64
	err := d.db.WithContext(ctx).Model(&models.GroupMember{}).
		Where("group_id = ?", groupID).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}
	return ids, nil
}
