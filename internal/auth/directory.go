package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Directory is the read-only user and role lookup.
type Directory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	RoleExists(ctx context.Context, id uuid.UUID) (bool, error)
}

type gormDirectory struct {
	db *gorm.DB
}

func NewDirectory(db *gorm.DB) Directory {
	return &gormDirectory{db: db}
}

func (d *gormDirectory) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	err := d.db.WithContext(ctx).Preload("Role").First(&u, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (d *gormDirectory) RoleExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var n int64
	err := d.db.WithContext(ctx).Model(&Role{}).Where("id = ?", id).Count(&n).Error
	return n > 0, err
}
