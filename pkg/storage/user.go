package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type User struct {
	ID        string `gorm:"primarykey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	// ChatID is the messaging chat used to notify the user.
	ChatID    int64  `gorm:"uniqueIndex"`
	Username  string `gorm:"not null;default:''"`
	FirstName string `gorm:"not null;default:''"`
	LastName  string `gorm:"not null;default:''"`
	Premium   bool

	FreeGenerations int `gorm:"not null;default:0"`
}

func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	var v User
	if err := s.db.First(&v, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: failed to get user %s: %w", id, err)
	}
	return &v, nil
}

func (s *Store) GetUserByChat(ctx context.Context, chatID int64) (*User, error) {
	var v User
	if err := s.db.First(&v, "chat_id = ?", chatID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: failed to get user by chat %d: %w", chatID, err)
	}
	return &v, nil
}

func (s *Store) SetUser(ctx context.Context, v *User) error {
	if err := s.db.Save(v).Error; err != nil {
		return fmt.Errorf("storage: failed to set user %s: %w", v.ID, err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context, page, size int) ([]*User, error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * size
	vs := []*User{}

	q := s.db.Offset(offset).Limit(size)
	if err := q.Find(&vs).Error; err != nil {
		return nil, fmt.Errorf("storage: failed to list users: %w", err)
	}
	return vs, nil
}
