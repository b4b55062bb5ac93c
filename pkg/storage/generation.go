package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Status is the lifecycle stage of a generation. Transitions are linear,
// except that Failed is reachable from any non-terminal status.
type Status string

const (
	Pending         Status = "PENDING"
	GeneratingAudio Status = "GENERATING_AUDIO"
	GeneratingImage Status = "GENERATING_IMAGE"
	GeneratingVideo Status = "GENERATING_VIDEO"
	Completed       Status = "COMPLETED"
	Failed          Status = "FAILED"
)

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == Completed || s == Failed
}

type Generation struct {
	ID        string `gorm:"primarykey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	UserID string `gorm:"index;not null;default:''"`
	User   *User  `gorm:"foreignKey:UserID"`

	Description string `gorm:"not null;default:''"`
	Prompt      string `gorm:"not null;default:''"`

	// ExternalID is the synthesis task id, set once the job is accepted.
	ExternalID string `gorm:"not null;default:''"`

	Audio string `gorm:"not null;default:''"`
	Image string `gorm:"not null;default:''"`
	Video string `gorm:"not null;default:''"`

	// UserImage marks that the image was supplied by the requester instead of
	// being synthesized.
	UserImage bool

	Status Status `gorm:"index;not null;default:'PENDING'"`
	Error  string `gorm:"not null;default:''"`
}

func (s *Store) GetGeneration(ctx context.Context, id string) (*Generation, error) {
	var v Generation
	q := s.db.Preload("User")
	if err := q.First(&v, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: failed to get Generation %s: %w", id, err)
	}
	return &v, nil
}

func (s *Store) SetGeneration(ctx context.Context, v *Generation) error {
	if err := s.db.Save(v).Error; err != nil {
		return fmt.Errorf("storage: failed to set Generation %s: %w", v.ID, err)
	}
	return nil
}

func (s *Store) ListGenerations(ctx context.Context, page, size int, orderBy string, filter ...Filter) ([]*Generation, error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * size
	vs := []*Generation{}

	q := s.db.Preload("User")
	q = q.Offset(offset).Limit(size)
	for _, f := range filter {
		q = q.Where(f.Query, f.Args...)
	}
	if orderBy != "" {
		q = q.Order(orderBy)
	}
	if err := q.Find(&vs).Error; err != nil {
		return nil, fmt.Errorf("storage: failed to list Generations: %w", err)
	}
	return vs, nil
}
