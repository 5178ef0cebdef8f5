// Package schedule reads the recurring reminder schedules maintained by the intake layer.
package schedule

import (
	"context"
	"errors"

	"github.com/pathakanu/pushminder/internal/model"
	"gorm.io/gorm"
)

// ErrNotFound is returned when no schedule matches.
var ErrNotFound = errors.New("schedule not found")

// Store gives read access to RecurringSchedule rows.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Active lists active schedules ordered by time of day, limited to scope when it is non-nil.
func (s *Store) Active(ctx context.Context, scope *model.Scope) ([]model.RecurringSchedule, error) {
	query := s.db.WithContext(ctx).Where("active = ?", true)
	if scope != nil {
		query = query.Where("tenant_id = ? AND user_id = ?", scope.Owner.TenantID, scope.Owner.UserID)
	}

	var schedules []model.RecurringSchedule
	if err := query.Order("time_of_day ASC, id ASC").Find(&schedules).Error; err != nil {
		return nil, err
	}
	return schedules, nil
}

// Get returns a schedule by id regardless of its active flag.
func (s *Store) Get(ctx context.Context, id string) (*model.RecurringSchedule, error) {
	var sched model.RecurringSchedule
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&sched).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sched, nil
}

// Save creates or replaces a schedule. The reminder core never calls it; it
// exists for the intake layer and for seeding.
func (s *Store) Save(ctx context.Context, sched *model.RecurringSchedule) error {
	return s.db.WithContext(ctx).Save(sched).Error
}
