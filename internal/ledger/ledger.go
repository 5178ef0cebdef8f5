// Package ledger records dispatch attempts. The unique (schedule_id,
// dispatch_day) key doubles as the cross-process claim: whoever inserts the
// row for a schedule and day owns that day's delivery.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pathakanu/pushminder/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrAlreadyFinalized is returned when finalizing a record that is no longer pending.
	ErrAlreadyFinalized = errors.New("dispatch already finalized")
	// ErrNotFound is returned when no dispatch record matches.
	ErrNotFound = errors.New("dispatch not found")
)

// ClaimResult reports whether this caller won the claim.
type ClaimResult struct {
	Claimed    bool
	DispatchID string
}

// Ledger persists DispatchRecord rows.
type Ledger struct {
	db       *gorm.DB
	location *time.Location
}

// New returns a ledger whose calendar days are computed in loc.
func New(db *gorm.DB, loc *time.Location) *Ledger {
	if loc == nil {
		loc = time.Local
	}
	return &Ledger{db: db, location: loc}
}

// Claim inserts a pending record for schedule on the day of scheduledFor.
// Losing to a concurrent caller is reported as Claimed false, not as an error.
func (l *Ledger) Claim(ctx context.Context, schedule *model.RecurringSchedule, scheduledFor time.Time) (ClaimResult, error) {
	record := model.DispatchRecord{
		ID:           uuid.NewString(),
		ScheduleID:   schedule.ID,
		DispatchDay:  model.DispatchDayOf(scheduledFor, l.location),
		Owner:        schedule.Owner,
		ScheduledFor: scheduledFor.UTC(),
		Status:       model.DispatchPending,
	}

	res := l.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&record)
	if res.Error != nil {
		return ClaimResult{}, fmt.Errorf("claim schedule %s: %w", schedule.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ClaimResult{}, nil
	}
	return ClaimResult{Claimed: true, DispatchID: record.ID}, nil
}

// Finalize records the terminal outcome of a pending dispatch. It succeeds at most once per record.
func (l *Ledger) Finalize(ctx context.Context, dispatchID string, sentCount int, status model.DispatchStatus, errSummary string) error {
	if status != model.DispatchSent && status != model.DispatchFailed {
		return fmt.Errorf("finalize %s: status %q is not terminal", dispatchID, status)
	}

	res := l.db.WithContext(ctx).Model(&model.DispatchRecord{}).
		Where("id = ? AND status = ?", dispatchID, model.DispatchPending).
		Updates(map[string]interface{}{
			"status":     status,
			"sent_count": sentCount,
			"error":      errSummary,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("finalize %s: %w", dispatchID, res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := l.db.WithContext(ctx).Model(&model.DispatchRecord{}).Where("id = ?", dispatchID).Count(&count).Error; err != nil {
			return fmt.Errorf("finalize %s: %w", dispatchID, err)
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrAlreadyFinalized
	}
	return nil
}

// ClaimedOn returns the ids of schedules that already have a record for the
// calendar day containing day, limited to scope when it is non-nil.
func (l *Ledger) ClaimedOn(ctx context.Context, day time.Time, scope *model.Scope) (map[string]struct{}, error) {
	query := l.db.WithContext(ctx).Model(&model.DispatchRecord{}).
		Where("dispatch_day = ?", model.DispatchDayOf(day, l.location))
	if scope != nil {
		query = query.Where("tenant_id = ? AND user_id = ?", scope.Owner.TenantID, scope.Owner.UserID)
	}

	var ids []string
	if err := query.Pluck("schedule_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("load claimed schedules: %w", err)
	}
	claimed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		claimed[id] = struct{}{}
	}
	return claimed, nil
}

// Get returns a dispatch record by id.
func (l *Ledger) Get(ctx context.Context, id string) (*model.DispatchRecord, error) {
	var record model.DispatchRecord
	err := l.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Latest returns the owner's most recently due dispatch that is in flight or
// reached at least one browser. Service workers call it right after a push
// arrives, which can be before the dispatch is finalized.
func (l *Ledger) Latest(ctx context.Context, owner model.Owner) (*model.DispatchRecord, error) {
	var record model.DispatchRecord
	err := l.db.WithContext(ctx).
		Where("tenant_id = ? AND user_id = ? AND status IN ?", owner.TenantID, owner.UserID,
			[]model.DispatchStatus{model.DispatchPending, model.DispatchSent}).
		Order("scheduled_for DESC").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ForSchedule lists a schedule's records, newest first.
func (l *Ledger) ForSchedule(ctx context.Context, scheduleID string) ([]model.DispatchRecord, error) {
	var records []model.DispatchRecord
	err := l.db.WithContext(ctx).Where("schedule_id = ?", scheduleID).Order("scheduled_for DESC").Find(&records).Error
	return records, err
}
