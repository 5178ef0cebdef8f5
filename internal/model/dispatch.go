package model

import "time"

// DispatchStatus is the lifecycle state of a dispatch record.
type DispatchStatus string

const (
	DispatchPending DispatchStatus = "pending"
	DispatchSent    DispatchStatus = "sent"
	DispatchFailed  DispatchStatus = "failed"
)

// DayLayout formats the calendar day used in the dispatch uniqueness key.
const DayLayout = "2006-01-02"

// DispatchRecord is one claimed delivery attempt for one schedule on one calendar day.
// (schedule_id, dispatch_day) is unique.
type DispatchRecord struct {
	ID           string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	ScheduleID   string         `gorm:"type:varchar(36);not null;uniqueIndex:idx_dispatch_schedule_day,priority:1" json:"schedule_id"`
	DispatchDay  string         `gorm:"size:10;not null;uniqueIndex:idx_dispatch_schedule_day,priority:2;index" json:"dispatch_day"`
	Owner        Owner          `gorm:"embedded" json:"owner"`
	ScheduledFor time.Time      `gorm:"not null" json:"scheduled_for"`
	Status       DispatchStatus `gorm:"size:16;not null" json:"status"`
	SentCount    int            `gorm:"not null" json:"sent_count"`
	Error        string         `gorm:"type:text" json:"error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// DispatchDayOf returns the calendar day key of t in loc.
func DispatchDayOf(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DayLayout)
}
