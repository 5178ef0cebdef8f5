package model

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RecurringSchedule is a user's standing daily medicine reminder.
// Rows are owned by the intake CRUD layer; the reminder core only reads them.
type RecurringSchedule struct {
	ID           string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Owner        Owner     `gorm:"embedded" json:"owner"`
	MedicineID   string    `gorm:"size:64" json:"medicine_id"`
	MedicineName string    `gorm:"size:255" json:"medicine_name"`
	DosageAmount float64   `json:"dosage_amount"`
	DosageUnit   string    `gorm:"size:32" json:"dosage_unit"`
	TimeOfDay    TimeOfDay `gorm:"type:varchar(8);not null" json:"time_of_day"`
	Message      string    `gorm:"type:text" json:"message,omitempty"`
	Active       bool      `gorm:"not null;index" json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ScheduleInput carries the fields needed to build a schedule.
type ScheduleInput struct {
	Owner        Owner
	MedicineID   string
	MedicineName string
	DosageAmount float64
	DosageUnit   string
	TimeOfDay    string
	Message      string
}

// ErrInvalidOwner is returned when a record has no tenant or user.
var ErrInvalidOwner = errors.New("owner requires tenant and user")

// NewRecurringSchedule validates input and returns an active schedule.
func NewRecurringSchedule(in ScheduleInput) (*RecurringSchedule, error) {
	if !in.Owner.Valid() {
		return nil, ErrInvalidOwner
	}
	tod, err := ParseTimeOfDay(in.TimeOfDay)
	if err != nil {
		return nil, err
	}
	return &RecurringSchedule{
		ID:           uuid.NewString(),
		Owner:        in.Owner,
		MedicineID:   strings.TrimSpace(in.MedicineID),
		MedicineName: strings.TrimSpace(in.MedicineName),
		DosageAmount: in.DosageAmount,
		DosageUnit:   strings.TrimSpace(in.DosageUnit),
		TimeOfDay:    tod,
		Message:      strings.TrimSpace(in.Message),
		Active:       true,
	}, nil
}

// OccurrenceOn returns when the schedule fires on the calendar day containing day.
func (s *RecurringSchedule) OccurrenceOn(day time.Time, loc *time.Location) time.Time {
	return s.TimeOfDay.On(day, loc)
}

func (s *RecurringSchedule) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}
