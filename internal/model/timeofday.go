package model

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidTimeOfDay is returned when a value is not a 24-hour HH:MM[:SS] clock time.
var ErrInvalidTimeOfDay = errors.New("invalid time of day")

// TimeOfDay is a wall-clock time without a date, stored as seconds since midnight.
type TimeOfDay struct {
	seconds int
}

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS" in 24-hour form.
func ParseTimeOfDay(value string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, value)
	}

	limits := []int{23, 59, 59}
	fields := [3]int{}
	for i, part := range parts {
		if len(part) != 2 || !isDigit(part[0]) || !isDigit(part[1]) {
			return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, value)
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > limits[i] {
			return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, value)
		}
		fields[i] = n
	}
	return TimeOfDay{seconds: fields[0]*3600 + fields[1]*60 + fields[2]}, nil
}

func isDigit(c byte) bool {
	return '0' <= c && c <= '9'
}

// MustTimeOfDay is ParseTimeOfDay for constants and tests.
func MustTimeOfDay(value string) TimeOfDay {
	t, err := ParseTimeOfDay(value)
	if err != nil {
		panic(err)
	}
	return t
}

// Hour, Minute and Second return the clock components.
func (t TimeOfDay) Hour() int   { return t.seconds / 3600 }
func (t TimeOfDay) Minute() int { return t.seconds / 60 % 60 }
func (t TimeOfDay) Second() int { return t.seconds % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour(), t.Minute(), t.Second())
}

// On returns the instant this time of day occurs on the calendar day of day, in loc.
func (t TimeOfDay) On(day time.Time, loc *time.Location) time.Time {
	local := day.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
}

// Value stores the time as "HH:MM:SS".
func (t TimeOfDay) Value() (driver.Value, error) {
	return t.String(), nil
}

func (t *TimeOfDay) Scan(value interface{}) error {
	var raw string
	switch v := value.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	case time.Time:
		raw = v.Format("15:04:05")
	default:
		return fmt.Errorf("failed to scan TimeOfDay: %v", value)
	}
	parsed, err := ParseTimeOfDay(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(text []byte) error {
	parsed, err := ParseTimeOfDay(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
