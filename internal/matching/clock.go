package matching

import (
	"fmt"
	"time"
)

const (
	// DateLayout is the calendar date format stored for slots and sessions.
	DateLayout = "2006-01-02"
	// ClockLayout is the wall-clock format stored for start and end times.
	ClockLayout = "15:04"
)

// ParseDate validates a YYYY-MM-DD date.
func ParseDate(value string) (time.Time, error) {
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", value)
	}
	return t, nil
}

// NormalizeClock parses an H:MM or HH:MM time and returns it as HH:MM.
func NormalizeClock(value string) (string, error) {
	t, err := time.Parse(ClockLayout, value)
	if err != nil {
		return "", fmt.Errorf("invalid time %q", value)
	}
	return t.Format(ClockLayout), nil
}
