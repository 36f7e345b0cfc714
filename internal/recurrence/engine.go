package recurrence

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/elektrorate/calendario-taller-jesus/internal/matching"
	"github.com/elektrorate/calendario-taller-jesus/internal/persistence"
)

// Rule describes a weekly class pattern.
type Rule struct {
	StartsOn  string
	Weekdays  []time.Weekday
	StartTime string
	EndTime   string
	// Count is the number of slots to generate.
	Count int
}

// Engine expands weekly rules into assigned slots.
type Engine struct {
	// maxWeeks bounds generation for rules whose weekdays never match.
	maxWeeks int
}

// NewEngine constructs an Engine.
func NewEngine() *Engine {
	return &Engine{maxWeeks: 520}
}

// ErrInvalidCount indicates a non-positive slot count.
var ErrInvalidCount = errors.New("recurrence: count must be positive")

// ErrNoWeekdays indicates a weekly rule without weekdays.
var ErrNoWeekdays = errors.New("recurrence: weekly rule requires weekdays")

// ErrInvalidDuration indicates the end time is not after the start time.
var ErrInvalidDuration = errors.New("recurrence: end time must be after start time")

// ErrNoPattern indicates there are no slots to continue from.
var ErrNoPattern = errors.New("recurrence: no slots to continue")

// Generate produces rule.Count slots on the selected weekdays, starting on
// StartsOn inclusive. Generated slots carry pending intent.
func (e *Engine) Generate(rule Rule) ([]persistence.AssignedSlot, error) {
	if rule.Count <= 0 {
		return nil, ErrInvalidCount
	}
	if len(rule.Weekdays) == 0 {
		return nil, ErrNoWeekdays
	}
	start, err := matching.ParseDate(rule.StartsOn)
	if err != nil {
		return nil, fmt.Errorf("recurrence: %w", err)
	}
	startTime, endTime, err := clockRange(rule.StartTime, rule.EndTime)
	if err != nil {
		return nil, err
	}

	weekdaySet := make(map[time.Weekday]struct{}, len(rule.Weekdays))
	for _, day := range rule.Weekdays {
		weekdaySet[day] = struct{}{}
	}

	slots := make([]persistence.AssignedSlot, 0, rule.Count)
	limit := start.AddDate(0, 0, 7*e.maxWeeks)
	for current := start; len(slots) < rule.Count && current.Before(limit); current = current.AddDate(0, 0, 1) {
		if _, ok := weekdaySet[current.Weekday()]; !ok {
			continue
		}
		slots = append(slots, persistence.AssignedSlot{
			Date:      current.Format(matching.DateLayout),
			StartTime: startTime,
			EndTime:   endTime,
			Intent:    persistence.AttendancePending,
		})
	}
	return slots, nil
}

// Continue returns the next count slots after the latest slot in slots. The
// pattern repeated is the last week of slots: every slot dated within seven
// days of the latest one, shifted forward a week at a time.
func (e *Engine) Continue(slots []persistence.AssignedSlot, count int) ([]persistence.AssignedSlot, error) {
	if count <= 0 {
		return nil, ErrInvalidCount
	}
	pattern, err := lastWeek(slots)
	if err != nil {
		return nil, err
	}

	out := make([]persistence.AssignedSlot, 0, count)
	for week := 1; len(out) < count; week++ {
		for _, entry := range pattern {
			if len(out) == count {
				break
			}
			out = append(out, persistence.AssignedSlot{
				Date:      entry.date.AddDate(0, 0, 7*week).Format(matching.DateLayout),
				StartTime: entry.startTime,
				EndTime:   entry.endTime,
				Intent:    persistence.AttendancePending,
			})
		}
	}
	return out, nil
}

type patternEntry struct {
	date      time.Time
	startTime string
	endTime   string
}

func lastWeek(slots []persistence.AssignedSlot) ([]patternEntry, error) {
	entries := make([]patternEntry, 0, len(slots))
	for _, slot := range slots {
		date, err := matching.ParseDate(slot.Date)
		if err != nil {
			return nil, fmt.Errorf("recurrence: %w", err)
		}
		startTime, endTime, err := clockRange(slot.StartTime, slot.EndTime)
		if err != nil {
			return nil, err
		}
		entries = append(entries, patternEntry{date: date, startTime: startTime, endTime: endTime})
	}
	if len(entries) == 0 {
		return nil, ErrNoPattern
	}

	slices.SortFunc(entries, func(a, b patternEntry) int {
		if c := a.date.Compare(b.date); c != 0 {
			return c
		}
		return cmp.Compare(a.startTime, b.startTime)
	})
	latest := entries[len(entries)-1].date
	cutoff := latest.AddDate(0, 0, -7)

	pattern := entries[:0]
	for _, entry := range entries {
		if !entry.date.After(cutoff) {
			continue
		}
		if n := len(pattern); n > 0 && pattern[n-1] == entry {
			continue
		}
		pattern = append(pattern, entry)
	}
	return pattern, nil
}

func clockRange(start, end string) (string, string, error) {
	startTime, err := matching.NormalizeClock(start)
	if err != nil {
		return "", "", fmt.Errorf("recurrence: %w", err)
	}
	endTime, err := matching.NormalizeClock(end)
	if err != nil {
		return "", "", fmt.Errorf("recurrence: %w", err)
	}
	if endTime <= startTime {
		return "", "", ErrInvalidDuration
	}
	return startTime, endTime, nil
}

// ParseWeekday accepts English and Spanish day names and their three letter
// abbreviations.
func ParseWeekday(value string) (time.Weekday, error) {
	day, ok := weekdayNames[matching.NormalizeName(value)]
	if !ok {
		return 0, fmt.Errorf("recurrence: unknown weekday %q", value)
	}
	return day, nil
}

var weekdayNames = map[string]time.Weekday{
	"SUNDAY":    time.Sunday,
	"SUN":       time.Sunday,
	"DOMINGO":   time.Sunday,
	"DOM":       time.Sunday,
	"MONDAY":    time.Monday,
	"MON":       time.Monday,
	"LUNES":     time.Monday,
	"LUN":       time.Monday,
	"TUESDAY":   time.Tuesday,
	"TUE":       time.Tuesday,
	"MARTES":    time.Tuesday,
	"MAR":       time.Tuesday,
	"WEDNESDAY": time.Wednesday,
	"WED":       time.Wednesday,
	"MIÉRCOLES": time.Wednesday,
	"MIERCOLES": time.Wednesday,
	"MIÉ":       time.Wednesday,
	"MIE":       time.Wednesday,
	"THURSDAY":  time.Thursday,
	"THU":       time.Thursday,
	"JUEVES":    time.Thursday,
	"JUE":       time.Thursday,
	"FRIDAY":    time.Friday,
	"FRI":       time.Friday,
	"VIERNES":   time.Friday,
	"VIE":       time.Friday,
	"SATURDAY":  time.Saturday,
	"SAT":       time.Saturday,
	"SÁBADO":    time.Saturday,
	"SABADO":    time.Saturday,
	"SÁB":       time.Saturday,
	"SAB":       time.Saturday,
}
