package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/elektrorate/calendario-taller-jesus/internal/matching"
	"github.com/elektrorate/calendario-taller-jesus/internal/persistence"
)

// ValidationError is returned before any store call when the input is malformed.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil || len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, ", ")
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	if _, ok := v.FieldErrors[field]; ok {
		return
	}
	v.FieldErrors[field] = message
}

// NormalizeSlots validates slots and returns them with canonical clock times
// and intents. Field names are indexed, e.g. "slots[2].start_time".
func NormalizeSlots(slots []persistence.AssignedSlot) ([]persistence.AssignedSlot, error) {
	vErr := &ValidationError{}
	out := make([]persistence.AssignedSlot, 0, len(slots))
	for i, slot := range slots {
		prefix := fmt.Sprintf("slots[%d]", i)
		normalized, ok := normalizeSlot(slot, prefix, vErr)
		if ok {
			out = append(out, normalized)
		}
	}
	if vErr.HasErrors() {
		return nil, vErr
	}
	return out, nil
}

func normalizeSlot(slot persistence.AssignedSlot, prefix string, vErr *ValidationError) (persistence.AssignedSlot, bool) {
	ok := true
	if _, err := matching.ParseDate(strings.TrimSpace(slot.Date)); err != nil {
		vErr.add(prefix+".date", "date must be YYYY-MM-DD")
		ok = false
	}
	start, err := matching.NormalizeClock(strings.TrimSpace(slot.StartTime))
	if err != nil {
		vErr.add(prefix+".start_time", "start time must be HH:MM")
		ok = false
	}
	end, err := matching.NormalizeClock(strings.TrimSpace(slot.EndTime))
	if err != nil {
		vErr.add(prefix+".end_time", "end time must be HH:MM")
		ok = false
	}
	if ok && start >= end {
		vErr.add(prefix+".time", "start must be before end")
		ok = false
	}
	if !ok {
		return persistence.AssignedSlot{}, false
	}
	return persistence.AssignedSlot{
		Date:      strings.TrimSpace(slot.Date),
		StartTime: start,
		EndTime:   end,
		Intent:    matching.IntentAttendance(slot.Intent),
	}, true
}

// canonicalSlots normalizes stored slots leniently: entries that do not parse
// keep their raw values so they still diff against themselves.
func canonicalSlots(slots []persistence.AssignedSlot) []persistence.AssignedSlot {
	out := make([]persistence.AssignedSlot, 0, len(slots))
	for _, slot := range slots {
		if start, err := matching.NormalizeClock(strings.TrimSpace(slot.StartTime)); err == nil {
			slot.StartTime = start
		}
		if end, err := matching.NormalizeClock(strings.TrimSpace(slot.EndTime)); err == nil {
			slot.EndTime = end
		}
		slot.Date = strings.TrimSpace(slot.Date)
		slot.Intent = matching.IntentAttendance(slot.Intent)
		out = append(out, slot)
	}
	return out
}

func validateAttendanceMap(attendance map[string]persistence.Attendance, vErr *ValidationError) map[string]persistence.Attendance {
	if attendance == nil {
		return nil
	}
	out := make(map[string]persistence.Attendance, len(attendance))
	for name, status := range attendance {
		normalized := matching.NormalizeName(name)
		if normalized == "" {
			vErr.add("attendance", "attendance names must not be blank")
			continue
		}
		if status == "" {
			status = persistence.AttendancePending
		}
		if !status.Valid() {
			vErr.add("attendance", fmt.Sprintf("invalid attendance %q for %s", status, normalized))
			continue
		}
		out[normalized] = status
	}
	return out
}
