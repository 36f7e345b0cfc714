package matching

import (
	"fmt"
	"strings"

	"github.com/elektrorate/calendario-taller-jesus/internal/persistence"
)

// SlotKey identifies an assigned slot structurally.
type SlotKey struct {
	Date      string
	StartTime string
	EndTime   string
}

// String renders the key as date|start|end.
func (k SlotKey) String() string {
	return k.Date + "|" + k.StartTime + "|" + k.EndTime
}

// KeyOf returns the slot key of slot.
func KeyOf(slot persistence.AssignedSlot) SlotKey {
	return SlotKey{Date: slot.Date, StartTime: slot.StartTime, EndTime: slot.EndTime}
}

// SlotDiff is the result of comparing two slot lists by slot key.
type SlotDiff struct {
	Removed  []persistence.AssignedSlot
	Added    []persistence.AssignedSlot
	Retained []persistence.AssignedSlot
}

// DiffSlots computes previous−next, next−previous and the intersection
// (taken from next). Duplicate keys within a list collapse to their last entry.
func DiffSlots(previous, next []persistence.AssignedSlot) SlotDiff {
	prev := indexSlots(previous)
	nxt := indexSlots(next)

	var diff SlotDiff
	for _, slot := range dedupeSlots(previous) {
		if _, ok := nxt[KeyOf(slot)]; !ok {
			diff.Removed = append(diff.Removed, slot)
		}
	}
	for _, slot := range dedupeSlots(next) {
		if _, ok := prev[KeyOf(slot)]; ok {
			diff.Retained = append(diff.Retained, slot)
			continue
		}
		diff.Added = append(diff.Added, slot)
	}
	return diff
}

func indexSlots(slots []persistence.AssignedSlot) map[SlotKey]persistence.AssignedSlot {
	out := make(map[SlotKey]persistence.AssignedSlot, len(slots))
	for _, slot := range slots {
		out[KeyOf(slot)] = slot
	}
	return out
}

func dedupeSlots(slots []persistence.AssignedSlot) []persistence.AssignedSlot {
	last := indexSlots(slots)
	seen := make(map[SlotKey]struct{}, len(slots))
	out := make([]persistence.AssignedSlot, 0, len(last))
	for _, slot := range slots {
		key := KeyOf(slot)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, last[key])
	}
	return out
}

// Policy selects which fields identify a session during find-or-create.
type Policy string

const (
	// PolicyDateStart matches sessions on (date, startTime). Two slots with the
	// same start but different end times share one session.
	PolicyDateStart Policy = "date_start"
	// PolicyFull matches sessions on (date, startTime, endTime, kind).
	PolicyFull Policy = "full"
)

// ParsePolicy parses a configured policy name.
func ParsePolicy(value string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(value))) {
	case "", PolicyDateStart:
		return PolicyDateStart, nil
	case PolicyFull:
		return PolicyFull, nil
	}
	return "", fmt.Errorf("unknown session match policy %q", value)
}

// SessionKey is the session matching key under a policy. Fields the policy
// ignores are left empty.
type SessionKey struct {
	Date      string
	StartTime string
	EndTime   string
	Kind      persistence.SessionKind
}

// ForSlot returns the key a slot of the given kind resolves to.
func (p Policy) ForSlot(slot persistence.AssignedSlot, kind persistence.SessionKind) SessionKey {
	key := SessionKey{Date: slot.Date, StartTime: slot.StartTime}
	if p == PolicyFull {
		key.EndTime = slot.EndTime
		key.Kind = kind
	}
	return key
}

// ForSession returns the key of an existing session.
func (p Policy) ForSession(session persistence.Session) SessionKey {
	key := SessionKey{Date: session.Date, StartTime: session.StartTime}
	if p == PolicyFull {
		key.EndTime = session.EndTime
		key.Kind = session.Kind
	}
	return key
}

// Filter converts a key into a repository filter.
func (k SessionKey) Filter() persistence.SessionFilter {
	return persistence.SessionFilter{
		Date:      k.Date,
		StartTime: k.StartTime,
		EndTime:   k.EndTime,
		Kind:      k.Kind,
	}
}

// InferKind returns the session kind for an enrollee preference, falling back
// to def when the preference is empty, unknown or a holiday.
func InferKind(preferred, def persistence.SessionKind) persistence.SessionKind {
	kind := persistence.SessionKind(strings.ToLower(strings.TrimSpace(string(preferred))))
	if kind.Valid() && kind != persistence.KindFeriado {
		return kind
	}
	if def.Valid() {
		return def
	}
	return persistence.KindMesa
}

// IntentAttendance maps a slot intent to link attendance: present and absent
// pass through, anything else becomes pending.
func IntentAttendance(intent persistence.Attendance) persistence.Attendance {
	switch intent {
	case persistence.AttendancePresent, persistence.AttendanceAbsent:
		return intent
	}
	return persistence.AttendancePending
}
