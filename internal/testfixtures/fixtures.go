package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/elektrorate/calendario-taller-jesus/internal/persistence"
)

var (
	enrolleeCounter uint64
	sessionCounter  uint64
)

var referenceTime = time.Date(2026, time.February, 1, 9, 0, 0, 0, time.UTC)

// ReferenceTime returns the baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// Slot builds an assigned slot with pending intent.
func Slot(date, start, end string) persistence.AssignedSlot {
	return persistence.AssignedSlot{Date: date, StartTime: start, EndTime: end, Intent: persistence.AttendancePending}
}

// SlotWithIntent builds an assigned slot with the given intent.
func SlotWithIntent(date, start, end string, intent persistence.Attendance) persistence.AssignedSlot {
	slot := Slot(date, start, end)
	slot.Intent = intent
	return slot
}

// ----------------------------- Enrollee fixtures -----------------------------

// EnrolleeOption configures a generated enrollee.
type EnrolleeOption func(*persistence.Enrollee)

// NewEnrollee returns a deterministic enrollee with optional overrides.
func NewEnrollee(opts ...EnrolleeOption) persistence.Enrollee {
	idx := atomic.AddUint64(&enrolleeCounter, 1)
	created := referenceTime.Add(time.Duration(idx) * time.Minute)
	enrollee := persistence.Enrollee{
		ID:               fmt.Sprintf("enrollee-%03d", idx),
		FirstName:        "Alumno",
		LastName:         fmt.Sprintf("%03d", idx),
		PreferredKind:    persistence.KindMesa,
		ClassesRemaining: 4,
		CreatedAt:        created,
		UpdatedAt:        created,
	}
	for _, opt := range opts {
		opt(&enrollee)
	}
	return enrollee
}

// WithEnrolleeID overrides the generated ID.
func WithEnrolleeID(id string) EnrolleeOption {
	return func(e *persistence.Enrollee) {
		e.ID = id
	}
}

// WithName sets first and last name.
func WithName(first, last string) EnrolleeOption {
	return func(e *persistence.Enrollee) {
		e.FirstName = first
		e.LastName = last
	}
}

// WithPreferredKind sets the preferred class kind.
func WithPreferredKind(kind persistence.SessionKind) EnrolleeOption {
	return func(e *persistence.Enrollee) {
		e.PreferredKind = kind
	}
}

// WithSlots sets the stored slot list.
func WithSlots(slots ...persistence.AssignedSlot) EnrolleeOption {
	return func(e *persistence.Enrollee) {
		e.Slots = slots
	}
}

// WithClassesRemaining sets the class balance.
func WithClassesRemaining(n int) EnrolleeOption {
	return func(e *persistence.Enrollee) {
		e.ClassesRemaining = n
	}
}

// ----------------------------- Session fixtures -----------------------------

// SessionOption configures a generated session.
type SessionOption func(*persistence.Session)

// NewSession returns a deterministic manual mesa session on 2026-02-10.
func NewSession(opts ...SessionOption) persistence.Session {
	idx := atomic.AddUint64(&sessionCounter, 1)
	created := referenceTime.Add(time.Duration(idx) * time.Minute)
	session := persistence.Session{
		ID:         fmt.Sprintf("fixture-session-%03d", idx),
		Date:       "2026-02-10",
		StartTime:  "10:00",
		EndTime:    "12:00",
		Kind:       persistence.KindMesa,
		Provenance: persistence.ProvenanceManual,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
	for _, opt := range opts {
		opt(&session)
	}
	return session
}

// WithSessionID overrides the generated ID.
func WithSessionID(id string) SessionOption {
	return func(s *persistence.Session) {
		s.ID = id
	}
}

// WithSessionSlot sets date, start and end.
func WithSessionSlot(date, start, end string) SessionOption {
	return func(s *persistence.Session) {
		s.Date = date
		s.StartTime = start
		s.EndTime = end
	}
}

// WithSessionKind sets the session kind.
func WithSessionKind(kind persistence.SessionKind) SessionOption {
	return func(s *persistence.Session) {
		s.Kind = kind
	}
}

// WithTeacher sets the assigned teacher.
func WithTeacher(id string) SessionOption {
	return func(s *persistence.Session) {
		s.TeacherID = &id
	}
}
