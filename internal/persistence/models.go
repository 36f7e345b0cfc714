package persistence

import (
	"slices"
	"time"
)

// Attendance is the per-link attendance state.
type Attendance string

const (
	// AttendancePending means no attendance signal has been recorded.
	AttendancePending Attendance = "pending"
	// AttendancePresent marks the enrollee as attending.
	AttendancePresent Attendance = "present"
	// AttendanceAbsent marks the enrollee as not attending.
	AttendanceAbsent Attendance = "absent"
)

// Valid reports whether a is one of the known attendance states.
func (a Attendance) Valid() bool {
	switch a {
	case AttendancePending, AttendancePresent, AttendanceAbsent:
		return true
	}
	return false
}

// SessionKind classifies a calendar session.
type SessionKind string

const (
	// KindMesa is the hand-building table class and the base kind.
	KindMesa SessionKind = "mesa"
	// KindTorno is the pottery wheel class.
	KindTorno SessionKind = "torno"
	// KindWorkshop is a one-off themed workshop.
	KindWorkshop SessionKind = "workshop"
	// KindPrivada is a private class.
	KindPrivada SessionKind = "privada"
	// KindFeriado marks a holiday; holiday sessions carry no roster.
	KindFeriado SessionKind = "feriado"
)

// Valid reports whether k is one of the known session kinds.
func (k SessionKind) Valid() bool {
	switch k {
	case KindMesa, KindTorno, KindWorkshop, KindPrivada, KindFeriado:
		return true
	}
	return false
}

// Provenance records who created a session.
type Provenance string

const (
	// ProvenanceManual sessions were created by staff from the calendar.
	ProvenanceManual Provenance = "manual"
	// ProvenanceDerived sessions were created implicitly by reconciliation.
	ProvenanceDerived Provenance = "derived"
)

// AssignedSlot is one intended attendance of an enrollee.
type AssignedSlot struct {
	Date      string
	StartTime string
	EndTime   string
	Intent    Attendance
}

// Enrollee is a student enrolled in the workshop.
type Enrollee struct {
	ID               string
	FirstName        string
	LastName         string
	PreferredKind    SessionKind
	ClassesRemaining int
	Slots            []AssignedSlot
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Session is a calendar entry. Its roster lives in the link table.
type Session struct {
	ID            string
	Date          string
	StartTime     string
	EndTime       string
	Kind          SessionKind
	Provenance    Provenance
	TeacherID     *string
	SubstituteID  *string
	CompletedAt   *time.Time
	WorkshopName  *string
	PrivateReason *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Link joins one session and one enrollee.
type Link struct {
	SessionID    string
	EnrolleeID   string
	NameSnapshot string
	Attendance   Attendance
	UpdatedAt    time.Time
}

// CloneEnrollee returns a deep copy of e.
func CloneEnrollee(e Enrollee) Enrollee {
	e.Slots = slices.Clone(e.Slots)
	return e
}

// CloneSession returns a deep copy of s.
func CloneSession(s Session) Session {
	s.TeacherID = cloneString(s.TeacherID)
	s.SubstituteID = cloneString(s.SubstituteID)
	s.WorkshopName = cloneString(s.WorkshopName)
	s.PrivateReason = cloneString(s.PrivateReason)
	if s.CompletedAt != nil {
		completed := *s.CompletedAt
		s.CompletedAt = &completed
	}
	return s
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
