package application

import (
	"github.com/elektrorate/calendario-taller-jesus/internal/persistence"
	"github.com/elektrorate/calendario-taller-jesus/internal/reconcile"
)

// EnrolleeInput captures caller provided enrollee fields.
type EnrolleeInput struct {
	FirstName        string
	LastName         string
	PreferredKind    persistence.SessionKind
	ClassesRemaining int
	// Slots is the full slot list. On update a nil slice keeps the stored
	// slots and an empty non-nil slice removes them all.
	Slots []persistence.AssignedSlot
}

// EnrolleeResult is an enrollee after a mutation together with the
// reconciliation report of the run it triggered.
type EnrolleeResult struct {
	Enrollee persistence.Enrollee
	Report   reconcile.Report
}

// SessionInput captures caller provided fields for a manual session.
type SessionInput struct {
	Date          string
	StartTime     string
	EndTime       string
	Kind          persistence.SessionKind
	TeacherID     *string
	WorkshopName  *string
	PrivateReason *string
	Students      []string
	Attendance    map[string]persistence.Attendance
}

// SessionPatch lists session fields to change. Nil fields are left alone.
type SessionPatch struct {
	Date          *string
	StartTime     *string
	EndTime       *string
	Kind          *persistence.SessionKind
	TeacherID     *string
	WorkshopName  *string
	PrivateReason *string
	// Students replaces the roster when non-nil; an empty slice clears it.
	Students []string
	// Attendance is applied with Students, or on its own to the current
	// roster when Students is nil.
	Attendance map[string]persistence.Attendance
}

// CalendarEntry is a session with its roster and attendance derived from
// the link table.
type CalendarEntry struct {
	Session    persistence.Session
	Roster     []string
	Attendance map[string]persistence.Attendance
}

// SessionResult is a session view after a mutation.
type SessionResult struct {
	CalendarEntry
	Report reconcile.Report
}

// CalendarFilter bounds a calendar snapshot by inclusive date range.
type CalendarFilter struct {
	DateFrom string
	DateTo   string
}

// Calendar is a consistent read of enrollees and sessions.
type Calendar struct {
	Enrollees []persistence.Enrollee
	Entries   []CalendarEntry
}

func newCalendarEntry(session persistence.Session, links []persistence.Link) CalendarEntry {
	return CalendarEntry{
		Session:    session,
		Roster:     reconcile.Roster(links),
		Attendance: reconcile.AttendanceMap(links),
	}
}
