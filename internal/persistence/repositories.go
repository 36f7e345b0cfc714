package persistence

import "context"

// EnrolleeRepository exposes CRUD operations for enrollees and their slot lists.
type EnrolleeRepository interface {
	CreateEnrollee(ctx context.Context, enrollee Enrollee) error
	UpdateEnrollee(ctx context.Context, enrollee Enrollee) error
	GetEnrollee(ctx context.Context, id string) (Enrollee, error)
	ListEnrollees(ctx context.Context) ([]Enrollee, error)
	DeleteEnrollee(ctx context.Context, id string) error
	// ReplaceSlots overwrites the stored slot list of an enrollee.
	ReplaceSlots(ctx context.Context, enrolleeID string, slots []AssignedSlot) error
}

// SessionFilter narrows session queries. Empty fields match everything.
type SessionFilter struct {
	Date      string
	StartTime string
	EndTime   string
	Kind      SessionKind
	DateFrom  string
	DateTo    string
}

// SessionRepository stores calendar sessions.
type SessionRepository interface {
	CreateSession(ctx context.Context, session Session) error
	UpdateSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	FindSessions(ctx context.Context, filter SessionFilter) ([]Session, error)
	DeleteSession(ctx context.Context, id string) error
}

// LinkFilter selects link rows. SessionID and EnrolleeID are exact matches
// when non-empty; EnrolleeIDs restricts to a set.
type LinkFilter struct {
	SessionID   string
	EnrolleeID  string
	EnrolleeIDs []string
}

// LinkRepository stores session/enrollee join rows.
type LinkRepository interface {
	FindLinks(ctx context.Context, filter LinkFilter) ([]Link, error)
	// UpsertLinks inserts or replaces rows keyed on (SessionID, EnrolleeID).
	UpsertLinks(ctx context.Context, links []Link) error
	// DeleteLinks removes matching rows. An empty filter is rejected.
	DeleteLinks(ctx context.Context, filter LinkFilter) error
}
