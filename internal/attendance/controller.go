// Package attendance records per-session attendance and completion.
//
// Attendance lives on the link rows written by the reconcile package. The
// controller only updates existing rows: it never adds an enrollee to a
// roster and never creates or deletes sessions.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/elektrorate/calendario-taller-jesus/internal/logging"
	"github.com/elektrorate/calendario-taller-jesus/internal/matching"
	"github.com/elektrorate/calendario-taller-jesus/internal/persistence"
)

// ErrNotOnRoster is returned when the named enrollee has no link on the session.
var ErrNotOnRoster = errors.New("attendance: enrollee not on session roster")

// ErrInvalidStatus is returned for statuses other than present, absent or pending.
var ErrInvalidStatus = errors.New("attendance: invalid status")

// SessionStore is the slice of the session store the controller needs.
type SessionStore interface {
	GetSession(ctx context.Context, id string) (persistence.Session, error)
	UpdateSession(ctx context.Context, session persistence.Session) error
}

// LinkStore is the slice of the link table the controller needs.
type LinkStore interface {
	FindLinks(ctx context.Context, filter persistence.LinkFilter) ([]persistence.Link, error)
	UpsertLinks(ctx context.Context, links []persistence.Link) error
}

// Options tunes a Controller.
type Options struct {
	Now    func() time.Time
	Logger *slog.Logger
}

// Controller applies attendance and finalization actions.
type Controller struct {
	sessions SessionStore
	links    LinkStore
	now      func() time.Time
	logger   *slog.Logger
}

// Result describes the link after an attendance write.
type Result struct {
	Link persistence.Link
	// Changed is false when the link already held the requested value and
	// nothing was written.
	Changed bool
}

// NewController wires the stores into a Controller.
func NewController(sessions SessionStore, links LinkStore, opts Options) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{sessions: sessions, links: links, now: opts.Now, logger: opts.Logger}
}

func (c *Controller) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	pairs := append([]any{"component", "attendance", "operation", operation}, attrs...)
	return logging.Resolve(ctx, c.logger).With(pairs...)
}

// SetAttendance writes status on the enrollee's link. enrollee is matched by
// enrollee ID first and then by normalized name. Writing the value the link
// already holds is a no-op; resetting is done with ClearAttendance.
func (c *Controller) SetAttendance(ctx context.Context, sessionID, enrollee string, status persistence.Attendance) (Result, error) {
	status = persistence.Attendance(strings.ToLower(strings.TrimSpace(string(status))))
	if !status.Valid() {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return c.write(ctx, "set_attendance", sessionID, enrollee, status)
}

// ClearAttendance resets the enrollee's link to pending.
func (c *Controller) ClearAttendance(ctx context.Context, sessionID, enrollee string) (Result, error) {
	return c.write(ctx, "clear_attendance", sessionID, enrollee, persistence.AttendancePending)
}

// Attendance returns the enrollee's recorded attendance on the session.
func (c *Controller) Attendance(ctx context.Context, sessionID, enrollee string) (persistence.Attendance, error) {
	link, err := c.findLink(ctx, sessionID, enrollee)
	if err != nil {
		return "", err
	}
	if !link.Attendance.Valid() {
		return persistence.AttendancePending, nil
	}
	return link.Attendance, nil
}

func (c *Controller) write(ctx context.Context, operation, sessionID, enrollee string, status persistence.Attendance) (result Result, err error) {
	logger := c.loggerWith(ctx, operation, "session_id", sessionID, "enrollee", enrollee, "status", string(status))
	defer func() {
		if err != nil {
			logger.Warn("attendance write failed", "error", err)
			return
		}
		if result.Changed {
			logger.Info("attendance recorded", "enrollee_id", result.Link.EnrolleeID)
		}
	}()

	link, err := c.findLink(ctx, sessionID, enrollee)
	if err != nil {
		return Result{}, err
	}
	if link.Attendance == status {
		return Result{Link: link}, nil
	}

	link.Attendance = status
	link.UpdatedAt = c.now()
	if err := c.links.UpsertLinks(ctx, []persistence.Link{link}); err != nil {
		return Result{}, fmt.Errorf("write attendance for %s: %w", link.EnrolleeID, err)
	}
	return Result{Link: link, Changed: true}, nil
}

func (c *Controller) findLink(ctx context.Context, sessionID, enrollee string) (persistence.Link, error) {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(enrollee) == "" {
		return persistence.Link{}, fmt.Errorf("session and enrollee are required: %w", ErrNotOnRoster)
	}
	links, err := c.links.FindLinks(ctx, persistence.LinkFilter{SessionID: sessionID})
	if err != nil {
		return persistence.Link{}, fmt.Errorf("load links for session %s: %w", sessionID, err)
	}
	for _, link := range links {
		if link.EnrolleeID == enrollee {
			return link, nil
		}
	}
	name := matching.NormalizeName(enrollee)
	for _, link := range links {
		if matching.NormalizeName(link.NameSnapshot) == name {
			return link, nil
		}
	}
	return persistence.Link{}, fmt.Errorf("%s on session %s: %w", name, sessionID, ErrNotOnRoster)
}

// Finalize marks the session complete. The completion time is stamped on the
// first call only. A non-nil substituteID replaces the stored substitute and
// an empty one clears it; nil leaves it unchanged. Roster and attendance are
// not touched.
func (c *Controller) Finalize(ctx context.Context, sessionID string, substituteID *string) (session persistence.Session, err error) {
	logger := c.loggerWith(ctx, "finalize", "session_id", sessionID)
	defer func() {
		if err != nil {
			logger.Warn("finalize failed", "error", err)
			return
		}
		logger.Info("session finalized", "completed_at", session.CompletedAt, "substitute_id", derefString(session.SubstituteID))
	}()

	session, err = c.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return persistence.Session{}, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	changed := false
	if session.CompletedAt == nil {
		completed := c.now()
		session.CompletedAt = &completed
		changed = true
	}
	if substituteID != nil {
		next := strings.TrimSpace(*substituteID)
		current := derefString(session.SubstituteID)
		switch {
		case next == "" && session.SubstituteID != nil:
			session.SubstituteID = nil
			changed = true
		case next != "" && next != current:
			session.SubstituteID = &next
			changed = true
		}
	}
	if !changed {
		return session, nil
	}

	session.UpdatedAt = c.now()
	if err := c.sessions.UpdateSession(ctx, session); err != nil {
		return persistence.Session{}, fmt.Errorf("finalize session %s: %w", sessionID, err)
	}
	return session, nil
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
