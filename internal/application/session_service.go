package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/elektrorate/calendario-taller-jesus/internal/matching"
	"github.com/elektrorate/calendario-taller-jesus/internal/persistence"
	"github.com/elektrorate/calendario-taller-jesus/internal/reconcile"
)

// RosterReconciler applies roster and attendance edits made from a session.
type RosterReconciler interface {
	ReconcileSessionRoster(ctx context.Context, sessionID string, names []string, attendance map[string]persistence.Attendance) (reconcile.Report, error)
	SyncSessionAttendance(ctx context.Context, sessionID string, attendance map[string]persistence.Attendance) (reconcile.Report, error)
	ClearSessionRoster(ctx context.Context, sessionID string) (reconcile.Report, error)
}

// LinkReader reads the link table.
type LinkReader interface {
	FindLinks(ctx context.Context, filter persistence.LinkFilter) ([]persistence.Link, error)
}

// SessionService orchestrates validation and persistence for manual
// sessions. Roster edits go through the reconciler.
type SessionService struct {
	sessions    persistence.SessionRepository
	links       LinkReader
	reconciler  RosterReconciler
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewSessionService constructs a session service with the provided dependencies.
func NewSessionService(sessions persistence.SessionRepository, links LinkReader, reconciler RosterReconciler, idGenerator func() string, now func() time.Time) *SessionService {
	return NewSessionServiceWithLogger(sessions, links, reconciler, idGenerator, now, nil)
}

// NewSessionServiceWithLogger constructs a session service with a specified logger.
func NewSessionServiceWithLogger(sessions persistence.SessionRepository, links LinkReader, reconciler RosterReconciler, idGenerator func() string, now func() time.Time, logger *slog.Logger) *SessionService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &SessionService{
		sessions:    sessions,
		links:       links,
		reconciler:  reconciler,
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
	}
}

func (s *SessionService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "SessionService", operation, attrs...)
}

// CreateSession validates input, inserts a manual session and reconciles
// the supplied roster. A failed insert stops before any link is written.
func (s *SessionService) CreateSession(ctx context.Context, input SessionInput) (result SessionResult, err error) {
	if s == nil {
		err = fmt.Errorf("SessionService is nil")
		return
	}

	logger := s.loggerWith(ctx, "CreateSession", "date", input.Date, "start_time", input.StartTime)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create session", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logSessionResult(ctx, logger, result, "session created")
	}()

	now := s.now()
	session := persistence.Session{
		ID:            s.idGenerator(),
		Date:          strings.TrimSpace(input.Date),
		StartTime:     strings.TrimSpace(input.StartTime),
		EndTime:       strings.TrimSpace(input.EndTime),
		Kind:          normalizeKind(input.Kind),
		Provenance:    persistence.ProvenanceManual,
		TeacherID:     normalizeOptionalString(input.TeacherID),
		WorkshopName:  normalizeOptionalString(input.WorkshopName),
		PrivateReason: normalizeOptionalString(input.PrivateReason),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if session.Kind == "" {
		session.Kind = persistence.KindMesa
	}

	vErr := validateSession(&session)
	if session.Kind == persistence.KindFeriado && len(matching.NormalizeNames(input.Students)) > 0 {
		vErr.add("students", "holiday sessions carry no roster")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	if err = s.sessions.CreateSession(ctx, session); err != nil {
		err = mapRepoError(err)
		return
	}
	result.Session = session

	if len(input.Students) > 0 {
		result.Report, err = s.reconciler.ReconcileSessionRoster(ctx, session.ID, input.Students, input.Attendance)
		if err != nil {
			err = mapRepoError(err)
			return
		}
	}

	result.CalendarEntry, err = s.entry(ctx, session)
	return
}

// UpdateSession applies patch to a session. Turning a session into a holiday
// clears its roster; otherwise a non-nil Students replaces the roster and an
// Attendance map on its own is synced onto the current roster.
func (s *SessionService) UpdateSession(ctx context.Context, id string, patch SessionPatch) (result SessionResult, err error) {
	if s == nil {
		err = fmt.Errorf("SessionService is nil")
		return
	}

	logger := s.loggerWith(ctx, "UpdateSession", "session_id", id)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to update session", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logSessionResult(ctx, logger, result, "session updated")
	}()

	var existing persistence.Session
	existing, err = s.sessions.GetSession(ctx, id)
	if err != nil {
		err = mapRepoError(err)
		return
	}

	updated := persistence.CloneSession(existing)
	changed := applySessionPatch(&updated, patch)
	if vErr := validateSession(&updated); vErr.HasErrors() {
		err = vErr
		return
	}
	if changed {
		updated.UpdatedAt = s.now()
		if err = s.sessions.UpdateSession(ctx, updated); err != nil {
			err = mapRepoError(err)
			return
		}
	}
	result.Session = updated

	switch {
	case updated.Kind == persistence.KindFeriado:
		result.Report, err = s.reconciler.ClearSessionRoster(ctx, id)
	case patch.Students != nil:
		result.Report, err = s.reconciler.ReconcileSessionRoster(ctx, id, patch.Students, patch.Attendance)
	case patch.Attendance != nil:
		result.Report, err = s.reconciler.SyncSessionAttendance(ctx, id, patch.Attendance)
	}
	if err != nil {
		err = mapRepoError(err)
		return
	}

	result.CalendarEntry, err = s.entry(ctx, updated)
	return
}

// DeleteSession removes a session. Its links are removed with it.
func (s *SessionService) DeleteSession(ctx context.Context, id string) error {
	if s == nil {
		return fmt.Errorf("SessionService is nil")
	}

	logger := s.loggerWith(ctx, "DeleteSession", "session_id", id)

	if err := s.sessions.DeleteSession(ctx, id); err != nil {
		err = mapRepoError(err)
		logger.ErrorContext(ctx, "failed to delete session", "error", err, "error_kind", ErrorKind(err))
		return err
	}

	logger.InfoContext(ctx, "session deleted")
	return nil
}

// GetSession returns a session with its derived roster and attendance.
func (s *SessionService) GetSession(ctx context.Context, id string) (CalendarEntry, error) {
	if s == nil {
		return CalendarEntry{}, fmt.Errorf("SessionService is nil")
	}
	session, err := s.sessions.GetSession(ctx, id)
	if err != nil {
		return CalendarEntry{}, mapRepoError(err)
	}
	return s.entry(ctx, session)
}

func (s *SessionService) entry(ctx context.Context, session persistence.Session) (CalendarEntry, error) {
	links, err := s.links.FindLinks(ctx, persistence.LinkFilter{SessionID: session.ID})
	if err != nil {
		return CalendarEntry{}, mapRepoError(err)
	}
	return newCalendarEntry(session, links), nil
}

func applySessionPatch(session *persistence.Session, patch SessionPatch) bool {
	changed := false
	setString := func(dst *string, src *string) {
		if src == nil {
			return
		}
		if v := strings.TrimSpace(*src); v != *dst {
			*dst = v
			changed = true
		}
	}
	setOptional := func(dst **string, src *string) {
		if src == nil {
			return
		}
		v := normalizeOptionalString(src)
		if derefString(v) != derefString(*dst) {
			*dst = v
			changed = true
		}
	}

	setString(&session.Date, patch.Date)
	setString(&session.StartTime, patch.StartTime)
	setString(&session.EndTime, patch.EndTime)
	if patch.Kind != nil {
		if kind := normalizeKind(*patch.Kind); kind != session.Kind {
			session.Kind = kind
			changed = true
		}
	}
	setOptional(&session.TeacherID, patch.TeacherID)
	setOptional(&session.WorkshopName, patch.WorkshopName)
	setOptional(&session.PrivateReason, patch.PrivateReason)
	return changed
}

// validateSession checks the calendar fields and rewrites clock times to HH:MM.
func validateSession(session *persistence.Session) *ValidationError {
	vErr := &ValidationError{}
	if _, err := matching.ParseDate(session.Date); err != nil {
		vErr.add("date", "must be YYYY-MM-DD")
	}
	start, startErr := matching.NormalizeClock(session.StartTime)
	if startErr != nil {
		vErr.add("start_time", "must be HH:MM")
	}
	end, endErr := matching.NormalizeClock(session.EndTime)
	if endErr != nil {
		vErr.add("end_time", "must be HH:MM")
	}
	if startErr == nil && endErr == nil {
		session.StartTime, session.EndTime = start, end
		if end <= start {
			vErr.add("end_time", "must be after start time")
		}
	}
	if !session.Kind.Valid() {
		vErr.add("kind", "unknown class kind")
	}
	return vErr
}

// normalizeOptionalString trims a pointer value and nils out blanks.
func normalizeOptionalString(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func logSessionResult(ctx context.Context, logger *slog.Logger, result SessionResult, msg string) {
	logger = logger.With("session_id", result.Session.ID, "roster_size", len(result.Roster), "report", result.Report.String())
	if !result.Report.OK() {
		logger.WarnContext(ctx, msg+" with reconciliation failures", "error", result.Report.Err())
		return
	}
	logger.InfoContext(ctx, msg)
}
