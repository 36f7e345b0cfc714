package application

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/elektrorate/calendario-taller-jesus/internal/persistence"
)

// CalendarService serves read-only calendar views.
type CalendarService struct {
	enrollees persistence.EnrolleeRepository
	sessions  persistence.SessionRepository
	links     LinkReader
	logger    *slog.Logger
}

// NewCalendarService constructs a calendar service.
func NewCalendarService(enrollees persistence.EnrolleeRepository, sessions persistence.SessionRepository, links LinkReader, logger *slog.Logger) *CalendarService {
	return &CalendarService{enrollees: enrollees, sessions: sessions, links: links, logger: defaultLogger(logger)}
}

// Snapshot reads enrollees, sessions and links concurrently and joins them
// into calendar entries. The first failing read cancels the others.
func (s *CalendarService) Snapshot(ctx context.Context, filter CalendarFilter) (calendar Calendar, err error) {
	if s == nil {
		err = fmt.Errorf("CalendarService is nil")
		return
	}

	logger := serviceLogger(ctx, s.logger, "CalendarService", "Snapshot", "date_from", filter.DateFrom, "date_to", filter.DateTo)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to read calendar", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.DebugContext(ctx, "calendar read", "sessions", len(calendar.Entries), "enrollees", len(calendar.Enrollees))
	}()

	var (
		enrollees []persistence.Enrollee
		sessions  []persistence.Session
		links     []persistence.Link
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		enrollees, err = s.enrollees.ListEnrollees(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		sessions, err = s.sessions.FindSessions(gctx, persistence.SessionFilter{DateFrom: filter.DateFrom, DateTo: filter.DateTo})
		return err
	})
	g.Go(func() error {
		var err error
		links, err = s.links.FindLinks(gctx, persistence.LinkFilter{})
		return err
	})
	if err = g.Wait(); err != nil {
		err = mapRepoError(err)
		return
	}

	bySession := make(map[string][]persistence.Link, len(sessions))
	for _, link := range links {
		bySession[link.SessionID] = append(bySession[link.SessionID], link)
	}

	calendar.Enrollees = enrollees
	calendar.Entries = make([]CalendarEntry, 0, len(sessions))
	for _, session := range sessions {
		calendar.Entries = append(calendar.Entries, newCalendarEntry(session, bySession[session.ID]))
	}
	return
}
