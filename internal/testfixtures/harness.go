package testfixtures

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/elektrorate/calendario-taller-jesus/internal/attendance"
	"github.com/elektrorate/calendario-taller-jesus/internal/logging"
	"github.com/elektrorate/calendario-taller-jesus/internal/matching"
	"github.com/elektrorate/calendario-taller-jesus/internal/persistence"
	"github.com/elektrorate/calendario-taller-jesus/internal/persistence/memory"
	"github.com/elektrorate/calendario-taller-jesus/internal/reconcile"
)

// Harness bundles an in-memory store with an engine and an attendance
// controller sharing a deterministic clock and ID sequence.
type Harness struct {
	Store      *memory.Storage
	Engine     *reconcile.Engine
	Attendance *attendance.Controller
	Clock      *Clock
	IDs        *IDGenerator
	Logger     *slog.Logger
}

// HarnessOption configures a Harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	policy      matching.Policy
	defaultKind persistence.SessionKind
	logger      *slog.Logger
}

// WithPolicy selects the session matching policy.
func WithPolicy(policy matching.Policy) HarnessOption {
	return func(c *harnessConfig) {
		c.policy = policy
	}
}

// WithDefaultKind sets the kind used for sessions created without a preference.
func WithDefaultKind(kind persistence.SessionKind) HarnessOption {
	return func(c *harnessConfig) {
		c.defaultKind = kind
	}
}

// WithLogger routes engine and controller logs to logger.
func WithLogger(logger *slog.Logger) HarnessOption {
	return func(c *harnessConfig) {
		c.logger = logger
	}
}

// NewHarness builds a Harness over a fresh memory store.
func NewHarness(opts ...HarnessOption) *Harness {
	cfg := harnessConfig{policy: matching.PolicyDateStart, defaultKind: persistence.KindMesa, logger: logging.Discard()}
	for _, opt := range opts {
		opt(&cfg)
	}

	store := memory.New()
	clock := NewTickingClock(time.Time{}, time.Second)
	ids := NewIDGenerator("session")

	engine := reconcile.NewEngine(store, store, store, reconcile.Options{
		Policy:      cfg.policy,
		DefaultKind: cfg.defaultKind,
		IDGenerator: ids.NextFunc(),
		Now:         clock.NowFunc(),
		Logger:      cfg.logger,
	})
	controller := attendance.NewController(store, store, attendance.Options{
		Now:    clock.NowFunc(),
		Logger: cfg.logger,
	})

	return &Harness{
		Store:      store,
		Engine:     engine,
		Attendance: controller,
		Clock:      clock,
		IDs:        ids,
		Logger:     cfg.logger,
	}
}

// SeedEnrollee stores enrollee directly, bypassing reconciliation.
func (h *Harness) SeedEnrollee(tb testing.TB, enrollee persistence.Enrollee) persistence.Enrollee {
	tb.Helper()
	if err := h.Store.CreateEnrollee(context.Background(), enrollee); err != nil {
		tb.Fatalf("seed enrollee %s: %v", enrollee.ID, err)
	}
	return enrollee
}

// SeedSession stores session directly.
func (h *Harness) SeedSession(tb testing.TB, session persistence.Session) persistence.Session {
	tb.Helper()
	if err := h.Store.CreateSession(context.Background(), session); err != nil {
		tb.Fatalf("seed session %s: %v", session.ID, err)
	}
	return session
}

// SeedLink stores a link directly.
func (h *Harness) SeedLink(tb testing.TB, link persistence.Link) {
	tb.Helper()
	if link.Attendance == "" {
		link.Attendance = persistence.AttendancePending
	}
	if err := h.Store.UpsertLinks(context.Background(), []persistence.Link{link}); err != nil {
		tb.Fatalf("seed link %s/%s: %v", link.SessionID, link.EnrolleeID, err)
	}
}

// SessionsAt returns the sessions starting at date and start.
func (h *Harness) SessionsAt(tb testing.TB, date, start string) []persistence.Session {
	tb.Helper()
	sessions, err := h.Store.FindSessions(context.Background(), persistence.SessionFilter{Date: date, StartTime: start})
	if err != nil {
		tb.Fatalf("find sessions %s %s: %v", date, start, err)
	}
	return sessions
}

// Links returns the links of a session.
func (h *Harness) Links(tb testing.TB, sessionID string) []persistence.Link {
	tb.Helper()
	links, err := h.Store.FindLinks(context.Background(), persistence.LinkFilter{SessionID: sessionID})
	if err != nil {
		tb.Fatalf("find links %s: %v", sessionID, err)
	}
	return links
}

// Roster returns the derived roster of a session.
func (h *Harness) Roster(tb testing.TB, sessionID string) []string {
	tb.Helper()
	return reconcile.Roster(h.Links(tb, sessionID))
}
