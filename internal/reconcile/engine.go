// Package reconcile keeps enrollee slot lists, calendar sessions and the
// session/enrollee link table consistent with each other.
//
// The underlying store has no multi-row transactions. Every invocation reads
// the current state, plans the writes needed to restore the invariants and
// applies them one at a time. A failed write is recorded in the Report and
// the remaining writes still run; because planning skips writes whose target
// state already holds, callers converge by re-invoking with the same input.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/elektrorate/calendario-taller-jesus/internal/logging"
	"github.com/elektrorate/calendario-taller-jesus/internal/matching"
	"github.com/elektrorate/calendario-taller-jesus/internal/persistence"
)

// EnrolleeStore is the slice of the enrollment store the engine needs.
type EnrolleeStore interface {
	GetEnrollee(ctx context.Context, id string) (persistence.Enrollee, error)
	ListEnrollees(ctx context.Context) ([]persistence.Enrollee, error)
	ReplaceSlots(ctx context.Context, enrolleeID string, slots []persistence.AssignedSlot) error
}

// SessionStore is the slice of the session store the engine needs.
type SessionStore interface {
	CreateSession(ctx context.Context, session persistence.Session) error
	GetSession(ctx context.Context, id string) (persistence.Session, error)
	FindSessions(ctx context.Context, filter persistence.SessionFilter) ([]persistence.Session, error)
}

// LinkStore is the link table.
type LinkStore interface {
	FindLinks(ctx context.Context, filter persistence.LinkFilter) ([]persistence.Link, error)
	UpsertLinks(ctx context.Context, links []persistence.Link) error
	DeleteLinks(ctx context.Context, filter persistence.LinkFilter) error
}

// Options tunes an Engine. Zero values select the defaults.
type Options struct {
	Policy      matching.Policy
	DefaultKind persistence.SessionKind
	IDGenerator func() string
	Now         func() time.Time
	Logger      *slog.Logger
}

// Engine applies reconciliation runs against the three stores.
type Engine struct {
	enrollees   EnrolleeStore
	sessions    SessionStore
	links       LinkStore
	policy      matching.Policy
	defaultKind persistence.SessionKind
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewEngine wires the stores into an Engine.
func NewEngine(enrollees EnrolleeStore, sessions SessionStore, links LinkStore, opts Options) *Engine {
	if opts.Policy == "" {
		opts.Policy = matching.PolicyDateStart
	}
	if !opts.DefaultKind.Valid() || opts.DefaultKind == persistence.KindFeriado {
		opts.DefaultKind = persistence.KindMesa
	}
	if opts.IDGenerator == nil {
		opts.IDGenerator = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		enrollees:   enrollees,
		sessions:    sessions,
		links:       links,
		policy:      opts.Policy,
		defaultKind: opts.DefaultKind,
		idGenerator: opts.IDGenerator,
		now:         opts.Now,
		logger:      opts.Logger,
	}
}

// Policy returns the session matching policy in use.
func (e *Engine) Policy() matching.Policy {
	return e.policy
}

func (e *Engine) operationLogger(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	pairs := append([]any{"component", "reconcile", "operation", operation}, attrs...)
	return logging.Resolve(ctx, e.logger).With(pairs...)
}

// sessionResolver caches session lookups by matching key for one invocation
// and remembers sessions planned for creation so two slots that share a key
// share one session.
type sessionResolver struct {
	engine  *Engine
	found   map[matching.SessionKey][]persistence.Session
	planned map[matching.SessionKey]int
}

func newSessionResolver(e *Engine) *sessionResolver {
	return &sessionResolver{
		engine:  e,
		found:   make(map[matching.SessionKey][]persistence.Session),
		planned: make(map[matching.SessionKey]int),
	}
}

func (r *sessionResolver) lookup(ctx context.Context, key matching.SessionKey) ([]persistence.Session, error) {
	if sessions, ok := r.found[key]; ok {
		return sessions, nil
	}
	sessions, err := r.engine.sessions.FindSessions(ctx, key.Filter())
	if err != nil {
		return nil, err
	}
	r.found[key] = sessions
	return sessions, nil
}
