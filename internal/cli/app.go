package cli

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/elektrorate/calendario-taller-jesus/internal/application"
	"github.com/elektrorate/calendario-taller-jesus/internal/attendance"
	"github.com/elektrorate/calendario-taller-jesus/internal/config"
	"github.com/elektrorate/calendario-taller-jesus/internal/logging"
	"github.com/elektrorate/calendario-taller-jesus/internal/persistence"
	"github.com/elektrorate/calendario-taller-jesus/internal/persistence/memory"
	"github.com/elektrorate/calendario-taller-jesus/internal/persistence/sqlstore"
	"github.com/elektrorate/calendario-taller-jesus/internal/recurrence"
	"github.com/elektrorate/calendario-taller-jesus/internal/reconcile"
)

// app is the wired service graph for one command invocation.
type app struct {
	cfg        config.Config
	logger     *slog.Logger
	out        *OutputFormatter
	store      *sqlstore.Store
	engine     *reconcile.Engine
	enrollees  *application.EnrolleeService
	sessions   *application.SessionService
	calendar   *application.CalendarService
	attendance *attendance.Controller
	planner    *recurrence.Engine
}

// openApp loads configuration, opens the store and wires the services. The
// returned context carries the logger.
func openApp(cmd *cobra.Command, opts *RootOptions) (context.Context, *app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "load configuration", err)
	}
	logger, err := logging.New(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "configure logging", err)
	}
	ctx := logging.ContextWithLogger(cmd.Context(), logger)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		out:     &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()},
		planner: recurrence.NewEngine(),
	}

	var (
		enrollees persistence.EnrolleeRepository
		sessions  persistence.SessionRepository
		links     persistence.LinkRepository
	)
	if opts.Memory {
		mem := memory.New()
		enrollees, sessions, links = mem, mem, mem
	} else {
		storeCfg := cfg.StoreConfig()
		storeCfg.Logger = logger
		store, err := sqlstore.Open(ctx, storeCfg)
		if err != nil {
			return nil, nil, WrapExitError(ExitCommandError, "open store", err)
		}
		a.store = store
		enrollees, sessions, links = store.Enrollees(), store.Sessions(), store.Links()
	}

	a.engine = reconcile.NewEngine(enrollees, sessions, links, reconcile.Options{
		Policy:      cfg.Policy,
		DefaultKind: cfg.Kind,
		IDGenerator: uuid.NewString,
		Logger:      logger,
	})
	a.enrollees = application.NewEnrolleeService(enrollees, a.engine, application.EnrolleeServiceOptions{
		IDGenerator:  uuid.NewString,
		Logger:       logger,
		Planner:      a.planner,
		RenewClasses: cfg.ClassesPerRenew,
	})
	a.sessions = application.NewSessionServiceWithLogger(sessions, links, a.engine, uuid.NewString, nil, logger)
	a.calendar = application.NewCalendarService(enrollees, sessions, links, logger)
	a.attendance = attendance.NewController(sessions, links, attendance.Options{Logger: logger})
	return ctx, a, nil
}

// Close releases the store.
func (a *app) Close() {
	if a == nil || a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("failed to close store", "error", err)
	}
}

// run opens the app, runs fn and closes the app.
func run(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, a *app) error) error {
	ctx, a, err := openApp(cmd, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
