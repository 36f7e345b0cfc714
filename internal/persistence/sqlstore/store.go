// Package sqlstore implements the persistence repositories on database/sql.
// SQLite (modernc.org/sqlite) is the default driver; Postgres is reached
// through pgx's database/sql adapter. Queries are written with "?"
// placeholders and rebound per dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/elektrorate/calendario-taller-jesus/internal/logging"
	"github.com/elektrorate/calendario-taller-jesus/internal/persistence/sqlstore/migration"
)

// Dialect selects placeholder syntax and driver.
type Dialect int

const (
	// DialectSQLite uses "?" placeholders.
	DialectSQLite Dialect = iota
	// DialectPostgres uses "$n" placeholders.
	DialectPostgres
)

// ParseDialect maps a configured driver name to a Dialect and the
// database/sql driver name.
func ParseDialect(driver string) (Dialect, string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return DialectSQLite, "sqlite", nil
	case "pgx", "postgres", "postgresql":
		return DialectPostgres, "pgx", nil
	}
	return 0, "", fmt.Errorf("unsupported database driver %q", driver)
}

// Rebind rewrites "?" placeholders for the dialect. Question marks inside
// single-quoted literals are left alone.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	quoted := false
	for _, r := range query {
		switch {
		case r == '\'':
			quoted = !quoted
			b.WriteRune(r)
		case r == '?' && !quoted:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Config describes how to open a Store.
type Config struct {
	Driver       string
	DSN          string
	MaxOpenConns int
	Retry        RetryConfig
	Logger       *slog.Logger
}

// Store owns the connection pool shared by the repositories.
type Store struct {
	db      *sql.DB
	dialect Dialect
	retry   RetryConfig
	logger  *slog.Logger
}

// Open opens and pings the database.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	dialect, driverName, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("database dsn is required")
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driverName, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	store := New(db, dialect, cfg.Retry, cfg.Logger)
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s database: %w", driverName, err)
	}
	return store, nil
}

// New wraps an existing pool.
func New(db *sql.DB, dialect Dialect, retry RetryConfig, logger *slog.Logger) *Store {
	if retry == (RetryConfig{}) {
		retry = DefaultRetryConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, dialect: dialect, retry: retry, logger: logger.With("component", "sqlstore")}
}

// DB returns the underlying pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the store's dialect.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Close closes the pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks connectivity, retrying while the database reports busy.
func (s *Store) Ping(ctx context.Context) error {
	return s.withRetry(ctx, "ping", func() error {
		return s.db.PingContext(ctx)
	})
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context) (int, error) {
	manager := migration.NewManager(
		migration.NewExecutor(s.db, s.dialect.Rebind),
		migration.Files,
		migration.Dir,
		logging.Resolve(ctx, s.logger),
	)
	return manager.Run(ctx)
}

// Enrollees returns the enrollee repository.
func (s *Store) Enrollees() *EnrolleeRepository {
	return &EnrolleeRepository{store: s}
}

// Sessions returns the session repository.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{store: s}
}

// Links returns the link repository.
func (s *Store) Links() *LinkRepository {
	return &LinkRepository{store: s}
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// exec runs a statement outside a transaction with retry and error mapping.
func (s *Store) exec(ctx context.Context, op, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	err := s.withRetry(ctx, op, func() error {
		var err error
		result, err = s.db.ExecContext(ctx, s.dialect.Rebind(query), args...)
		return err
	})
	return result, err
}

// queryRow scans a single row into dest. A missing row maps to ErrNotFound.
func (s *Store) queryRow(ctx context.Context, op, query string, args []any, dest ...any) error {
	return s.withRetry(ctx, op, func() error {
		return s.db.QueryRowContext(ctx, s.dialect.Rebind(query), args...).Scan(dest...)
	})
}

// queryAll collects one value per row. Each retry starts a fresh slice.
func queryAll[T any](ctx context.Context, s *Store, op, query string, args []any, scan func(*sql.Rows) (T, error)) ([]T, error) {
	var out []T
	err := s.withRetry(ctx, op, func() error {
		rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			value, err := scan(rows)
			if err != nil {
				return err
			}
			out = append(out, value)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}

// withTransaction runs fn in a transaction, retrying the whole transaction
// when the database reports busy.
func (s *Store) withTransaction(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	return s.withRetry(ctx, op, func() (err error) {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer func() {
			if p := recover(); p != nil {
				_ = tx.Rollback()
				panic(p)
			}
		}()
		if err := fn(tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				return fmt.Errorf("%w (rollback: %v)", err, rbErr)
			}
			return err
		}
		return tx.Commit()
	})
}

func (s *Store) txExec(ctx context.Context, tx execer, query string, args ...any) (sql.Result, error) {
	return tx.ExecContext(ctx, s.dialect.Rebind(query), args...)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, value)
}

func nullableString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullableTime(v *time.Time) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*v), Valid: true}
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	out := v.String
	return &out
}

func requireAffected(result sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errNoRowsAffected
	}
	return nil
}
