package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/elektrorate/calendario-taller-jesus/internal/persistence"
)

// SessionRepository implements persistence.SessionRepository.
type SessionRepository struct {
	store *Store
}

var _ persistence.SessionRepository = (*SessionRepository)(nil)

const sessionColumns = `id, session_date, start_time, end_time, kind, provenance, teacher_id, substitute_id, completed_at, workshop_name, private_reason, created_at, updated_at`

// CreateSession inserts a session.
func (r *SessionRepository) CreateSession(ctx context.Context, session persistence.Session) error {
	if strings.TrimSpace(session.ID) == "" {
		return persistence.ErrConstraintViolation
	}
	_, err := r.store.exec(ctx, "create_session",
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.Date,
		session.StartTime,
		session.EndTime,
		string(session.Kind),
		string(session.Provenance),
		nullableString(session.TeacherID),
		nullableString(session.SubstituteID),
		nullableTime(session.CompletedAt),
		nullableString(session.WorkshopName),
		nullableString(session.PrivateReason),
		formatTime(session.CreatedAt),
		formatTime(session.UpdatedAt),
	)
	return err
}

// UpdateSession rewrites every mutable column.
func (r *SessionRepository) UpdateSession(ctx context.Context, session persistence.Session) error {
	return requireAffected(r.store.exec(ctx, "update_session",
		`UPDATE sessions SET session_date = ?, start_time = ?, end_time = ?, kind = ?, provenance = ?,
			teacher_id = ?, substitute_id = ?, completed_at = ?, workshop_name = ?, private_reason = ?, updated_at = ?
		WHERE id = ?`,
		session.Date,
		session.StartTime,
		session.EndTime,
		string(session.Kind),
		string(session.Provenance),
		nullableString(session.TeacherID),
		nullableString(session.SubstituteID),
		nullableTime(session.CompletedAt),
		nullableString(session.WorkshopName),
		nullableString(session.PrivateReason),
		formatTime(session.UpdatedAt),
		session.ID,
	))
}

// GetSession loads a session by ID.
func (r *SessionRepository) GetSession(ctx context.Context, id string) (persistence.Session, error) {
	var scanned sessionRow
	if err := r.store.queryRow(ctx, "get_session", `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, []any{id}, scanned.dest()...); err != nil {
		return persistence.Session{}, err
	}
	return scanned.session()
}

// FindSessions returns sessions matching filter ordered by date, start,
// creation time and ID.
func (r *SessionRepository) FindSessions(ctx context.Context, filter persistence.SessionFilter) ([]persistence.Session, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, value any) {
		clauses = append(clauses, clause)
		args = append(args, value)
	}
	if filter.Date != "" {
		add("session_date = ?", filter.Date)
	}
	if filter.StartTime != "" {
		add("start_time = ?", filter.StartTime)
	}
	if filter.EndTime != "" {
		add("end_time = ?", filter.EndTime)
	}
	if filter.Kind != "" {
		add("kind = ?", string(filter.Kind))
	}
	if filter.DateFrom != "" {
		add("session_date >= ?", filter.DateFrom)
	}
	if filter.DateTo != "" {
		add("session_date <= ?", filter.DateTo)
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY session_date, start_time, created_at, id`

	return queryAll(ctx, r.store, "find_sessions", query, args, func(rows *sql.Rows) (persistence.Session, error) {
		var scanned sessionRow
		if err := rows.Scan(scanned.dest()...); err != nil {
			return persistence.Session{}, err
		}
		return scanned.session()
	})
}

// DeleteSession removes a session; its links cascade.
func (r *SessionRepository) DeleteSession(ctx context.Context, id string) error {
	return requireAffected(r.store.exec(ctx, "delete_session", `DELETE FROM sessions WHERE id = ?`, id))
}

type sessionRow struct {
	id, date, start, end, kind, provenance string
	teacher, substitute, completed         sql.NullString
	workshop, reason                       sql.NullString
	createdAt, updatedAt                   string
}

func (r *sessionRow) dest() []any {
	return []any{
		&r.id, &r.date, &r.start, &r.end, &r.kind, &r.provenance,
		&r.teacher, &r.substitute, &r.completed, &r.workshop, &r.reason,
		&r.createdAt, &r.updatedAt,
	}
}

func (r *sessionRow) session() (persistence.Session, error) {
	session := persistence.Session{
		ID:            r.id,
		Date:          r.date,
		StartTime:     r.start,
		EndTime:       r.end,
		Kind:          persistence.SessionKind(r.kind),
		Provenance:    persistence.Provenance(r.provenance),
		TeacherID:     stringPtr(r.teacher),
		SubstituteID:  stringPtr(r.substitute),
		WorkshopName:  stringPtr(r.workshop),
		PrivateReason: stringPtr(r.reason),
	}
	var err error
	if r.completed.Valid {
		completed, err := parseTime(r.completed.String)
		if err != nil {
			return persistence.Session{}, fmt.Errorf("parse completed_at of session %s: %w", r.id, err)
		}
		session.CompletedAt = &completed
	}
	if session.CreatedAt, err = parseTime(r.createdAt); err != nil {
		return persistence.Session{}, fmt.Errorf("parse created_at of session %s: %w", r.id, err)
	}
	if session.UpdatedAt, err = parseTime(r.updatedAt); err != nil {
		return persistence.Session{}, fmt.Errorf("parse updated_at of session %s: %w", r.id, err)
	}
	return session, nil
}
