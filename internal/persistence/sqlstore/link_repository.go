package sqlstore

import (
	"context"
	"database/sql"
	"strings"

	"github.com/elektrorate/calendario-taller-jesus/internal/persistence"
)

// LinkRepository implements persistence.LinkRepository.
type LinkRepository struct {
	store *Store
}

var _ persistence.LinkRepository = (*LinkRepository)(nil)

// FindLinks returns links matching filter ordered by session and name.
func (r *LinkRepository) FindLinks(ctx context.Context, filter persistence.LinkFilter) ([]persistence.Link, error) {
	where, args := linkWhere(filter)
	query := `SELECT session_id, enrollee_id, name_snapshot, attendance, updated_at FROM session_links` + where +
		` ORDER BY session_id, name_snapshot, enrollee_id`

	return queryAll(ctx, r.store, "find_links", query, args, func(rows *sql.Rows) (persistence.Link, error) {
		var (
			link       persistence.Link
			attendance string
			updatedAt  string
		)
		if err := rows.Scan(&link.SessionID, &link.EnrolleeID, &link.NameSnapshot, &attendance, &updatedAt); err != nil {
			return persistence.Link{}, err
		}
		link.Attendance = persistence.Attendance(attendance)
		var err error
		link.UpdatedAt, err = parseTime(updatedAt)
		return link, err
	})
}

// UpsertLinks inserts rows or updates snapshot and attendance on the
// (session_id, enrollee_id) key. All rows are written in one transaction.
func (r *LinkRepository) UpsertLinks(ctx context.Context, links []persistence.Link) error {
	if len(links) == 0 {
		return nil
	}
	return r.store.withTransaction(ctx, "upsert_links", func(tx *sql.Tx) error {
		for _, link := range links {
			attendance := link.Attendance
			if attendance == "" {
				attendance = persistence.AttendancePending
			}
			_, err := r.store.txExec(ctx, tx,
				`INSERT INTO session_links (session_id, enrollee_id, name_snapshot, attendance, updated_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT (session_id, enrollee_id) DO UPDATE SET
					name_snapshot = excluded.name_snapshot,
					attendance = excluded.attendance,
					updated_at = excluded.updated_at`,
				link.SessionID, link.EnrolleeID, link.NameSnapshot, string(attendance), formatTime(link.UpdatedAt),
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteLinks removes rows matching filter. Deleting nothing is not an error.
func (r *LinkRepository) DeleteLinks(ctx context.Context, filter persistence.LinkFilter) error {
	if filter.SessionID == "" && filter.EnrolleeID == "" && len(filter.EnrolleeIDs) == 0 {
		return persistence.ErrConstraintViolation
	}
	where, args := linkWhere(filter)
	_, err := r.store.exec(ctx, "delete_links", `DELETE FROM session_links`+where, args...)
	return err
}

func linkWhere(filter persistence.LinkFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if filter.SessionID != "" {
		clauses = append(clauses, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.EnrolleeID != "" {
		clauses = append(clauses, "enrollee_id = ?")
		args = append(args, filter.EnrolleeID)
	}
	if filter.EnrolleeIDs != nil {
		if len(filter.EnrolleeIDs) == 0 {
			clauses = append(clauses, "1 = 0")
		} else {
			clauses = append(clauses, "enrollee_id IN ("+strings.TrimSuffix(strings.Repeat("?, ", len(filter.EnrolleeIDs)), ", ")+")")
			for _, id := range filter.EnrolleeIDs {
				args = append(args, id)
			}
		}
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
