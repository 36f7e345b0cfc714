package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/elektrorate/calendario-taller-jesus/internal/persistence"
)

// EnrolleeRepository implements persistence.EnrolleeRepository.
type EnrolleeRepository struct {
	store *Store
}

var _ persistence.EnrolleeRepository = (*EnrolleeRepository)(nil)

const enrolleeColumns = `id, first_name, last_name, preferred_kind, classes_remaining, created_at, updated_at`

// CreateEnrollee inserts the enrollee and its slot list.
func (r *EnrolleeRepository) CreateEnrollee(ctx context.Context, enrollee persistence.Enrollee) error {
	if strings.TrimSpace(enrollee.ID) == "" {
		return persistence.ErrConstraintViolation
	}
	return r.store.withTransaction(ctx, "create_enrollee", func(tx *sql.Tx) error {
		_, err := r.store.txExec(ctx, tx,
			`INSERT INTO enrollees (`+enrolleeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			enrollee.ID,
			enrollee.FirstName,
			enrollee.LastName,
			string(enrollee.PreferredKind),
			enrollee.ClassesRemaining,
			formatTime(enrollee.CreatedAt),
			formatTime(enrollee.UpdatedAt),
		)
		if err != nil {
			return err
		}
		return r.insertSlots(ctx, tx, enrollee.ID, enrollee.Slots)
	})
}

// UpdateEnrollee updates profile columns. Slots change only through ReplaceSlots.
func (r *EnrolleeRepository) UpdateEnrollee(ctx context.Context, enrollee persistence.Enrollee) error {
	return requireAffected(r.store.exec(ctx, "update_enrollee",
		`UPDATE enrollees SET first_name = ?, last_name = ?, preferred_kind = ?, classes_remaining = ?, updated_at = ? WHERE id = ?`,
		enrollee.FirstName,
		enrollee.LastName,
		string(enrollee.PreferredKind),
		enrollee.ClassesRemaining,
		formatTime(enrollee.UpdatedAt),
		enrollee.ID,
	))
}

// GetEnrollee loads an enrollee with its slots.
func (r *EnrolleeRepository) GetEnrollee(ctx context.Context, id string) (persistence.Enrollee, error) {
	var (
		enrollee             persistence.Enrollee
		kind                 string
		createdAt, updatedAt string
	)
	err := r.store.queryRow(ctx, "get_enrollee",
		`SELECT `+enrolleeColumns+` FROM enrollees WHERE id = ?`, []any{id},
		&enrollee.ID, &enrollee.FirstName, &enrollee.LastName, &kind, &enrollee.ClassesRemaining, &createdAt, &updatedAt,
	)
	if err != nil {
		return persistence.Enrollee{}, err
	}
	if err := fillEnrollee(&enrollee, kind, createdAt, updatedAt); err != nil {
		return persistence.Enrollee{}, err
	}

	slots, err := r.loadSlots(ctx, `WHERE enrollee_id = ?`, []any{id})
	if err != nil {
		return persistence.Enrollee{}, err
	}
	enrollee.Slots = slots[id]
	return enrollee, nil
}

// ListEnrollees returns all enrollees ordered by last name, first name and ID.
func (r *EnrolleeRepository) ListEnrollees(ctx context.Context) ([]persistence.Enrollee, error) {
	enrollees, err := queryAll(ctx, r.store, "list_enrollees",
		`SELECT `+enrolleeColumns+` FROM enrollees ORDER BY last_name, first_name, id`, nil,
		func(rows *sql.Rows) (persistence.Enrollee, error) {
			var (
				enrollee             persistence.Enrollee
				kind                 string
				createdAt, updatedAt string
			)
			if err := rows.Scan(&enrollee.ID, &enrollee.FirstName, &enrollee.LastName, &kind, &enrollee.ClassesRemaining, &createdAt, &updatedAt); err != nil {
				return persistence.Enrollee{}, err
			}
			return enrollee, fillEnrollee(&enrollee, kind, createdAt, updatedAt)
		})
	if err != nil {
		return nil, err
	}

	slots, err := r.loadSlots(ctx, "", nil)
	if err != nil {
		return nil, err
	}
	for i := range enrollees {
		enrollees[i].Slots = slots[enrollees[i].ID]
	}
	return enrollees, nil
}

// DeleteEnrollee removes the enrollee; slots and links cascade.
func (r *EnrolleeRepository) DeleteEnrollee(ctx context.Context, id string) error {
	return requireAffected(r.store.exec(ctx, "delete_enrollee", `DELETE FROM enrollees WHERE id = ?`, id))
}

// ReplaceSlots overwrites the enrollee's slot list in one transaction.
func (r *EnrolleeRepository) ReplaceSlots(ctx context.Context, enrolleeID string, slots []persistence.AssignedSlot) error {
	return r.store.withTransaction(ctx, "replace_slots", func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, r.store.dialect.Rebind(`SELECT 1 FROM enrollees WHERE id = ?`), enrolleeID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.ErrNotFound
		}
		if err != nil {
			return err
		}
		if _, err := r.store.txExec(ctx, tx, `DELETE FROM enrollee_slots WHERE enrollee_id = ?`, enrolleeID); err != nil {
			return err
		}
		return r.insertSlots(ctx, tx, enrolleeID, slots)
	})
}

func (r *EnrolleeRepository) insertSlots(ctx context.Context, tx *sql.Tx, enrolleeID string, slots []persistence.AssignedSlot) error {
	for i, slot := range slots {
		intent := slot.Intent
		if intent == "" {
			intent = persistence.AttendancePending
		}
		_, err := r.store.txExec(ctx, tx,
			`INSERT INTO enrollee_slots (enrollee_id, position, slot_date, start_time, end_time, intent) VALUES (?, ?, ?, ?, ?, ?)`,
			enrolleeID, i, slot.Date, slot.StartTime, slot.EndTime, string(intent),
		)
		if err != nil {
			return fmt.Errorf("insert slot %d: %w", i, err)
		}
	}
	return nil
}

// loadSlots returns slots keyed by enrollee, in stored order.
func (r *EnrolleeRepository) loadSlots(ctx context.Context, where string, args []any) (map[string][]persistence.AssignedSlot, error) {
	type row struct {
		enrolleeID string
		slot       persistence.AssignedSlot
	}
	rows, err := queryAll(ctx, r.store, "load_slots",
		`SELECT enrollee_id, slot_date, start_time, end_time, intent FROM enrollee_slots `+where+` ORDER BY enrollee_id, position`, args,
		func(rows *sql.Rows) (row, error) {
			var (
				out    row
				intent string
			)
			if err := rows.Scan(&out.enrolleeID, &out.slot.Date, &out.slot.StartTime, &out.slot.EndTime, &intent); err != nil {
				return row{}, err
			}
			out.slot.Intent = persistence.Attendance(intent)
			return out, nil
		})
	if err != nil {
		return nil, err
	}
	slots := make(map[string][]persistence.AssignedSlot)
	for _, r := range rows {
		slots[r.enrolleeID] = append(slots[r.enrolleeID], r.slot)
	}
	return slots, nil
}

func fillEnrollee(enrollee *persistence.Enrollee, kind, createdAt, updatedAt string) error {
	enrollee.PreferredKind = persistence.SessionKind(kind)
	var err error
	if enrollee.CreatedAt, err = parseTime(createdAt); err != nil {
		return fmt.Errorf("parse created_at of enrollee %s: %w", enrollee.ID, err)
	}
	if enrollee.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return fmt.Errorf("parse updated_at of enrollee %s: %w", enrollee.ID, err)
	}
	return nil
}
