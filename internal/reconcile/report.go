package reconcile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/elektrorate/calendario-taller-jesus/internal/persistence"
)

// Failure records one item that could not be processed.
type Failure struct {
	Operation string
	Target    string
	Err       error
}

// Error implements the error interface.
func (f Failure) Error() string {
	return fmt.Sprintf("%s %s: %v", f.Operation, f.Target, f.Err)
}

// Unwrap exposes the underlying store error.
func (f Failure) Unwrap() error {
	return f.Err
}

// Report summarizes one reconciliation run.
type Report struct {
	SessionsCreated []string
	LinksUpserted   int
	LinksDeleted    int
	SlotsPersisted  bool
	// NoOps counts items that needed no write, such as a removed slot
	// without a matching session.
	NoOps      int
	Skipped    int
	Failures   []Failure
	Unresolved []string
}

// Writes returns the number of store writes the run issued successfully.
func (r Report) Writes() int {
	writes := len(r.SessionsCreated) + r.LinksUpserted + r.LinksDeleted
	if r.SlotsPersisted {
		writes++
	}
	return writes
}

// OK reports whether every item was processed.
func (r Report) OK() bool {
	return len(r.Failures) == 0 && r.Skipped == 0
}

// Err joins the per-item failures, or returns nil.
func (r Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}

// String renders a one-line summary.
func (r Report) String() string {
	parts := []string{
		fmt.Sprintf("sessions_created=%d", len(r.SessionsCreated)),
		fmt.Sprintf("links_upserted=%d", r.LinksUpserted),
		fmt.Sprintf("links_deleted=%d", r.LinksDeleted),
		fmt.Sprintf("failures=%d", len(r.Failures)),
	}
	if r.Skipped > 0 {
		parts = append(parts, fmt.Sprintf("skipped=%d", r.Skipped))
	}
	if len(r.Unresolved) > 0 {
		parts = append(parts, "unresolved="+strings.Join(r.Unresolved, ","))
	}
	return strings.Join(parts, " ")
}

func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, persistence.ErrNotFound):
		return "not_found"
	case errors.Is(err, persistence.ErrDuplicate):
		return "duplicate"
	case errors.Is(err, persistence.ErrForeignKeyViolation):
		return "foreign_key"
	case errors.Is(err, persistence.ErrConstraintViolation):
		return "constraint"
	}
	return "unexpected"
}
