package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/elektrorate/calendario-taller-jesus/internal/matching"
	"github.com/elektrorate/calendario-taller-jesus/internal/persistence"
	"github.com/elektrorate/calendario-taller-jesus/internal/recurrence"
	"github.com/elektrorate/calendario-taller-jesus/internal/reconcile"
)

// EnrolleeReconciler reconciles sessions and links after a slot list change.
type EnrolleeReconciler interface {
	ReconcileEnrolleeChange(ctx context.Context, enrollee persistence.Enrollee, previous, next []persistence.AssignedSlot) (reconcile.Report, error)
}

// SlotPlanner extends a slot list for renewals.
type SlotPlanner interface {
	Continue(slots []persistence.AssignedSlot, count int) ([]persistence.AssignedSlot, error)
}

// EnrolleeServiceOptions tunes an EnrolleeService. Zero values select defaults.
type EnrolleeServiceOptions struct {
	IDGenerator  func() string
	Now          func() time.Time
	Logger       *slog.Logger
	Planner      SlotPlanner
	RenewClasses int
}

// EnrolleeService orchestrates validation and persistence for enrollees and
// routes every slot change through the reconciler.
type EnrolleeService struct {
	enrollees    persistence.EnrolleeRepository
	reconciler   EnrolleeReconciler
	planner      SlotPlanner
	renewClasses int
	idGenerator  func() string
	now          func() time.Time
	logger       *slog.Logger
}

// NewEnrolleeService constructs an enrollee service with the provided dependencies.
func NewEnrolleeService(enrollees persistence.EnrolleeRepository, reconciler EnrolleeReconciler, opts EnrolleeServiceOptions) *EnrolleeService {
	if opts.IDGenerator == nil {
		opts.IDGenerator = func() string { return "" }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Planner == nil {
		opts.Planner = recurrence.NewEngine()
	}
	if opts.RenewClasses <= 0 {
		opts.RenewClasses = 4
	}
	return &EnrolleeService{
		enrollees:    enrollees,
		reconciler:   reconciler,
		planner:      opts.Planner,
		renewClasses: opts.RenewClasses,
		idGenerator:  opts.IDGenerator,
		now:          opts.Now,
		logger:       defaultLogger(opts.Logger),
	}
}

func (s *EnrolleeService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "EnrolleeService", operation, attrs...)
}

// CreateEnrollee validates input, inserts the enrollee and reconciles its
// slots. A failed insert stops before any session is touched.
func (s *EnrolleeService) CreateEnrollee(ctx context.Context, input EnrolleeInput) (result EnrolleeResult, err error) {
	if s == nil {
		err = fmt.Errorf("EnrolleeService is nil")
		return
	}

	logger := s.loggerWith(ctx, "CreateEnrollee")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create enrollee", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logEnrolleeResult(ctx, logger, result, "enrollee created")
	}()

	slots, vErr := validateEnrolleeInput(input)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	now := s.now()
	enrollee := persistence.Enrollee{
		ID:               s.idGenerator(),
		FirstName:        strings.TrimSpace(input.FirstName),
		LastName:         strings.TrimSpace(input.LastName),
		PreferredKind:    normalizeKind(input.PreferredKind),
		ClassesRemaining: input.ClassesRemaining,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err = s.enrollees.CreateEnrollee(ctx, enrollee); err != nil {
		err = mapRepoError(err)
		return
	}

	result, err = s.reconcile(ctx, enrollee, nil, slots)
	return
}

// UpdateEnrollee replaces the profile fields of an enrollee. Slots are
// reconciled when input.Slots is non-nil or the name changed, so link name
// snapshots follow renames.
func (s *EnrolleeService) UpdateEnrollee(ctx context.Context, id string, input EnrolleeInput) (result EnrolleeResult, err error) {
	if s == nil {
		err = fmt.Errorf("EnrolleeService is nil")
		return
	}

	logger := s.loggerWith(ctx, "UpdateEnrollee", "enrollee_id", id)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to update enrollee", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logEnrolleeResult(ctx, logger, result, "enrollee updated")
	}()

	var existing persistence.Enrollee
	existing, err = s.enrollees.GetEnrollee(ctx, id)
	if err != nil {
		err = mapRepoError(err)
		return
	}

	slots, vErr := validateEnrolleeInput(input)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	updated := existing
	updated.FirstName = strings.TrimSpace(input.FirstName)
	updated.LastName = strings.TrimSpace(input.LastName)
	updated.PreferredKind = normalizeKind(input.PreferredKind)
	updated.ClassesRemaining = input.ClassesRemaining
	updated.UpdatedAt = s.now()
	if err = s.enrollees.UpdateEnrollee(ctx, updated); err != nil {
		err = mapRepoError(err)
		return
	}

	renamed := matching.FullName(existing.FirstName, existing.LastName) != matching.FullName(updated.FirstName, updated.LastName)
	if input.Slots == nil && !renamed {
		result.Enrollee = updated
		return
	}
	if input.Slots == nil {
		slots = existing.Slots
	}
	result, err = s.reconcile(ctx, updated, existing.Slots, slots)
	return
}

// DeleteEnrollee reconciles every slot of the enrollee away and then deletes
// it. Sessions are never deleted by this path.
func (s *EnrolleeService) DeleteEnrollee(ctx context.Context, id string) (report reconcile.Report, err error) {
	if s == nil {
		err = fmt.Errorf("EnrolleeService is nil")
		return
	}

	logger := s.loggerWith(ctx, "DeleteEnrollee", "enrollee_id", id)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to delete enrollee", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "enrollee deleted", "links_deleted", report.LinksDeleted, "failures", len(report.Failures))
	}()

	var existing persistence.Enrollee
	existing, err = s.enrollees.GetEnrollee(ctx, id)
	if err != nil {
		err = mapRepoError(err)
		return
	}

	report, err = s.reconciler.ReconcileEnrolleeChange(ctx, existing, existing.Slots, []persistence.AssignedSlot{})
	if err != nil {
		err = mapRepoError(err)
		return
	}
	if !report.OK() {
		// Deleting the enrollee cascades to its remaining links in both stores.
		logger.WarnContext(ctx, "link removal failed; relying on cascade delete", "error", report.Err())
	}
	if err = s.enrollees.DeleteEnrollee(ctx, id); err != nil {
		err = mapRepoError(err)
		return
	}
	return
}

// RenewEnrollee adds classes to the enrollee's balance and appends that many
// weekly slots continuing the enrollee's latest week. A non-positive classes
// value uses the configured default. Enrollees without slots only get the
// balance top-up.
func (s *EnrolleeService) RenewEnrollee(ctx context.Context, id string, classes int) (result EnrolleeResult, err error) {
	if s == nil {
		err = fmt.Errorf("EnrolleeService is nil")
		return
	}
	if classes <= 0 {
		classes = s.renewClasses
	}

	logger := s.loggerWith(ctx, "RenewEnrollee", "enrollee_id", id, "classes", classes)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to renew enrollee", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logEnrolleeResult(ctx, logger, result, "enrollee renewed")
	}()

	var existing persistence.Enrollee
	existing, err = s.enrollees.GetEnrollee(ctx, id)
	if err != nil {
		err = mapRepoError(err)
		return
	}

	extra, planErr := s.planner.Continue(existing.Slots, classes)
	if planErr != nil && !errors.Is(planErr, recurrence.ErrNoPattern) {
		vErr := &ValidationError{}
		vErr.add("slots", planErr.Error())
		err = vErr
		return
	}

	updated := existing
	updated.ClassesRemaining += classes
	updated.UpdatedAt = s.now()
	if err = s.enrollees.UpdateEnrollee(ctx, updated); err != nil {
		err = mapRepoError(err)
		return
	}
	if len(extra) == 0 {
		result.Enrollee = updated
		return
	}

	next := append(slices.Clone(existing.Slots), extra...)
	result, err = s.reconcile(ctx, updated, existing.Slots, next)
	return
}

// GetEnrollee returns one enrollee.
func (s *EnrolleeService) GetEnrollee(ctx context.Context, id string) (persistence.Enrollee, error) {
	if s == nil {
		return persistence.Enrollee{}, fmt.Errorf("EnrolleeService is nil")
	}
	enrollee, err := s.enrollees.GetEnrollee(ctx, id)
	if err != nil {
		return persistence.Enrollee{}, mapRepoError(err)
	}
	return enrollee, nil
}

// ListEnrollees returns every enrollee ordered by name.
func (s *EnrolleeService) ListEnrollees(ctx context.Context) ([]persistence.Enrollee, error) {
	if s == nil {
		return nil, fmt.Errorf("EnrolleeService is nil")
	}
	enrollees, err := s.enrollees.ListEnrollees(ctx)
	if err != nil {
		err = mapRepoError(err)
		s.loggerWith(ctx, "ListEnrollees").ErrorContext(ctx, "failed to list enrollees", "error", err, "error_kind", ErrorKind(err))
		return nil, err
	}
	return enrollees, nil
}

func (s *EnrolleeService) reconcile(ctx context.Context, enrollee persistence.Enrollee, previous, next []persistence.AssignedSlot) (EnrolleeResult, error) {
	report, err := s.reconciler.ReconcileEnrolleeChange(ctx, enrollee, previous, next)
	if err != nil {
		return EnrolleeResult{Report: report}, mapRepoError(err)
	}
	stored, err := s.enrollees.GetEnrollee(ctx, enrollee.ID)
	if err != nil {
		return EnrolleeResult{Report: report}, mapRepoError(err)
	}
	return EnrolleeResult{Enrollee: stored, Report: report}, nil
}

func validateEnrolleeInput(input EnrolleeInput) ([]persistence.AssignedSlot, *ValidationError) {
	vErr := &ValidationError{}
	if strings.TrimSpace(input.FirstName) == "" {
		vErr.add("first_name", "first name is required")
	}
	if kind := normalizeKind(input.PreferredKind); kind != "" && (!kind.Valid() || kind == persistence.KindFeriado) {
		vErr.add("preferred_kind", "unknown class kind")
	}
	if input.ClassesRemaining < 0 {
		vErr.add("classes_remaining", "must not be negative")
	}
	if input.Slots == nil {
		return nil, vErr
	}
	slots, err := reconcile.NormalizeSlots(input.Slots)
	if err != nil && !vErr.mergeFrom(err) {
		vErr.add("slots", err.Error())
	}
	return slots, vErr
}

func normalizeKind(kind persistence.SessionKind) persistence.SessionKind {
	return persistence.SessionKind(strings.ToLower(strings.TrimSpace(string(kind))))
}

func logEnrolleeResult(ctx context.Context, logger *slog.Logger, result EnrolleeResult, msg string) {
	logger = logger.With("enrollee_id", result.Enrollee.ID, "report", result.Report.String())
	if !result.Report.OK() {
		logger.WarnContext(ctx, msg+" with reconciliation failures", "error", result.Report.Err())
		return
	}
	logger.InfoContext(ctx, msg)
}
