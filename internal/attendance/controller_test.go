package attendance_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elektrorate/calendario-taller-jesus/internal/attendance"
	"github.com/elektrorate/calendario-taller-jesus/internal/persistence"
	"github.com/elektrorate/calendario-taller-jesus/internal/persistence/memory"
	"github.com/elektrorate/calendario-taller-jesus/internal/reconcile"
	tf "github.com/elektrorate/calendario-taller-jesus/internal/testfixtures"
)

func newLinkedSession(t *testing.T) (*tf.Harness, string) {
	t.Helper()
	ctx := context.Background()
	h := tf.NewHarness()
	ana := h.SeedEnrollee(t, tf.NewEnrollee(tf.WithEnrolleeID("ana"), tf.WithName("Ana", "Gómez")))
	h.SeedEnrollee(t, tf.NewEnrollee(tf.WithEnrolleeID("luis"), tf.WithName("Luis", "Pérez")))

	_, err := h.Engine.ReconcileEnrolleeChange(ctx, ana, nil, []persistence.AssignedSlot{tf.Slot("2026-02-10", "10:00", "12:00")})
	require.NoError(t, err)
	session := h.SessionsAt(t, "2026-02-10", "10:00")[0]
	h.SeedLink(t, persistence.Link{SessionID: session.ID, EnrolleeID: "luis", NameSnapshot: "LUIS PÉREZ"})
	return h, session.ID
}

func TestSetAttendanceRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h, sessionID := newLinkedSession(t)

	result, err := h.Attendance.SetAttendance(ctx, sessionID, "ANA GÓMEZ", persistence.AttendancePresent)
	require.NoError(t, err)
	assert.True(t, result.Changed)

	got, err := h.Attendance.Attendance(ctx, sessionID, "ana gómez")
	require.NoError(t, err)
	assert.Equal(t, persistence.AttendancePresent, got)

	h.Store.ResetCalls()
	result, err = h.Attendance.SetAttendance(ctx, sessionID, "ANA GÓMEZ", persistence.AttendancePresent)
	require.NoError(t, err)
	assert.False(t, result.Changed)
	assert.Zero(t, h.Store.Writes())
}

func TestSetAttendanceLeavesRosterAlone(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h, sessionID := newLinkedSession(t)
	before := h.Roster(t, sessionID)

	h.Store.ResetCalls()
	_, err := h.Attendance.SetAttendance(ctx, sessionID, "ANA GÓMEZ", persistence.AttendancePresent)
	require.NoError(t, err)

	assert.Equal(t, 1, h.Store.Calls(memory.OpUpsertLinks))
	assert.Equal(t, 1, h.Store.Writes())
	assert.Equal(t, before, h.Roster(t, sessionID))
	assert.Equal(t, map[string]persistence.Attendance{"ANA GÓMEZ": persistence.AttendancePresent},
		reconcile.AttendanceMap(h.Links(t, sessionID)))
}

func TestTransitionsBetweenStates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h, sessionID := newLinkedSession(t)

	steps := []struct {
		name   string
		action func() (attendance.Result, error)
		want   persistence.Attendance
	}{
		{"pending to present", func() (attendance.Result, error) {
			return h.Attendance.SetAttendance(ctx, sessionID, "luis", persistence.AttendancePresent)
		}, persistence.AttendancePresent},
		{"present to absent", func() (attendance.Result, error) {
			return h.Attendance.SetAttendance(ctx, sessionID, "luis", persistence.AttendanceAbsent)
		}, persistence.AttendanceAbsent},
		{"absent to pending", func() (attendance.Result, error) {
			return h.Attendance.ClearAttendance(ctx, sessionID, "Luis Pérez")
		}, persistence.AttendancePending},
		{"pending to absent", func() (attendance.Result, error) {
			return h.Attendance.SetAttendance(ctx, sessionID, "LUIS PÉREZ", "ABSENT")
		}, persistence.AttendanceAbsent},
	}

	for _, step := range steps {
		result, err := step.action()
		require.NoError(t, err, step.name)
		assert.True(t, result.Changed, step.name)
		got, err := h.Attendance.Attendance(ctx, sessionID, "luis")
		require.NoError(t, err, step.name)
		assert.Equal(t, step.want, got, step.name)
	}
}

func TestClearPendingIsNoOp(t *testing.T) {
	t.Parallel()
	h, sessionID := newLinkedSession(t)
	h.Store.ResetCalls()

	result, err := h.Attendance.ClearAttendance(context.Background(), sessionID, "ANA GÓMEZ")
	require.NoError(t, err)
	assert.False(t, result.Changed)
	assert.Zero(t, h.Store.Writes())
}

func TestAttendanceRequiresRosterMembership(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h, sessionID := newLinkedSession(t)

	_, err := h.Attendance.SetAttendance(ctx, sessionID, "Sara Núñez", persistence.AttendancePresent)
	require.ErrorIs(t, err, attendance.ErrNotOnRoster)

	_, err = h.Attendance.Attendance(ctx, sessionID, "Sara Núñez")
	require.ErrorIs(t, err, attendance.ErrNotOnRoster)
	assert.Len(t, h.Roster(t, sessionID), 2)
}

func TestSetAttendanceRejectsUnknownStatus(t *testing.T) {
	t.Parallel()
	h, sessionID := newLinkedSession(t)
	h.Store.ResetCalls()

	_, err := h.Attendance.SetAttendance(context.Background(), sessionID, "ANA GÓMEZ", "late")
	require.ErrorIs(t, err, attendance.ErrInvalidStatus)
	assert.Zero(t, h.Store.Calls(memory.OpFindLinks))
}

func TestFinalizeStampsOnceAndLastSubstituteWins(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h, sessionID := newLinkedSession(t)
	_, err := h.Attendance.SetAttendance(ctx, sessionID, "ANA GÓMEZ", persistence.AttendancePresent)
	require.NoError(t, err)

	first, err := h.Attendance.Finalize(ctx, sessionID, nil)
	require.NoError(t, err)
	require.NotNil(t, first.CompletedAt)
	assert.Nil(t, first.SubstituteID)

	substitute := "teacher-2"
	second, err := h.Attendance.Finalize(ctx, sessionID, &substitute)
	require.NoError(t, err)
	assert.Equal(t, *first.CompletedAt, *second.CompletedAt)
	require.NotNil(t, second.SubstituteID)
	assert.Equal(t, "teacher-2", *second.SubstituteID)

	h.Store.ResetCalls()
	third, err := h.Attendance.Finalize(ctx, sessionID, &substitute)
	require.NoError(t, err)
	assert.Zero(t, h.Store.Writes())
	assert.Equal(t, "teacher-2", *third.SubstituteID)

	cleared := ""
	fourth, err := h.Attendance.Finalize(ctx, sessionID, &cleared)
	require.NoError(t, err)
	assert.Nil(t, fourth.SubstituteID)

	assert.Equal(t, map[string]persistence.Attendance{"ANA GÓMEZ": persistence.AttendancePresent},
		reconcile.AttendanceMap(h.Links(t, sessionID)))
	assert.Len(t, h.Roster(t, sessionID), 2)
}

func TestFinalizeMissingSession(t *testing.T) {
	t.Parallel()
	h := tf.NewHarness()
	_, err := h.Attendance.Finalize(context.Background(), "missing", nil)
	require.ErrorIs(t, err, persistence.ErrNotFound)
}
