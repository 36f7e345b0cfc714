package reconcile_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elektrorate/calendario-taller-jesus/internal/matching"
	"github.com/elektrorate/calendario-taller-jesus/internal/persistence"
	"github.com/elektrorate/calendario-taller-jesus/internal/persistence/memory"
	"github.com/elektrorate/calendario-taller-jesus/internal/reconcile"
	tf "github.com/elektrorate/calendario-taller-jesus/internal/testfixtures"
)

var (
	slotA = tf.Slot("2026-02-10", "10:00", "12:00")
	slotB = tf.Slot("2026-02-12", "10:00", "12:00")
	slotC = tf.Slot("2026-02-17", "18:00", "20:00")
)

func seedAna(t *testing.T, h *tf.Harness) persistence.Enrollee {
	t.Helper()
	return h.SeedEnrollee(t, tf.NewEnrollee(tf.WithEnrolleeID("ana"), tf.WithName("Ana", "Gómez")))
}

func TestEnrolleeSlotCreatesDerivedSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := tf.NewHarness()
	ana := seedAna(t, h)

	report, err := h.Engine.ReconcileEnrolleeChange(ctx, ana, nil, []persistence.AssignedSlot{slotA})
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.True(t, report.SlotsPersisted)
	assert.Len(t, report.SessionsCreated, 1)
	assert.Equal(t, 1, report.LinksUpserted)

	sessions := h.SessionsAt(t, "2026-02-10", "10:00")
	require.Len(t, sessions, 1)
	session := sessions[0]
	assert.Equal(t, persistence.ProvenanceDerived, session.Provenance)
	assert.Equal(t, persistence.KindMesa, session.Kind)
	assert.Equal(t, "12:00", session.EndTime)

	links := h.Links(t, session.ID)
	assert.Equal(t, []string{"ANA GÓMEZ"}, reconcile.Roster(links))
	assert.Empty(t, reconcile.AttendanceMap(links))

	stored, err := h.Store.GetEnrollee(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, []persistence.AssignedSlot{slotA}, stored.Slots)
}

func TestEnrolleeReconcileIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := tf.NewHarness()
	ana := seedAna(t, h)
	next := []persistence.AssignedSlot{slotA, slotB}

	_, err := h.Engine.ReconcileEnrolleeChange(ctx, ana, nil, next)
	require.NoError(t, err)

	h.Store.ResetCalls()
	report, err := h.Engine.ReconcileEnrolleeChange(ctx, ana, nil, next)
	require.NoError(t, err)
	assert.Zero(t, h.Store.Writes())
	assert.Zero(t, report.Writes())
	assert.True(t, report.OK())
}

func TestEnrolleeSlotDiffTouchesOnlyChangedSlots(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := tf.NewHarness()
	ana := seedAna(t, h)

	_, err := h.Engine.ReconcileEnrolleeChange(ctx, ana, nil, []persistence.AssignedSlot{slotA, slotB})
	require.NoError(t, err)
	sessionA := h.SessionsAt(t, slotA.Date, slotA.StartTime)[0]
	sessionB := h.SessionsAt(t, slotB.Date, slotB.StartTime)[0]

	h.Store.ResetCalls()
	report, err := h.Engine.ReconcileEnrolleeChange(ctx, ana,
		[]persistence.AssignedSlot{slotA, slotB},
		[]persistence.AssignedSlot{slotB, slotC})
	require.NoError(t, err)

	assert.Equal(t, 1, h.Store.Calls(memory.OpDeleteLinks))
	assert.Equal(t, 1, h.Store.Calls(memory.OpCreateSession))
	assert.Equal(t, 1, h.Store.Calls(memory.OpUpsertLinks))
	assert.Equal(t, 1, h.Store.Calls(memory.OpReplaceSlots))
	assert.Equal(t, 1, report.LinksDeleted)

	assert.Empty(t, h.Roster(t, sessionA.ID))
	assert.Equal(t, []string{"ANA GÓMEZ"}, h.Roster(t, sessionB.ID))
	sessionC := h.SessionsAt(t, slotC.Date, slotC.StartTime)
	require.Len(t, sessionC, 1)
	assert.Equal(t, []string{"ANA GÓMEZ"}, h.Roster(t, sessionC[0].ID))
}

func TestRemovingLastSlotKeepsSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := tf.NewHarness()
	ana := seedAna(t, h)

	_, err := h.Engine.ReconcileEnrolleeChange(ctx, ana, nil, []persistence.AssignedSlot{slotA})
	require.NoError(t, err)
	session := h.SessionsAt(t, slotA.Date, slotA.StartTime)[0]

	report, err := h.Engine.ReconcileEnrolleeChange(ctx, ana, []persistence.AssignedSlot{slotA}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.LinksDeleted)

	_, err = h.Store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, h.Roster(t, session.ID))
	assert.Zero(t, h.Store.Calls(memory.OpDeleteSession))
}

func TestRemovedSlotWithoutSessionIsNoOp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := tf.NewHarness()
	ana := seedAna(t, h)

	report, err := h.Engine.ReconcileEnrolleeChange(ctx, ana, []persistence.AssignedSlot{slotC}, nil)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, 1, report.NoOps)
	assert.Zero(t, h.Store.Calls(memory.OpDeleteLinks))
}

func TestSameStartDifferentEndSharesSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := tf.NewHarness()
	ana := seedAna(t, h)
	luis := h.SeedEnrollee(t, tf.NewEnrollee(tf.WithEnrolleeID("luis"), tf.WithName("Luis", "Pérez")))

	_, err := h.Engine.ReconcileEnrolleeChange(ctx, ana, nil, []persistence.AssignedSlot{tf.Slot("2026-02-10", "10:00", "12:00")})
	require.NoError(t, err)
	_, err = h.Engine.ReconcileEnrolleeChange(ctx, luis, nil, []persistence.AssignedSlot{tf.Slot("2026-02-10", "10:00", "13:00")})
	require.NoError(t, err)

	sessions := h.SessionsAt(t, "2026-02-10", "10:00")
	require.Len(t, sessions, 1)
	assert.Equal(t, "12:00", sessions[0].EndTime)
	assert.Equal(t, []string{"ANA GÓMEZ", "LUIS PÉREZ"}, h.Roster(t, sessions[0].ID))
}

func TestFullPolicySeparatesEndTimes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := tf.NewHarness(tf.WithPolicy(matching.PolicyFull))
	ana := seedAna(t, h)
	luis := h.SeedEnrollee(t, tf.NewEnrollee(tf.WithEnrolleeID("luis"), tf.WithName("Luis", "Pérez")))

	_, err := h.Engine.ReconcileEnrolleeChange(ctx, ana, nil, []persistence.AssignedSlot{tf.Slot("2026-02-10", "10:00", "12:00")})
	require.NoError(t, err)
	_, err = h.Engine.ReconcileEnrolleeChange(ctx, luis, nil, []persistence.AssignedSlot{tf.Slot("2026-02-10", "10:00", "13:00")})
	require.NoError(t, err)

	sessions := h.SessionsAt(t, "2026-02-10", "10:00")
	require.Len(t, sessions, 2)
	for _, session := range sessions {
		assert.Len(t, h.Roster(t, session.ID), 1)
	}
}

func TestEveryCurrentSlotHasExactlyOneLink(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := tf.NewHarness()
	ana := seedAna(t, h)
	next := []persistence.AssignedSlot{
		tf.Slot("2026-02-10", "10:00", "12:00"),
		tf.Slot("2026-02-10", "10:00", "12:30"),
		slotB,
		slotC,
	}

	for i := 0; i < 2; i++ {
		_, err := h.Engine.ReconcileEnrolleeChange(ctx, ana, nil, next)
		require.NoError(t, err)
	}

	for _, slot := range next {
		sessions := h.SessionsAt(t, slot.Date, slot.StartTime)
		require.Len(t, sessions, 1, "slot %s %s", slot.Date, slot.StartTime)
		count := 0
		for _, name := range h.Roster(t, sessions[0].ID) {
			if name == "ANA GÓMEZ" {
				count++
			}
		}
		assert.Equal(t, 1, count, "slot %s %s", slot.Date, slot.StartTime)
	}
}

func TestIntentAndPreferredKindAreApplied(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := tf.NewHarness()
	potter := h.SeedEnrollee(t, tf.NewEnrollee(
		tf.WithEnrolleeID("potter"),
		tf.WithName("Marta", "Ruiz"),
		tf.WithPreferredKind(persistence.KindTorno),
	))

	_, err := h.Engine.ReconcileEnrolleeChange(ctx, potter, nil, []persistence.AssignedSlot{
		tf.SlotWithIntent("2026-02-10", "10:00", "12:00", persistence.AttendancePresent),
		tf.SlotWithIntent("2026-02-12", "10:00", "12:00", "maybe"),
	})
	require.NoError(t, err)

	first := h.SessionsAt(t, "2026-02-10", "10:00")[0]
	assert.Equal(t, persistence.KindTorno, first.Kind)
	assert.Equal(t, map[string]persistence.Attendance{"MARTA RUIZ": persistence.AttendancePresent},
		reconcile.AttendanceMap(h.Links(t, first.ID)))

	second := h.SessionsAt(t, "2026-02-12", "10:00")[0]
	assert.Empty(t, reconcile.AttendanceMap(h.Links(t, second.ID)))
}

func TestRenameRefreshesSnapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := tf.NewHarness()
	ana := seedAna(t, h)
	next := []persistence.AssignedSlot{slotA}

	_, err := h.Engine.ReconcileEnrolleeChange(ctx, ana, nil, next)
	require.NoError(t, err)

	ana.LastName = "Gómez Ruiz"
	require.NoError(t, h.Store.UpdateEnrollee(ctx, ana))

	report, err := h.Engine.ReconcileEnrolleeChange(ctx, ana, next, next)
	require.NoError(t, err)
	assert.Equal(t, 1, report.LinksUpserted)

	session := h.SessionsAt(t, slotA.Date, slotA.StartTime)[0]
	assert.Equal(t, []string{"ANA GÓMEZ RUIZ"}, h.Roster(t, session.ID))
}

func TestHolidaySessionIsNotLinked(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := tf.NewHarness()
	ana := seedAna(t, h)
	holiday := h.SeedSession(t, tf.NewSession(tf.WithSessionKind(persistence.KindFeriado)))

	report, err := h.Engine.ReconcileEnrolleeChange(ctx, ana, nil, []persistence.AssignedSlot{slotA})
	require.NoError(t, err)
	assert.Empty(t, report.SessionsCreated)
	assert.Zero(t, report.LinksUpserted)
	assert.Empty(t, h.Roster(t, holiday.ID))
}

func TestLookupFailureSkipsSlotAndRetryConverges(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := tf.NewHarness()
	ana := seedAna(t, h)
	next := []persistence.AssignedSlot{slotA, slotB, slotC}

	injected := errors.New("network down")
	h.Store.InjectFailure(func(op, key string) error {
		if op == memory.OpFindSessions && key == slotA.Date+"|"+slotA.StartTime {
			return injected
		}
		return nil
	})

	report, err := h.Engine.ReconcileEnrolleeChange(ctx, ana, nil, next)
	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	assert.ErrorIs(t, report.Err(), injected)
	assert.Empty(t, h.SessionsAt(t, slotA.Date, slotA.StartTime))
	assert.Len(t, h.SessionsAt(t, slotB.Date, slotB.StartTime), 1)
	assert.Len(t, h.SessionsAt(t, slotC.Date, slotC.StartTime), 1)

	h.Store.InjectFailure(nil)
	report, err = h.Engine.ReconcileEnrolleeChange(ctx, ana, nil, next)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Len(t, report.SessionsCreated, 1)
	assert.False(t, report.SlotsPersisted)

	h.Store.ResetCalls()
	_, err = h.Engine.ReconcileEnrolleeChange(ctx, ana, nil, next)
	require.NoError(t, err)
	assert.Zero(t, h.Store.Writes())
}

func TestFailedSessionCreateSkipsLink(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := tf.NewHarness()
	ana := seedAna(t, h)

	h.Store.InjectFailure(func(op, key string) error {
		if op == memory.OpCreateSession {
			return persistence.ErrConstraintViolation
		}
		return nil
	})

	report, err := h.Engine.ReconcileEnrolleeChange(ctx, ana, nil, []persistence.AssignedSlot{slotA})
	require.NoError(t, err)
	assert.False(t, report.OK())
	assert.Equal(t, 1, report.Skipped)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "create_session", report.Failures[0].Operation)
	assert.Zero(t, h.Store.Calls(memory.OpUpsertLinks))
}

func TestSlotPersistFailureIsFatal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := tf.NewHarness()
	ana := seedAna(t, h)
	next := []persistence.AssignedSlot{slotA}

	injected := errors.New("permission denied")
	h.Store.InjectFailure(func(op, key string) error {
		if op == memory.OpReplaceSlots {
			return injected
		}
		return nil
	})

	report, err := h.Engine.ReconcileEnrolleeChange(ctx, ana, nil, next)
	require.ErrorIs(t, err, injected)
	assert.False(t, report.SlotsPersisted)
	stored, err := h.Store.GetEnrollee(ctx, ana.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Slots)

	h.Store.InjectFailure(nil)
	h.Store.ResetCalls()
	report, err = h.Engine.ReconcileEnrolleeChange(ctx, ana, nil, next)
	require.NoError(t, err)
	assert.True(t, report.SlotsPersisted)
	assert.Empty(t, report.SessionsCreated)
	assert.Zero(t, report.LinksUpserted)
	assert.Equal(t, 1, h.Store.Writes())
}

func TestFailedRemovalKeepsSlotUntilRetry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := tf.NewHarness()
	ana := seedAna(t, h)

	_, err := h.Engine.ReconcileEnrolleeChange(ctx, ana, nil, []persistence.AssignedSlot{slotA, slotB})
	require.NoError(t, err)
	sessionA := h.SessionsAt(t, slotA.Date, slotA.StartTime)[0]

	injected := errors.New("connection reset")
	h.Store.InjectFailure(func(op, key string) error {
		if op == memory.OpDeleteLinks {
			return injected
		}
		return nil
	})
	report, err := h.Engine.ReconcileEnrolleeChange(ctx, ana,
		[]persistence.AssignedSlot{slotA, slotB},
		[]persistence.AssignedSlot{slotB})
	require.NoError(t, err)
	assert.ErrorIs(t, report.Err(), injected)

	stored, err := h.Store.GetEnrollee(ctx, ana.ID)
	require.NoError(t, err)
	assert.Equal(t, []persistence.AssignedSlot{slotB, slotA}, stored.Slots)
	assert.Equal(t, []string{"ANA GÓMEZ"}, h.Roster(t, sessionA.ID))

	h.Store.InjectFailure(nil)
	report, err = h.Engine.ReconcileEnrolleeChange(ctx, ana, stored.Slots, []persistence.AssignedSlot{slotB})
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, 1, report.LinksDeleted)
	assert.Empty(t, h.Roster(t, sessionA.ID))

	stored, err = h.Store.GetEnrollee(ctx, ana.ID)
	require.NoError(t, err)
	assert.Equal(t, []persistence.AssignedSlot{slotB}, stored.Slots)
}

func TestFullPolicyFollowsLinksAcrossKindChange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := tf.NewHarness(tf.WithPolicy(matching.PolicyFull))
	ana := seedAna(t, h)

	_, err := h.Engine.ReconcileEnrolleeChange(ctx, ana, nil, []persistence.AssignedSlot{slotA, slotB})
	require.NoError(t, err)
	sessionA := h.SessionsAt(t, slotA.Date, slotA.StartTime)[0]
	sessionB := h.SessionsAt(t, slotB.Date, slotB.StartTime)[0]
	require.Equal(t, persistence.KindMesa, sessionA.Kind)

	ana.PreferredKind = persistence.KindTorno
	require.NoError(t, h.Store.UpdateEnrollee(ctx, ana))

	report, err := h.Engine.ReconcileEnrolleeChange(ctx, ana,
		[]persistence.AssignedSlot{slotA, slotB},
		[]persistence.AssignedSlot{slotB})
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, 1, report.LinksDeleted)
	assert.Empty(t, report.SessionsCreated)

	assert.Empty(t, h.Roster(t, sessionA.ID))
	assert.Len(t, h.SessionsAt(t, slotB.Date, slotB.StartTime), 1)
	assert.Equal(t, []string{"ANA GÓMEZ"}, h.Roster(t, sessionB.ID))

	h.Store.ResetCalls()
	_, err = h.Engine.ReconcileEnrolleeChange(ctx, ana, []persistence.AssignedSlot{slotB}, []persistence.AssignedSlot{slotB})
	require.NoError(t, err)
	assert.Zero(t, h.Store.Writes())
}

func TestMalformedSlotIsRejectedBeforeStoreCalls(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := tf.NewHarness()
	ana := seedAna(t, h)
	h.Store.ResetCalls()

	_, err := h.Engine.ReconcileEnrolleeChange(ctx, ana, nil, []persistence.AssignedSlot{
		slotA,
		tf.Slot("2026-02-10", "25:00", "12:00"),
		tf.Slot("2026-02-10", "12:00", "11:00"),
		tf.Slot("10/02/2026", "10:00", "11:00"),
	})

	var vErr *reconcile.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.FieldErrors, "slots[1].start_time")
	assert.Contains(t, vErr.FieldErrors, "slots[2].time")
	assert.Contains(t, vErr.FieldErrors, "slots[3].date")
	assert.NotContains(t, vErr.FieldErrors, "slots[0].date")
	assert.Zero(t, h.Store.Calls(memory.OpGetEnrollee))
	assert.Zero(t, h.Store.Writes())
}

func TestMissingEnrolleeIsFatal(t *testing.T) {
	t.Parallel()
	h := tf.NewHarness()
	ghost := tf.NewEnrollee(tf.WithEnrolleeID("ghost"), tf.WithName("Nadie", "Nunca"))

	_, err := h.Engine.ReconcileEnrolleeChange(context.Background(), ghost, nil, []persistence.AssignedSlot{slotA})
	require.ErrorIs(t, err, persistence.ErrNotFound)
}
