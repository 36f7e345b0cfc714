package reconcile_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elektrorate/calendario-taller-jesus/internal/persistence"
	"github.com/elektrorate/calendario-taller-jesus/internal/persistence/memory"
	"github.com/elektrorate/calendario-taller-jesus/internal/reconcile"
	tf "github.com/elektrorate/calendario-taller-jesus/internal/testfixtures"
)

type rosterFixture struct {
	h       *tf.Harness
	session persistence.Session
}

func newRosterFixture(t *testing.T) rosterFixture {
	t.Helper()
	h := tf.NewHarness()
	h.SeedEnrollee(t, tf.NewEnrollee(tf.WithEnrolleeID("ana"), tf.WithName("Ana", "Gómez")))
	h.SeedEnrollee(t, tf.NewEnrollee(tf.WithEnrolleeID("luis"), tf.WithName("Luis", "Pérez")))
	h.SeedEnrollee(t, tf.NewEnrollee(tf.WithEnrolleeID("sara"), tf.WithName("Sara", "Núñez")))
	session := h.SeedSession(t, tf.NewSession(tf.WithSessionID("s1")))
	return rosterFixture{h: h, session: session}
}

func TestRosterAddsAndRemovesNames(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newRosterFixture(t)
	f.h.SeedLink(t, persistence.Link{SessionID: "s1", EnrolleeID: "ana", NameSnapshot: "ANA GÓMEZ"})
	f.h.SeedLink(t, persistence.Link{SessionID: "s1", EnrolleeID: "luis", NameSnapshot: "LUIS PÉREZ"})

	report, err := f.h.Engine.ReconcileSessionRoster(ctx, "s1", []string{"ana gómez", " sara  núñez ", "Pedro Desconocido"}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, report.LinksDeleted)
	assert.Equal(t, 1, report.LinksUpserted)
	assert.Equal(t, []string{"PEDRO DESCONOCIDO"}, report.Unresolved)
	assert.Equal(t, []string{"ANA GÓMEZ", "SARA NÚÑEZ"}, f.h.Roster(t, "s1"))
}

func TestRosterAppliesAttendanceMap(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newRosterFixture(t)
	f.h.SeedLink(t, persistence.Link{SessionID: "s1", EnrolleeID: "ana", NameSnapshot: "ANA GÓMEZ", Attendance: persistence.AttendancePresent})

	_, err := f.h.Engine.ReconcileSessionRoster(ctx, "s1",
		[]string{"Ana Gómez", "Luis Pérez"},
		map[string]persistence.Attendance{"luis pérez": persistence.AttendanceAbsent})
	require.NoError(t, err)

	assert.Equal(t, map[string]persistence.Attendance{"LUIS PÉREZ": persistence.AttendanceAbsent},
		reconcile.AttendanceMap(f.h.Links(t, "s1")))
}

func TestRosterWithoutAttendanceMapKeepsValues(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newRosterFixture(t)
	f.h.SeedLink(t, persistence.Link{SessionID: "s1", EnrolleeID: "ana", NameSnapshot: "ANA GÓMEZ", Attendance: persistence.AttendancePresent})

	_, err := f.h.Engine.ReconcileSessionRoster(ctx, "s1", []string{"Ana Gómez", "Luis Pérez"}, nil)
	require.NoError(t, err)

	assert.Equal(t, map[string]persistence.Attendance{"ANA GÓMEZ": persistence.AttendancePresent},
		reconcile.AttendanceMap(f.h.Links(t, "s1")))
}

func TestRosterReconcileIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newRosterFixture(t)
	names := []string{"Ana Gómez", "Luis Pérez"}
	attendance := map[string]persistence.Attendance{"Ana Gómez": persistence.AttendancePresent}

	_, err := f.h.Engine.ReconcileSessionRoster(ctx, "s1", names, attendance)
	require.NoError(t, err)

	f.h.Store.ResetCalls()
	report, err := f.h.Engine.ReconcileSessionRoster(ctx, "s1", names, attendance)
	require.NoError(t, err)
	assert.Zero(t, f.h.Store.Writes())
	assert.Equal(t, 2, report.NoOps)
}

func TestEmptyRosterDeletesLinksKeepsSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newRosterFixture(t)
	f.h.SeedLink(t, persistence.Link{SessionID: "s1", EnrolleeID: "ana", NameSnapshot: "ANA GÓMEZ"})
	f.h.SeedLink(t, persistence.Link{SessionID: "s1", EnrolleeID: "luis", NameSnapshot: "LUIS PÉREZ"})

	report, err := f.h.Engine.ReconcileSessionRoster(ctx, "s1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, report.LinksDeleted)
	assert.Equal(t, 1, f.h.Store.Calls(memory.OpDeleteLinks))
	assert.Empty(t, f.h.Roster(t, "s1"))

	_, err = f.h.Store.GetSession(ctx, "s1")
	require.NoError(t, err)
}

func TestLegacyLinkMatchedBySnapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newRosterFixture(t)
	// Ana has since been renamed; the link still carries the old snapshot.
	require.NoError(t, f.h.Store.UpdateEnrollee(ctx, tf.NewEnrollee(tf.WithEnrolleeID("ana"), tf.WithName("Ana María", "Gómez"))))
	f.h.SeedLink(t, persistence.Link{SessionID: "s1", EnrolleeID: "ana", NameSnapshot: "ANA GÓMEZ"})

	_, err := f.h.Engine.ReconcileSessionRoster(ctx, "s1", []string{"Ana Gómez"}, nil)
	require.NoError(t, err)

	f.h.Store.ResetCalls()
	_, err = f.h.Engine.ReconcileSessionRoster(ctx, "s1", []string{"Ana Gómez"}, nil)
	require.NoError(t, err)
	assert.Zero(t, f.h.Store.Writes())
	assert.Equal(t, []string{"ANA GÓMEZ"}, f.h.Roster(t, "s1"))
}

func TestHolidayRosterRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := tf.NewHarness()
	h.SeedSession(t, tf.NewSession(tf.WithSessionID("holiday"), tf.WithSessionKind(persistence.KindFeriado)))

	_, err := h.Engine.ReconcileSessionRoster(ctx, "holiday", []string{"Ana Gómez"}, nil)
	var vErr *reconcile.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.FieldErrors, "roster")
}

func TestRosterRejectsInvalidAttendance(t *testing.T) {
	t.Parallel()
	f := newRosterFixture(t)
	f.h.Store.ResetCalls()

	_, err := f.h.Engine.ReconcileSessionRoster(context.Background(), "s1", []string{"Ana Gómez"},
		map[string]persistence.Attendance{"Ana Gómez": "late"})
	var vErr *reconcile.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Zero(t, f.h.Store.Calls(memory.OpGetSession))
}

func TestRosterPerItemFailureContinues(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newRosterFixture(t)
	injected := errors.New("timeout")
	f.h.Store.InjectFailure(func(op, key string) error {
		if op == memory.OpUpsertLinks && key == "s1|ana" {
			return injected
		}
		return nil
	})

	report, err := f.h.Engine.ReconcileSessionRoster(ctx, "s1", []string{"Ana Gómez", "Luis Pérez", "Sara Núñez"}, nil)
	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	assert.ErrorIs(t, report.Err(), injected)
	assert.Equal(t, []string{"LUIS PÉREZ", "SARA NÚÑEZ"}, f.h.Roster(t, "s1"))
}

func TestRosterMissingSessionIsFatal(t *testing.T) {
	t.Parallel()
	h := tf.NewHarness()
	_, err := h.Engine.ReconcileSessionRoster(context.Background(), "nope", []string{"Ana Gómez"}, nil)
	require.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestSyncSessionAttendanceWritesOnlyChanges(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newRosterFixture(t)
	f.h.SeedLink(t, persistence.Link{SessionID: "s1", EnrolleeID: "ana", NameSnapshot: "ANA GÓMEZ", Attendance: persistence.AttendancePresent})
	f.h.SeedLink(t, persistence.Link{SessionID: "s1", EnrolleeID: "luis", NameSnapshot: "LUIS PÉREZ", Attendance: persistence.AttendanceAbsent})
	f.h.SeedLink(t, persistence.Link{SessionID: "s1", EnrolleeID: "sara", NameSnapshot: "SARA NÚÑEZ"})
	f.h.Store.ResetCalls()

	report, err := f.h.Engine.SyncSessionAttendance(ctx, "s1", map[string]persistence.Attendance{
		"Ana Gómez":  persistence.AttendancePresent,
		"Sara Núñez": persistence.AttendancePresent,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, report.LinksUpserted)
	assert.Equal(t, 1, report.NoOps)
	assert.Equal(t, map[string]persistence.Attendance{
		"ANA GÓMEZ":  persistence.AttendancePresent,
		"SARA NÚÑEZ": persistence.AttendancePresent,
	}, reconcile.AttendanceMap(f.h.Links(t, "s1")))
	assert.Equal(t, []string{"ANA GÓMEZ", "LUIS PÉREZ", "SARA NÚÑEZ"}, f.h.Roster(t, "s1"))
}

func TestClearSessionRoster(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newRosterFixture(t)
	f.h.SeedLink(t, persistence.Link{SessionID: "s1", EnrolleeID: "ana", NameSnapshot: "ANA GÓMEZ"})

	report, err := f.h.Engine.ClearSessionRoster(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.LinksDeleted)
	assert.Empty(t, f.h.Roster(t, "s1"))

	f.h.Store.ResetCalls()
	report, err = f.h.Engine.ClearSessionRoster(ctx, "s1")
	require.NoError(t, err)
	assert.Zero(t, report.Writes())
	assert.Zero(t, f.h.Store.Writes())
}
