package application_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elektrorate/calendario-taller-jesus/internal/application"
	"github.com/elektrorate/calendario-taller-jesus/internal/persistence"
	"github.com/elektrorate/calendario-taller-jesus/internal/persistence/memory"
	tf "github.com/elektrorate/calendario-taller-jesus/internal/testfixtures"
)

type services struct {
	h         *tf.Harness
	enrollees *application.EnrolleeService
	sessions  *application.SessionService
	calendar  *application.CalendarService
}

func newServices() services {
	h := tf.NewHarness()
	return services{
		h: h,
		enrollees: application.NewEnrolleeService(h.Store, h.Engine, application.EnrolleeServiceOptions{
			IDGenerator: tf.NewIDGenerator("alumno").NextFunc(),
			Now:         h.Clock.NowFunc(),
			Logger:      h.Logger,
		}),
		sessions: application.NewSessionServiceWithLogger(h.Store, h.Store, h.Engine,
			tf.NewIDGenerator("manual").NextFunc(), h.Clock.NowFunc(), h.Logger),
		calendar: application.NewCalendarService(h.Store, h.Store, h.Store, h.Logger),
	}
}

func anaInput(slots ...persistence.AssignedSlot) application.EnrolleeInput {
	return application.EnrolleeInput{
		FirstName:        " Ana ",
		LastName:         "Gómez",
		PreferredKind:    persistence.KindMesa,
		ClassesRemaining: 4,
		Slots:            slots,
	}
}

var (
	tuesday  = tf.Slot("2026-02-10", "10:00", "12:00")
	thursday = tf.Slot("2026-02-12", "18:00", "20:00")
)

func TestEnrolleeService_CreateEnrollee(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("inserts and links every slot", func(t *testing.T) {
		t.Parallel()
		s := newServices()

		result, err := s.enrollees.CreateEnrollee(ctx, anaInput(tuesday, thursday))
		require.NoError(t, err)
		assert.Equal(t, "alumno-001", result.Enrollee.ID)
		assert.Equal(t, "Ana", result.Enrollee.FirstName)
		assert.Equal(t, []persistence.AssignedSlot{tuesday, thursday}, result.Enrollee.Slots)
		assert.Len(t, result.Report.SessionsCreated, 2)
		assert.Equal(t, 2, result.Report.LinksUpserted)

		sessions := s.h.SessionsAt(t, "2026-02-12", "18:00")
		require.Len(t, sessions, 1)
		assert.Equal(t, []string{"ANA GÓMEZ"}, s.h.Roster(t, sessions[0].ID))
	})

	t.Run("rejects invalid input before writing", func(t *testing.T) {
		t.Parallel()
		s := newServices()

		input := anaInput(tf.Slot("10/02/2026", "10:00", "12:00"))
		input.FirstName = "  "
		input.PreferredKind = persistence.KindFeriado
		_, err := s.enrollees.CreateEnrollee(ctx, input)

		var vErr *application.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Contains(t, vErr.FieldErrors, "first_name")
		assert.Contains(t, vErr.FieldErrors, "preferred_kind")
		assert.Contains(t, vErr.FieldErrors, "slots[0].date")
		assert.Zero(t, s.h.Store.Writes())
	})

	t.Run("stops when the insert fails", func(t *testing.T) {
		t.Parallel()
		s := newServices()
		s.h.Store.InjectFailure(func(op, key string) error {
			if op == memory.OpCreateEnrollee {
				return persistence.ErrDuplicate
			}
			return nil
		})

		_, err := s.enrollees.CreateEnrollee(ctx, anaInput(tuesday))
		require.ErrorIs(t, err, application.ErrAlreadyExists)
		assert.Zero(t, s.h.Store.Calls(memory.OpCreateSession))
		assert.Empty(t, s.h.SessionsAt(t, "2026-02-10", "10:00"))
	})
}

func TestEnrolleeService_UpdateEnrollee(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("moves links with the slot diff", func(t *testing.T) {
		t.Parallel()
		s := newServices()
		created, err := s.enrollees.CreateEnrollee(ctx, anaInput(tuesday))
		require.NoError(t, err)
		before := s.h.SessionsAt(t, "2026-02-10", "10:00")[0]

		input := anaInput(thursday)
		result, err := s.enrollees.UpdateEnrollee(ctx, created.Enrollee.ID, input)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Report.LinksDeleted)
		assert.Equal(t, []persistence.AssignedSlot{thursday}, result.Enrollee.Slots)

		assert.Empty(t, s.h.Links(t, before.ID))
		assert.Len(t, s.h.SessionsAt(t, "2026-02-10", "10:00"), 1)
	})

	t.Run("rename refreshes snapshots without slot changes", func(t *testing.T) {
		t.Parallel()
		s := newServices()
		created, err := s.enrollees.CreateEnrollee(ctx, anaInput(tuesday))
		require.NoError(t, err)

		input := anaInput()
		input.Slots = nil
		input.FirstName = "Anita"
		result, err := s.enrollees.UpdateEnrollee(ctx, created.Enrollee.ID, input)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Report.LinksUpserted)
		assert.Equal(t, []persistence.AssignedSlot{tuesday}, result.Enrollee.Slots)

		session := s.h.SessionsAt(t, "2026-02-10", "10:00")[0]
		assert.Equal(t, []string{"ANITA GÓMEZ"}, s.h.Roster(t, session.ID))
	})

	t.Run("profile-only edit does not reconcile", func(t *testing.T) {
		t.Parallel()
		s := newServices()
		created, err := s.enrollees.CreateEnrollee(ctx, anaInput(tuesday))
		require.NoError(t, err)
		s.h.Store.ResetCalls()

		input := anaInput()
		input.Slots = nil
		input.ClassesRemaining = 10
		result, err := s.enrollees.UpdateEnrollee(ctx, created.Enrollee.ID, input)
		require.NoError(t, err)
		assert.Equal(t, 10, result.Enrollee.ClassesRemaining)
		assert.Equal(t, 1, s.h.Store.Writes())
	})

	t.Run("retry after a failed link delete converges", func(t *testing.T) {
		t.Parallel()
		s := newServices()
		created, err := s.enrollees.CreateEnrollee(ctx, anaInput(tuesday, thursday))
		require.NoError(t, err)
		session := s.h.SessionsAt(t, "2026-02-10", "10:00")[0]

		injected := errors.New("connection reset")
		s.h.Store.InjectFailure(func(op, key string) error {
			if op == memory.OpDeleteLinks {
				return injected
			}
			return nil
		})
		result, err := s.enrollees.UpdateEnrollee(ctx, created.Enrollee.ID, anaInput(thursday))
		require.NoError(t, err)
		assert.ErrorIs(t, result.Report.Err(), injected)
		assert.Equal(t, []string{"ANA GÓMEZ"}, s.h.Roster(t, session.ID))

		s.h.Store.InjectFailure(nil)
		result, err = s.enrollees.UpdateEnrollee(ctx, created.Enrollee.ID, anaInput(thursday))
		require.NoError(t, err)
		assert.True(t, result.Report.OK())
		assert.Equal(t, 1, result.Report.LinksDeleted)
		assert.Empty(t, s.h.Roster(t, session.ID))
		assert.Equal(t, []persistence.AssignedSlot{thursday}, result.Enrollee.Slots)
	})

	t.Run("unknown enrollee", func(t *testing.T) {
		t.Parallel()
		s := newServices()
		_, err := s.enrollees.UpdateEnrollee(ctx, "ghost", anaInput())
		require.ErrorIs(t, err, application.ErrNotFound)
	})
}

func TestEnrolleeService_DeleteEnrollee(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newServices()
	created, err := s.enrollees.CreateEnrollee(ctx, anaInput(tuesday, thursday))
	require.NoError(t, err)

	report, err := s.enrollees.DeleteEnrollee(ctx, created.Enrollee.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, report.LinksDeleted)

	_, err = s.enrollees.GetEnrollee(ctx, created.Enrollee.ID)
	require.ErrorIs(t, err, application.ErrNotFound)
	assert.Len(t, s.h.SessionsAt(t, "2026-02-10", "10:00"), 1)
	assert.Len(t, s.h.SessionsAt(t, "2026-02-12", "18:00"), 1)

	_, err = s.enrollees.DeleteEnrollee(ctx, created.Enrollee.ID)
	require.ErrorIs(t, err, application.ErrNotFound)
}

func TestEnrolleeService_DeleteEnrolleeAfterFailedLinkDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newServices()
	created, err := s.enrollees.CreateEnrollee(ctx, anaInput(tuesday))
	require.NoError(t, err)
	session := s.h.SessionsAt(t, "2026-02-10", "10:00")[0]

	s.h.Store.InjectFailure(func(op, key string) error {
		if op == memory.OpDeleteLinks {
			return errors.New("connection reset")
		}
		return nil
	})
	report, err := s.enrollees.DeleteEnrollee(ctx, created.Enrollee.ID)
	require.NoError(t, err)
	assert.False(t, report.OK())

	s.h.Store.InjectFailure(nil)
	_, err = s.enrollees.GetEnrollee(ctx, created.Enrollee.ID)
	require.ErrorIs(t, err, application.ErrNotFound)
	assert.Empty(t, s.h.Links(t, session.ID))
}

func TestEnrolleeService_RenewEnrollee(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("appends weekly slots and tops up the balance", func(t *testing.T) {
		t.Parallel()
		s := newServices()
		created, err := s.enrollees.CreateEnrollee(ctx, anaInput(tuesday, thursday))
		require.NoError(t, err)

		result, err := s.enrollees.RenewEnrollee(ctx, created.Enrollee.ID, 3)
		require.NoError(t, err)
		assert.Equal(t, 7, result.Enrollee.ClassesRemaining)
		assert.Equal(t, []persistence.AssignedSlot{
			tuesday,
			thursday,
			tf.Slot("2026-02-17", "10:00", "12:00"),
			tf.Slot("2026-02-19", "18:00", "20:00"),
			tf.Slot("2026-02-24", "10:00", "12:00"),
		}, result.Enrollee.Slots)
		assert.Len(t, result.Report.SessionsCreated, 3)
		assert.Len(t, s.h.SessionsAt(t, "2026-02-24", "10:00"), 1)
	})

	t.Run("uses the default count", func(t *testing.T) {
		t.Parallel()
		s := newServices()
		created, err := s.enrollees.CreateEnrollee(ctx, anaInput(tuesday))
		require.NoError(t, err)

		result, err := s.enrollees.RenewEnrollee(ctx, created.Enrollee.ID, 0)
		require.NoError(t, err)
		assert.Equal(t, 8, result.Enrollee.ClassesRemaining)
		assert.Len(t, result.Enrollee.Slots, 5)
	})

	t.Run("without slots only the balance changes", func(t *testing.T) {
		t.Parallel()
		s := newServices()
		created, err := s.enrollees.CreateEnrollee(ctx, anaInput())
		require.NoError(t, err)

		result, err := s.enrollees.RenewEnrollee(ctx, created.Enrollee.ID, 2)
		require.NoError(t, err)
		assert.Equal(t, 6, result.Enrollee.ClassesRemaining)
		assert.Empty(t, result.Enrollee.Slots)
		assert.Zero(t, s.h.Store.Calls(memory.OpCreateSession))
	})
}

func TestSessionService_CreateSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("manual session with roster", func(t *testing.T) {
		t.Parallel()
		s := newServices()
		_, err := s.enrollees.CreateEnrollee(ctx, anaInput())
		require.NoError(t, err)

		teacher := " profe-1 "
		result, err := s.sessions.CreateSession(ctx, application.SessionInput{
			Date:       "2026-02-20",
			StartTime:  "9:30",
			EndTime:    "11:30",
			Kind:       persistence.KindTorno,
			TeacherID:  &teacher,
			Students:   []string{"ana gómez", "Desconocido"},
			Attendance: map[string]persistence.Attendance{"ANA GÓMEZ": persistence.AttendancePresent},
		})
		require.NoError(t, err)
		assert.Equal(t, "manual-001", result.Session.ID)
		assert.Equal(t, persistence.ProvenanceManual, result.Session.Provenance)
		assert.Equal(t, "09:30", result.Session.StartTime)
		assert.Equal(t, "profe-1", *result.Session.TeacherID)
		assert.Equal(t, []string{"ANA GÓMEZ"}, result.Roster)
		assert.Equal(t, map[string]persistence.Attendance{"ANA GÓMEZ": persistence.AttendancePresent}, result.Attendance)
		assert.Equal(t, []string{"DESCONOCIDO"}, result.Report.Unresolved)
	})

	t.Run("validates fields", func(t *testing.T) {
		t.Parallel()
		s := newServices()
		_, err := s.sessions.CreateSession(ctx, application.SessionInput{
			Date:      "2026-02-30",
			StartTime: "12:00",
			EndTime:   "10:00",
			Kind:      persistence.KindFeriado,
			Students:  []string{"Ana Gómez"},
		})
		var vErr *application.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Contains(t, vErr.FieldErrors, "date")
		assert.Contains(t, vErr.FieldErrors, "end_time")
		assert.Contains(t, vErr.FieldErrors, "students")
		assert.Zero(t, s.h.Store.Writes())
	})
}

func TestSessionService_UpdateSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	setup := func(t *testing.T) (services, string) {
		t.Helper()
		s := newServices()
		_, err := s.enrollees.CreateEnrollee(ctx, anaInput())
		require.NoError(t, err)
		result, err := s.sessions.CreateSession(ctx, application.SessionInput{
			Date:      "2026-02-20",
			StartTime: "10:00",
			EndTime:   "12:00",
			Students:  []string{"Ana Gómez"},
		})
		require.NoError(t, err)
		return s, result.Session.ID
	}

	t.Run("holiday clears the roster", func(t *testing.T) {
		t.Parallel()
		s, id := setup(t)
		feriado := persistence.KindFeriado

		result, err := s.sessions.UpdateSession(ctx, id, application.SessionPatch{Kind: &feriado})
		require.NoError(t, err)
		assert.Equal(t, persistence.KindFeriado, result.Session.Kind)
		assert.Empty(t, result.Roster)
		assert.Equal(t, 1, result.Report.LinksDeleted)
		assert.Empty(t, s.h.Links(t, id))
	})

	t.Run("attendance alone syncs the current roster", func(t *testing.T) {
		t.Parallel()
		s, id := setup(t)

		result, err := s.sessions.UpdateSession(ctx, id, application.SessionPatch{
			Attendance: map[string]persistence.Attendance{"ANA GÓMEZ": persistence.AttendanceAbsent},
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]persistence.Attendance{"ANA GÓMEZ": persistence.AttendanceAbsent}, result.Attendance)
		assert.Equal(t, []string{"ANA GÓMEZ"}, result.Roster)
		assert.Zero(t, s.h.Store.Calls(memory.OpUpdateSession))
	})

	t.Run("empty student list clears links and keeps the session", func(t *testing.T) {
		t.Parallel()
		s, id := setup(t)

		result, err := s.sessions.UpdateSession(ctx, id, application.SessionPatch{Students: []string{}})
		require.NoError(t, err)
		assert.Empty(t, result.Roster)

		entry, err := s.sessions.GetSession(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, entry.Session.ID)
	})

	t.Run("field edits are persisted", func(t *testing.T) {
		t.Parallel()
		s, id := setup(t)
		workshop := "Esmaltes"
		end := "13:00"

		result, err := s.sessions.UpdateSession(ctx, id, application.SessionPatch{EndTime: &end, WorkshopName: &workshop})
		require.NoError(t, err)
		assert.Equal(t, "13:00", result.Session.EndTime)
		assert.Equal(t, []string{"ANA GÓMEZ"}, result.Roster)

		stored, err := s.h.Store.GetSession(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "Esmaltes", *stored.WorkshopName)
	})
}

func TestSessionService_DeleteSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newServices()
	_, err := s.enrollees.CreateEnrollee(ctx, anaInput(tuesday))
	require.NoError(t, err)
	session := s.h.SessionsAt(t, "2026-02-10", "10:00")[0]

	require.NoError(t, s.sessions.DeleteSession(ctx, session.ID))
	assert.Empty(t, s.h.Links(t, session.ID))
	_, err = s.sessions.GetSession(ctx, session.ID)
	require.ErrorIs(t, err, application.ErrNotFound)
	require.ErrorIs(t, s.sessions.DeleteSession(ctx, session.ID), application.ErrNotFound)
}

func TestCalendarService_Snapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("joins links onto sessions", func(t *testing.T) {
		t.Parallel()
		s := newServices()
		_, err := s.enrollees.CreateEnrollee(ctx, anaInput(tuesday))
		require.NoError(t, err)
		_, err = s.sessions.CreateSession(ctx, application.SessionInput{Date: "2026-02-20", StartTime: "10:00", EndTime: "12:00"})
		require.NoError(t, err)
		_, err = s.sessions.CreateSession(ctx, application.SessionInput{Date: "2026-03-20", StartTime: "10:00", EndTime: "12:00"})
		require.NoError(t, err)

		calendar, err := s.calendar.Snapshot(ctx, application.CalendarFilter{DateFrom: "2026-02-01", DateTo: "2026-02-28"})
		require.NoError(t, err)
		require.Len(t, calendar.Entries, 2)
		assert.Len(t, calendar.Enrollees, 1)
		assert.Equal(t, "2026-02-10", calendar.Entries[0].Session.Date)
		assert.Equal(t, []string{"ANA GÓMEZ"}, calendar.Entries[0].Roster)
		assert.Empty(t, calendar.Entries[1].Roster)
	})

	t.Run("fails when a read fails", func(t *testing.T) {
		t.Parallel()
		s := newServices()
		boom := errors.New("link table unavailable")
		s.h.Store.InjectFailure(func(op, key string) error {
			if op == memory.OpFindLinks {
				return boom
			}
			return nil
		})

		_, err := s.calendar.Snapshot(ctx, application.CalendarFilter{})
		require.ErrorIs(t, err, boom)
	})
}
