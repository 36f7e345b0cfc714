package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/elektrorate/calendario-taller-jesus/internal/application"
	"github.com/elektrorate/calendario-taller-jesus/internal/persistence"
)

// NewSessionCommand creates the session command group.
func NewSessionCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage calendar sessions and their rosters",
	}
	cmd.AddCommand(newSessionCreateCommand(rootOpts))
	cmd.AddCommand(newSessionShowCommand(rootOpts))
	cmd.AddCommand(newSessionRosterCommand(rootOpts))
	cmd.AddCommand(newSessionKindCommand(rootOpts))
	cmd.AddCommand(newSessionFinalizeCommand(rootOpts))
	cmd.AddCommand(newSessionDeleteCommand(rootOpts))
	return cmd
}

type attendanceFlags struct {
	present []string
	absent  []string
}

func (f *attendanceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&f.present, "present", nil, "mark NAME present (repeatable)")
	cmd.Flags().StringArrayVar(&f.absent, "absent", nil, "mark NAME absent (repeatable)")
}

// attendance returns nil when neither flag was given so stored values are kept.
func (f *attendanceFlags) attendance() map[string]persistence.Attendance {
	if len(f.present) == 0 && len(f.absent) == 0 {
		return nil
	}
	out := make(map[string]persistence.Attendance, len(f.present)+len(f.absent))
	for _, name := range f.present {
		out[name] = persistence.AttendancePresent
	}
	for _, name := range f.absent {
		out[name] = persistence.AttendanceAbsent
	}
	return out
}

func newSessionCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		input    application.SessionInput
		kind     string
		teacher  string
		workshop string
		reason   string
		marks    attendanceFlags
	)
	cmd := &cobra.Command{
		Use:   "create --date D --start HH:MM --end HH:MM [--student NAME...]",
		Short: "Create a manual session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			input.Kind = persistence.SessionKind(kind)
			input.TeacherID = optionalFlag(cmd, "teacher", teacher)
			input.WorkshopName = optionalFlag(cmd, "workshop", workshop)
			input.PrivateReason = optionalFlag(cmd, "reason", reason)
			input.Attendance = marks.attendance()
			return run(cmd, rootOpts, func(ctx context.Context, a *app) error {
				result, err := a.sessions.CreateSession(ctx, input)
				if err != nil {
					return err
				}
				return emitSessionResult(a, result)
			})
		},
	}
	cmd.Flags().StringVar(&input.Date, "date", "", "session date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&input.StartTime, "start", "", "start time (HH:MM)")
	cmd.Flags().StringVar(&input.EndTime, "end", "", "end time (HH:MM)")
	cmd.Flags().StringVar(&kind, "kind", string(persistence.KindMesa), "class kind (mesa|torno|workshop|privada|feriado)")
	cmd.Flags().StringVar(&teacher, "teacher", "", "teacher id")
	cmd.Flags().StringVar(&workshop, "workshop", "", "workshop name")
	cmd.Flags().StringVar(&reason, "reason", "", "reason for a private class")
	cmd.Flags().StringArrayVar(&input.Students, "student", nil, "enrollee name on the roster (repeatable)")
	marks.register(cmd)
	_ = cmd.MarkFlagRequired("date")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func newSessionShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show a session with its roster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, rootOpts, func(ctx context.Context, a *app) error {
				entry, err := a.sessions.GetSession(ctx, args[0])
				if err != nil {
					return err
				}
				return a.out.Success(newEntryView(entry))
			})
		},
	}
}

func newSessionRosterCommand(rootOpts *RootOptions) *cobra.Command {
	var marks attendanceFlags
	cmd := &cobra.Command{
		Use:   "roster ID [NAME...]",
		Short: "Replace the roster of a session",
		Long: `Replace the roster of a session with the given names.

Names are matched to enrollees by full name. Giving no names clears the
roster; the session itself is kept. --present and --absent set attendance
alongside the roster change.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := application.SessionPatch{
				Students:   append([]string{}, args[1:]...),
				Attendance: marks.attendance(),
			}
			return run(cmd, rootOpts, func(ctx context.Context, a *app) error {
				result, err := a.sessions.UpdateSession(ctx, args[0], patch)
				if err != nil {
					return err
				}
				return emitSessionResult(a, result)
			})
		},
	}
	marks.register(cmd)
	return cmd
}

func newSessionKindCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "kind ID KIND",
		Short: "Change the class kind of a session; feriado clears the roster",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := persistence.SessionKind(args[1])
			return run(cmd, rootOpts, func(ctx context.Context, a *app) error {
				result, err := a.sessions.UpdateSession(ctx, args[0], application.SessionPatch{Kind: &kind})
				if err != nil {
					return err
				}
				return emitSessionResult(a, result)
			})
		},
	}
}

func newSessionFinalizeCommand(rootOpts *RootOptions) *cobra.Command {
	var substitute string
	cmd := &cobra.Command{
		Use:   "finalize ID [--substitute TEACHER]",
		Short: "Mark a session completed",
		Long: `Mark a session completed. The completion time is recorded once.

--substitute records the teacher who covered the class; an empty value
clears a previously recorded substitute.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sub *string
			if cmd.Flags().Changed("substitute") {
				sub = &substitute
			}
			return run(cmd, rootOpts, func(ctx context.Context, a *app) error {
				if _, err := a.attendance.Finalize(ctx, args[0], sub); err != nil {
					return err
				}
				entry, err := a.sessions.GetSession(ctx, args[0])
				if err != nil {
					return err
				}
				return a.out.Success(newEntryView(entry))
			})
		},
	}
	cmd.Flags().StringVar(&substitute, "substitute", "", "substitute teacher id")
	return cmd
}

func newSessionDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a session and its roster links",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, rootOpts, func(ctx context.Context, a *app) error {
				if err := a.sessions.DeleteSession(ctx, args[0]); err != nil {
					return err
				}
				return a.out.Success(messageView{Message: "session " + args[0] + " deleted"})
			})
		},
	}
}

func emitSessionResult(a *app, result application.SessionResult) error {
	view := newEntryView(result.CalendarEntry)
	report := newReportView(result.Report)
	view.Report = &report
	if err := a.out.Success(view); err != nil {
		return err
	}
	return reportResult(result.Report)
}

func optionalFlag(cmd *cobra.Command, name, value string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &value
}
