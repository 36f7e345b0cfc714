package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/elektrorate/calendario-taller-jesus/internal/attendance"
	"github.com/elektrorate/calendario-taller-jesus/internal/persistence"
)

// NewAttendanceCommand creates the attendance command group.
func NewAttendanceCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attendance",
		Short: "Record attendance for enrollees on a session roster",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set SESSION NAME STATUS",
		Short: "Set attendance to present, absent or pending",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, rootOpts, func(ctx context.Context, a *app) error {
				result, err := a.attendance.SetAttendance(ctx, args[0], args[1], persistence.Attendance(args[2]))
				if err != nil {
					return err
				}
				return a.out.Success(newAttendanceView(result))
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear SESSION NAME",
		Short: "Reset attendance to pending",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, rootOpts, func(ctx context.Context, a *app) error {
				result, err := a.attendance.ClearAttendance(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return a.out.Success(newAttendanceView(result))
			})
		},
	})
	return cmd
}

func newAttendanceView(result attendance.Result) attendanceView {
	return attendanceView{
		SessionID: result.Link.SessionID,
		Name:      result.Link.NameSnapshot,
		Status:    string(result.Link.Attendance),
		Changed:   result.Changed,
	}
}
