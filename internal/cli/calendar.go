package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/elektrorate/calendario-taller-jesus/internal/application"
)

// NewCalendarCommand creates the calendar command.
func NewCalendarCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		date   string
		filter application.CalendarFilter
	)
	cmd := &cobra.Command{
		Use:   "calendar [--date D | --from D --to D]",
		Short: "Show sessions with their rosters and attendance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if date != "" {
				filter.DateFrom, filter.DateTo = date, date
			}
			return run(cmd, rootOpts, func(ctx context.Context, a *app) error {
				calendar, err := a.calendar.Snapshot(ctx, filter)
				if err != nil {
					return err
				}
				view := calendarView{Sessions: make([]entryView, 0, len(calendar.Entries)), Enrollees: len(calendar.Enrollees)}
				for _, entry := range calendar.Entries {
					view.Sessions = append(view.Sessions, newEntryView(entry))
				}
				return a.out.Success(view)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "single day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&filter.DateFrom, "from", "", "first day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&filter.DateTo, "to", "", "last day (YYYY-MM-DD)")
	cmd.MarkFlagsMutuallyExclusive("date", "from")
	cmd.MarkFlagsMutuallyExclusive("date", "to")
	return cmd
}
