package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, rootOpts, func(ctx context.Context, a *app) error {
				if a.store == nil {
					return a.out.Success(migrateView{})
				}
				applied, err := a.store.Migrate(ctx)
				if err != nil {
					return WrapExitError(ExitCommandError, "migrate", err)
				}
				return a.out.Success(migrateView{Applied: applied})
			})
		},
	}
}
