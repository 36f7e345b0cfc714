// Package cli implements the taller command line.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string // "json" | "text"
	Memory bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the taller CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "taller",
		Short: "Workshop calendar for the pottery taller",
		Long: `Manage enrollees, class sessions and attendance for the pottery workshop.

Every change to an enrollee's slots or to a session roster is reconciled into
the calendar: sessions are created on demand and the enrollee/session links
are kept in step on both sides.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVar(&opts.Memory, "memory", false, "run against an empty in-memory store")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewEnrolleeCommand(opts))
	cmd.AddCommand(NewSessionCommand(opts))
	cmd.AddCommand(NewAttendanceCommand(opts))
	cmd.AddCommand(NewCalendarCommand(opts))

	return cmd
}
