package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/elektrorate/calendario-taller-jesus/internal/application"
)

// NewEnrolleeCommand creates the enrollee command group.
func NewEnrolleeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enrollee",
		Short: "Create, update, renew and delete enrollees",
	}
	cmd.AddCommand(newEnrolleeApplyCommand(rootOpts))
	cmd.AddCommand(newEnrolleeRenewCommand(rootOpts))
	cmd.AddCommand(newEnrolleeDeleteCommand(rootOpts))
	cmd.AddCommand(newEnrolleeListCommand(rootOpts))
	return cmd
}

func newEnrolleeApplyCommand(rootOpts *RootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "apply -f FILE",
		Short: "Create or update enrollees from a YAML file",
		Long: `Create or update enrollees from a YAML file ("-" reads stdin).

Each YAML document is one enrollee. Documents with an id update that
enrollee; the others are created. Slots may be listed explicitly or
generated from a weekly block.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return WrapExitError(ExitCommandError, "open enrollee file", err)
				}
				defer f.Close()
				r = f
			}
			docs, err := DecodeEnrolleeDocuments(r)
			if err != nil {
				return WrapExitError(ExitCommandError, "read enrollee file", err)
			}
			return run(cmd, rootOpts, func(ctx context.Context, a *app) error {
				return applyEnrollees(ctx, a, docs)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "enrollee YAML file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func applyEnrollees(ctx context.Context, a *app, docs []EnrolleeDocument) error {
	views := make(enrolleeListView, 0, len(docs))
	var failed error
	for i, doc := range docs {
		input, err := doc.Input(a.planner)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("document %d", i+1), err)
		}
		var result application.EnrolleeResult
		if doc.ID == "" {
			result, err = a.enrollees.CreateEnrollee(ctx, input)
		} else {
			result, err = a.enrollees.UpdateEnrollee(ctx, doc.ID, input)
		}
		if err != nil {
			return fmt.Errorf("document %d: %w", i+1, err)
		}
		view := newEnrolleeView(result.Enrollee)
		report := newReportView(result.Report)
		view.Report = &report
		views = append(views, view)
		if err := reportResult(result.Report); err != nil && failed == nil {
			failed = err
		}
	}
	if err := a.out.Success(views); err != nil {
		return err
	}
	return failed
}

func newEnrolleeRenewCommand(rootOpts *RootOptions) *cobra.Command {
	var classes int
	cmd := &cobra.Command{
		Use:   "renew ID",
		Short: "Add classes and continue the weekly slot pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, rootOpts, func(ctx context.Context, a *app) error {
				result, err := a.enrollees.RenewEnrollee(ctx, args[0], classes)
				if err != nil {
					return err
				}
				view := newEnrolleeView(result.Enrollee)
				report := newReportView(result.Report)
				view.Report = &report
				if err := a.out.Success(view); err != nil {
					return err
				}
				return reportResult(result.Report)
			})
		},
	}
	cmd.Flags().IntVar(&classes, "classes", 0, "classes to add (default from TALLER_RENEW_CLASSES)")
	return cmd
}

func newEnrolleeDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete an enrollee and remove it from every session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, rootOpts, func(ctx context.Context, a *app) error {
				report, err := a.enrollees.DeleteEnrollee(ctx, args[0])
				if err != nil {
					return err
				}
				if err := a.out.Success(newReportView(report)); err != nil {
					return err
				}
				return reportResult(report)
			})
		},
	}
}

func newEnrolleeListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List enrollees",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, rootOpts, func(ctx context.Context, a *app) error {
				enrollees, err := a.enrollees.ListEnrollees(ctx)
				if err != nil {
					return err
				}
				views := make(enrolleeListView, 0, len(enrollees))
				for _, e := range enrollees {
					views = append(views, newEnrolleeView(e))
				}
				return a.out.Success(views)
			})
		},
	}
}
