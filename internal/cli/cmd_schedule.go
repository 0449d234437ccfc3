package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"upkeep/internal/maintenance"
)

func newScheduleCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Generate maintenance tasks from templates",
	}
	cmd.AddCommand(newScheduleRunCmd(opts))
	cmd.AddCommand(newScheduleTemplateCmd(opts))
	return cmd
}

func newScheduleRunCmd(opts *rootOptions) *cobra.Command {
	var lookahead int
	var nowFlag string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Create due occurrences for every active template",
		Long: `Walk every active template in the account and create the tasks whose
lead window has opened, up to the lookahead horizon. Running it again with the
same inputs creates nothing new.

Examples:
  upkeep schedule run
  upkeep schedule run --lookahead 24
  upkeep schedule run --now 2024-09-25 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			now, err := parseDateFlag("now", nowFlag)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				var at time.Time
				if now != nil {
					at = *now
				}
				res, err := a.svc.RunScheduler(ctx, a.cfg.Account, lookahead, at)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.format, res, func(w io.Writer) error {
					return printRunResult(w, res)
				})
			})
		},
	}
	cmd.Flags().IntVar(&lookahead, "lookahead", 0, "months to look ahead (default from config)")
	cmd.Flags().StringVar(&nowFlag, "now", "", "run as of this date (YYYY-MM-DD)")
	return cmd
}

func newScheduleTemplateCmd(opts *rootOptions) *cobra.Command {
	var nowFlag string

	cmd := &cobra.Command{
		Use:   "template <template-id>",
		Short: "Create due occurrences for one template",
		Long: `Run the scheduler for a single template, looking ahead by the template's
own cadence.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			now, err := parseDateFlag("now", nowFlag)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				var at time.Time
				if now != nil {
					at = *now
				}
				res, err := a.svc.RunTemplate(ctx, args[0], at)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.format, res, func(w io.Writer) error {
					return printRunResult(w, res)
				})
			})
		},
	}
	cmd.Flags().StringVar(&nowFlag, "now", "", "run as of this date (YYYY-MM-DD)")
	return cmd
}

func printRunResult(w io.Writer, res *maintenance.RunResult) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "TEMPLATE\tCREATED\tDUE DATES\tNEXT\tNOTE")
	for _, tr := range res.PerTemplate {
		note := ""
		switch {
		case tr.Error != "":
			note = "error: " + tr.Error
		case tr.Skipped:
			note = "skipped: " + tr.SkipReason
		case tr.CapReached:
			note = "iteration cap reached"
		}
		due := "-"
		if len(tr.CreatedDue) > 0 {
			due = fmt.Sprint(tr.CreatedDue)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", tr.Title, tr.Created, due, orDash(tr.NextScheduledAt), orDash(note))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nProcessed %d template(s), created %d task(s), horizon %s\n",
		res.Processed, res.Created, res.Horizon)
	return err
}
