package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newAuditCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit log",
	}
	cmd.AddCommand(newAuditListCmd(opts))
	return cmd
}

func newAuditListCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show recent audit entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				entries, err := a.store.ListAudit(ctx, a.cfg.Account, limit)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.format, entries, func(w io.Writer) error {
					tw := newTable(w)
					fmt.Fprintln(tw, "WHEN\tENTITY\tID\tACTION\tDETAIL")
					for _, e := range entries {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
							humanize.Time(e.CreatedAt), e.Entity, e.EntityID, e.Action, orDash(e.Detail))
					}
					return tw.Flush()
				})
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum entries")
	return cmd
}
