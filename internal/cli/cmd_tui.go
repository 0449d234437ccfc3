package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"upkeep/internal/ui"
)

func newTUICmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Browse and update tasks interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Log lines would tear the alternate screen.
			cmd.SetErr(io.Discard)
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				return ui.Run(ctx, a.store, a.svc, a.cfg)
			})
		},
	}
}
