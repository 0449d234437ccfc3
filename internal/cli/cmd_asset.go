package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"upkeep/internal/maintenance"
)

func newAssetCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "asset",
		Aliases: []string{"assets"},
		Short:   "Manage the assets templates maintain",
	}
	cmd.AddCommand(newAssetAddCmd(opts))
	cmd.AddCommand(newAssetListCmd(opts))
	cmd.AddCommand(newAssetRetireCmd(opts))
	return cmd
}

func newAssetAddCmd(opts *rootOptions) *cobra.Command {
	var name, kind string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register an asset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				asset := &maintenance.Asset{
					ID:        uuid.NewString(),
					AccountID: a.cfg.Account,
					Name:      name,
					Kind:      kind,
				}
				if err := a.store.CreateAsset(ctx, asset); err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.format, asset, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "Created asset %s (%s)\n", asset.ID, asset.Name)
					return err
				})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "asset name")
	cmd.Flags().StringVar(&kind, "kind", "", "asset kind, e.g. vehicle or property")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newAssetListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List assets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				assets, err := a.store.ListAssets(ctx, a.cfg.Account)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.format, assets, func(w io.Writer) error {
					tw := newTable(w)
					fmt.Fprintln(tw, "ID\tNAME\tKIND\tSTATUS")
					for _, as := range assets {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", as.ID, as.Name, orDash(as.Kind), as.Status)
					}
					return tw.Flush()
				})
			})
		},
	}
}

func newAssetRetireCmd(opts *rootOptions) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "retire <asset-id>",
		Short: "Retire an asset; its templates stop generating",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.store.SetAssetStatus(ctx, args[0], status); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "Asset %s is now %s\n", args[0], status)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "Retired", "new status")
	return cmd
}
