package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"upkeep/internal/maintenance"
	"upkeep/internal/recurrence"
)

func newTemplateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "template",
		Aliases: []string{"templates", "tpl"},
		Short:   "Manage recurring maintenance templates",
	}
	cmd.AddCommand(newTemplateAddCmd(opts))
	cmd.AddCommand(newTemplateListCmd(opts))
	cmd.AddCommand(newTemplateActiveCmd(opts, "pause", false))
	cmd.AddCommand(newTemplateActiveCmd(opts, "resume", true))
	return cmd
}

func newTemplateAddCmd(opts *rootOptions) *cobra.Command {
	var (
		title    string
		notes    string
		cadence  int
		lead     int
		start    string
		assetID  string
		inactive bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a template",
		Long: `Create a recurring maintenance template.

Examples:
  upkeep template add --title "Gutter clean" --cadence 6 --lead 14
  upkeep template add --title "Oil change" --cadence 3 --asset <asset-id> --start 2024-01-01`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			startDate, err := parseDateFlag("start", start)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				tpl := &maintenance.Template{
					AccountID:     a.cfg.Account,
					Title:         title,
					Notes:         notes,
					CadenceMonths: cadence,
					LeadTimeDays:  lead,
					StartDate:     startDate,
					AssetID:       assetID,
					Active:        !inactive,
				}
				if err := a.svc.CreateTemplate(ctx, tpl); err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.format, tpl, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "Created template %s (%s, every %d month(s))\n", tpl.ID, tpl.Title, tpl.CadenceMonths)
					return err
				})
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "template title")
	cmd.Flags().StringVar(&notes, "notes", "", "notes copied to every occurrence")
	cmd.Flags().IntVar(&cadence, "cadence", 0, "months between occurrences")
	cmd.Flags().IntVar(&lead, "lead", 0, "days before the due date an occurrence is created")
	cmd.Flags().StringVar(&start, "start", "", "first due date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&assetID, "asset", "", "linked asset id")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "create paused")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("cadence")
	return cmd
}

func newTemplateListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				templates, err := a.store.ListTemplates(ctx, a.cfg.Account)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.format, templates, func(w io.Writer) error {
					tw := newTable(w)
					fmt.Fprintln(tw, "ID\tTITLE\tCADENCE\tLEAD\tACTIVE\tLAST\tNEXT")
					for _, t := range templates {
						fmt.Fprintf(tw, "%s\t%s\t%dmo\t%dd\t%t\t%s\t%s\n",
							t.ID, t.Title, t.CadenceMonths, t.LeadTimeDays, t.Active,
							orDash(recurrence.FormatDate(t.LastGeneratedAt)),
							orDash(recurrence.FormatDate(t.NextScheduledAt)))
					}
					return tw.Flush()
				})
			})
		},
	}
}

func newTemplateActiveCmd(opts *rootOptions, verb string, active bool) *cobra.Command {
	short := "Stop generating occurrences for a template"
	if active {
		short = "Resume generating occurrences for a template"
	}
	return &cobra.Command{
		Use:   verb + " <template-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.store.SetTemplateActive(ctx, args[0], active); err != nil {
					return err
				}
				a.logger.Info("template "+verb+"d", "template", args[0])
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "Template %s %sd\n", args[0], verb)
				return err
			})
		},
	}
}
