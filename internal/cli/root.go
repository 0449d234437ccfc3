// Package cli implements the upkeep command-line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	upkeeperrors "upkeep/internal/errors"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	cfgFile string
	verbose bool
	dbPath  string
	account string
	format  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "upkeep",
		Short: "Recurring maintenance scheduler",
		Long: `upkeep tracks maintenance tasks for homes, vehicles and equipment.

Templates describe a cadence ("service the boiler every 12 months, show it two
weeks early"). The scheduler turns templates into dated tasks over a rolling
horizon, and completing a recurring task queues up its next occurrence.

Quick start:
  upkeep template add --title "Boiler service" --cadence 12 --lead 14
  upkeep schedule run             Generate tasks that are due soon
  upkeep task list                Show open tasks
  upkeep tui                      Interactive list`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/upkeep/config.toml)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringVar(&opts.dbPath, "db", "", "sqlite database path (overrides db_path)")
	cmd.PersistentFlags().StringVar(&opts.account, "account", "", "account scope (overrides account)")
	cmd.PersistentFlags().StringVarP(&opts.format, "format", "o", "text", "output format: text, json or yaml")

	cmd.AddCommand(newScheduleCmd(opts))
	cmd.AddCommand(newTemplateCmd(opts))
	cmd.AddCommand(newTaskCmd(opts))
	cmd.AddCommand(newAssetCmd(opts))
	cmd.AddCommand(newAuditCmd(opts))
	cmd.AddCommand(newTUICmd(opts))

	return cmd
}

// Execute runs the command tree against os.Args.
func Execute() error {
	return newRootCmd().Execute()
}

// Main runs the CLI and exits with a code derived from the error category.
func Main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, FormatError(err))
		os.Exit(ExitCode(err))
	}
}

// FormatError renders structured errors with their why/fix hints.
func FormatError(err error) string {
	if e := upkeeperrors.AsError(err); e != nil {
		return e.UserMessage()
	}
	return "Error: " + err.Error()
}

// ExitCode maps err to a process exit status. Nil is 0.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if e := upkeeperrors.AsError(err); e != nil {
		return e.Category().ExitCode()
	}
	return 1
}
