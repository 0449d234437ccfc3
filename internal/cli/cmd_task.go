package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"upkeep/internal/maintenance"
	"upkeep/internal/storage"
)

func newTaskCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "task",
		Aliases: []string{"tasks"},
		Short:   "Manage maintenance tasks",
	}
	cmd.AddCommand(newTaskAddCmd(opts))
	cmd.AddCommand(newTaskListCmd(opts))
	cmd.AddCommand(newTaskCompleteCmd(opts))
	cmd.AddCommand(newTaskReopenCmd(opts))
	cmd.AddCommand(newTaskEditCmd(opts))
	cmd.AddCommand(newTaskDeleteCmd(opts))
	return cmd
}

func newTaskAddCmd(opts *rootOptions) *cobra.Command {
	var (
		title   string
		notes   string
		due     string
		every   int
		assetID string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a one-off or recurring task",
		Long: `Create a task directly, without a template. With --every the task recurs:
completing it queues the next occurrence.

Examples:
  upkeep task add --title "Replace smoke alarm battery" --due 2024-10-01 --every 12
  upkeep task add --title "Fix fence"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dueDate, err := parseDateFlag("due", due)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				task := &maintenance.Task{
					AccountID: a.cfg.Account,
					Title:     title,
					Notes:     notes,
					DueDate:   dueDate,
					AssetID:   assetID,
				}
				if every > 0 {
					task.IsRecurring = true
					task.RecurrenceMonths = &every
				}
				if err := a.svc.CreateTask(ctx, task); err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.format, task, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "Created task %s (%s)\n", task.ID, task.Title)
					return err
				})
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	cmd.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&every, "every", 0, "recur every N months")
	cmd.Flags().StringVar(&assetID, "asset", "", "linked asset id")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newTaskListCmd(opts *rootOptions) *cobra.Command {
	var all bool
	var templateID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks by due date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				tasks, err := a.store.ListTasks(ctx, storage.TaskFilter{
					AccountID:        a.cfg.Account,
					TemplateID:       templateID,
					IncludeCompleted: all,
					IncludeCancelled: all,
				})
				if err != nil {
					return err
				}
				now := time.Now()
				return render(cmd.OutOrStdout(), opts.format, tasks, func(w io.Writer) error {
					tw := newTable(w)
					fmt.Fprintln(tw, "ID\tTITLE\tDUE\tNEXT\tSTATE")
					for _, t := range tasks {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
							t.ID, t.Title, dueLabel(t.DueDate, now), dueLabel(t.NextDueDate, now), taskState(t))
					}
					return tw.Flush()
				})
			})
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include completed and cancelled tasks")
	cmd.Flags().StringVar(&templateID, "template", "", "only occurrences of this template")
	return cmd
}

func taskState(t maintenance.Task) string {
	switch {
	case t.CancelledAt != nil:
		return "cancelled: " + t.CancelReason
	case t.Completed:
		return "done"
	case t.IsRecurring && t.RecurrenceMonths != nil:
		return fmt.Sprintf("open, every %dmo", *t.RecurrenceMonths)
	default:
		return "open"
	}
}

func newTaskCompleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "complete <task-id>",
		Short: "Mark a task done; recurring tasks queue their next occurrence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				res, err := a.svc.CompleteTask(ctx, args[0])
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.format, res, func(w io.Writer) error {
					fmt.Fprintf(w, "Completed %s\n", args[0])
					if res.FollowUp != nil {
						fmt.Fprintf(w, "Next occurrence %s due %s\n", res.FollowUp.ID, dueLabel(res.FollowUp.DueDate, time.Now()))
					}
					return nil
				})
			})
		},
	}
}

func newTaskReopenCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reopen <task-id>",
		Short: "Mark a task open again, cancelling the occurrence its completion queued",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				res, err := a.svc.ReopenTask(ctx, args[0])
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.format, res, func(w io.Writer) error {
					fmt.Fprintf(w, "Reopened %s\n", args[0])
					if res.Cancelled != nil {
						fmt.Fprintf(w, "Cancelled queued occurrence %s\n", res.Cancelled.ID)
					}
					return nil
				})
			})
		},
	}
}

func newTaskEditCmd(opts *rootOptions) *cobra.Command {
	var (
		title     string
		notes     string
		due       string
		clearDue  bool
		every     int
		recurring bool
	)

	cmd := &cobra.Command{
		Use:   "edit <task-id>",
		Short: "Change a task's fields",
		Long: `Change a task's fields. Only the flags given are applied. Changing the due
date or recurrence refreshes the next-due preview.

Examples:
  upkeep task edit <id> --due 2024-06-03
  upkeep task edit <id> --every 6
  upkeep task edit <id> --recurring=false`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var edit maintenance.TaskEdit
			flags := cmd.Flags()
			if flags.Changed("title") {
				edit.Title = &title
			}
			if flags.Changed("notes") {
				edit.Notes = &notes
			}
			if flags.Changed("due") {
				d, err := parseDateFlag("due", due)
				if err != nil {
					return err
				}
				edit.DueDate = d
			}
			edit.ClearDueDate = clearDue
			if flags.Changed("every") {
				edit.RecurrenceMonths = &every
				if !flags.Changed("recurring") {
					recurring = every > 0
					edit.Recurring = &recurring
				}
			}
			if flags.Changed("recurring") {
				edit.Recurring = &recurring
			}

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				res, err := a.svc.EditTask(ctx, args[0], edit)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.format, res, func(w io.Writer) error {
					fmt.Fprintf(w, "Updated %s\n", args[0])
					if res.PreviewRefreshed {
						fmt.Fprintf(w, "Next due %s\n", dueLabel(res.NextDueDate, time.Now()))
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&notes, "notes", "", "new notes")
	cmd.Flags().StringVar(&due, "due", "", "new due date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&clearDue, "clear-due", false, "remove the due date")
	cmd.Flags().IntVar(&every, "every", 0, "recur every N months")
	cmd.Flags().BoolVar(&recurring, "recurring", false, "whether the task recurs")
	return cmd
}

func newTaskDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task permanently",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.store.DeleteTask(ctx, args[0]); err != nil {
					return err
				}
				a.logger.Info("task deleted", "task", args[0])
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return err
			})
		},
	}
}
