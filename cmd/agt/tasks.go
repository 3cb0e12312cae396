package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agrotasks/internal/app"
	"agrotasks/internal/domain"
	"agrotasks/internal/engine"
	"agrotasks/internal/repo"
)

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks go pending -> in_progress -> wait_confirm -> completed. The assignee accepts, rejects, delegates, extends or completes; the assigner confirms or returns. All commands act as --actor-id.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskInboxCmd())
	task.AddCommand(taskAcceptCmd())
	task.AddCommand(taskRejectCmd())
	task.AddCommand(taskDelegateCmd())
	task.AddCommand(taskCandidatesCmd())
	task.AddCommand(taskExtendCmd())
	task.AddCommand(taskCompleteCmd())
	task.AddCommand(taskConfirmCmd())
	task.AddCommand(taskReturnCmd())
	task.AddCommand(taskReportsCmd())
	return task
}

func attachmentFlags(cmd *cobra.Command, fileID, kind *string) {
	cmd.Flags().StringVar(fileID, "file-id", "", "attachment file id held by the chat transport")
	cmd.Flags().StringVar(kind, "file-kind", "photo", "attachment kind: photo, video or document")
}

func attachment(fileID, kind string) *domain.Attachment {
	if strings.TrimSpace(fileID) == "" {
		return nil
	}
	return &domain.Attachment{FileID: fileID, Kind: domain.AttachmentKind(kind)}
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var deadline, fileID, fileKind string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			opts.ActorID = actor
			if opts.Deadline, err = parseDate("deadline", deadline); err != nil {
				return err
			}
			opts.Attachment = attachment(fileID, fileKind)
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().Int64Var(&opts.AssigneeID, "assignee", 0, "assignee employee id")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&opts.Priority, "priority", 0, "priority 1..5 (default from config)")
	attachmentFlags(cmd, &fileID, &fileKind)
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("assignee")
	_ = cmd.MarkFlagRequired("deadline")
	return cmd
}

func taskGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.GetTask(ctx, id)
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	var statuses []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, s := range statuses {
				status := domain.Status(s)
				if !status.Valid() {
					return fmt.Errorf("unknown status %q", s)
				}
				f.Statuses = append(f.Statuses, status)
			}
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				tasks, err := a.Engine.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				return printTasks(tasks)
			})
		},
	}
	cmd.Flags().Int64Var(&f.AssignedTo, "assigned-to", 0, "assignee filter")
	cmd.Flags().Int64Var(&f.AssignedBy, "assigned-by", 0, "assigner filter")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "status filter (repeatable or comma separated)")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum number of tasks")
	return cmd
}

func taskInboxCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inbox",
		Short: "Tasks waiting for the actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				tasks, err := a.Engine.Inbox(ctx, actor)
				if err != nil {
					return err
				}
				return printTasks(tasks)
			})
		},
	}
}

// taskAction builds a command that runs fn for the task id in args[0] as
// the actor and prints the resulting task.
func taskAction(use, short string, fn func(ctx context.Context, e engine.Engine, taskID, actor int64) (domain.Task, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				t, err := fn(ctx, a.Engine, id, actor)
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
}

func taskAcceptCmd() *cobra.Command {
	return taskAction("accept", "Accept a pending task", func(ctx context.Context, e engine.Engine, id, actor int64) (domain.Task, error) {
		return e.Accept(ctx, id, actor)
	})
}

func taskRejectCmd() *cobra.Command {
	var comment string
	cmd := taskAction("reject", "Reject a pending task", func(ctx context.Context, e engine.Engine, id, actor int64) (domain.Task, error) {
		return e.Reject(ctx, id, actor, comment)
	})
	cmd.Flags().StringVar(&comment, "comment", "", "reason for the refusal")
	_ = cmd.MarkFlagRequired("comment")
	return cmd
}

func taskDelegateCmd() *cobra.Command {
	var to int64
	cmd := taskAction("delegate", "Hand the task to another employee", func(ctx context.Context, e engine.Engine, id, actor int64) (domain.Task, error) {
		return e.Delegate(ctx, id, to, actor)
	})
	cmd.Flags().Int64Var(&to, "to", 0, "new assignee employee id")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func taskExtendCmd() *cobra.Command {
	var until string
	cmd := taskAction("extend", "Move the deadline", func(ctx context.Context, e engine.Engine, id, actor int64) (domain.Task, error) {
		var d time.Time
		if until != "" {
			var err error
			if d, err = parseDate("until", until); err != nil {
				return domain.Task{}, err
			}
		}
		return e.ExtendDeadline(ctx, id, actor, d)
	})
	cmd.Flags().StringVar(&until, "until", "", "new deadline (YYYY-MM-DD); default adds tasks.extend_days")
	return cmd
}

func taskCompleteCmd() *cobra.Command {
	var text, fileID, fileKind string
	cmd := taskAction("complete", "Report the task as done", func(ctx context.Context, e engine.Engine, id, actor int64) (domain.Task, error) {
		return e.Complete(ctx, id, actor, engine.Report{Text: text, Attachment: attachment(fileID, fileKind)})
	})
	cmd.Flags().StringVar(&text, "text", "", "report text")
	attachmentFlags(cmd, &fileID, &fileKind)
	return cmd
}

func taskConfirmCmd() *cobra.Command {
	return taskAction("confirm", "Confirm reported work", func(ctx context.Context, e engine.Engine, id, actor int64) (domain.Task, error) {
		return e.Confirm(ctx, id, actor)
	})
}

func taskReturnCmd() *cobra.Command {
	return taskAction("return", "Return reported work for rework", func(ctx context.Context, e engine.Engine, id, actor int64) (domain.Task, error) {
		return e.Return(ctx, id, actor)
	})
}

func taskCandidatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "candidates <id>",
		Short: "List employees the task can be delegated to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				emps, err := a.Engine.DelegationCandidates(ctx, id, actor)
				if err != nil {
					return err
				}
				return printEmployees(emps)
			})
		},
	}
}

func taskReportsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reports <id>",
		Short: "List completion reports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				reports, err := a.Engine.Reports(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(reports)
			})
		},
	}
}

func printTask(t domain.Task) error {
	return printJSONOrTable(t)
}

func printTasks(tasks []domain.Task) error {
	if viper.GetBool("json") {
		if tasks == nil {
			tasks = []domain.Task{}
		}
		return printJSON(tasks)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Num", "Title", "Status", "Assigner", "Assignee", "Deadline"})
	for _, t := range tasks {
		tw.AppendRow(table.Row{t.ID, t.GlobalNum, t.Title, t.Status(), t.AssignedBy, t.AssignedTo, t.Deadline.Format(domain.DateLayout)})
	}
	tw.Render()
	return nil
}

func printEmployees(emps []domain.Employee) error {
	if viper.GetBool("json") {
		if emps == nil {
			emps = []domain.Employee{}
		}
		return printJSON(emps)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Name", "Confirmed", "Active", "Admin"})
	for _, e := range emps {
		tw.AppendRow(table.Row{e.ID, e.FullName, e.IsConfirmed, e.IsActive, e.IsAdmin})
	}
	tw.Render()
	return nil
}
