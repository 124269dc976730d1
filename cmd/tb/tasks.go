package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskboard/internal/app"
	"taskboard/internal/domain"
	"taskboard/internal/engine"
	"taskboard/internal/repo"
)

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskDeleteCmd())
	task.AddCommand(taskCommentCmd())
	task.AddCommand(taskHistoryCmd())
	return task
}

func taskRow(t domain.Task) table.Row {
	return table.Row{t.ID, t.Title, t.Status, deref(t.AssigneeID), t.Priority, deref(t.DueDate), strings.Join(t.Labels, ",")}
}

var taskHeader = table.Row{"ID", "Title", "Status", "Assignee", "Priority", "Due", "Labels"}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				pid, err := projectID(ctx, rt, actor)
				if err != nil {
					return err
				}
				opts.ProjectID = pid
				opts.ActorID = actor
				t, err := rt.Engine.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printOut(t, taskHeader, []table.Row{taskRow(t)})
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "task id (generated when empty)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Status, "status", "", "initial status (defaults to the first column)")
	cmd.Flags().StringVar(&opts.AssigneeID, "assignee", "", "assignee user id")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "Low, Medium or High")
	cmd.Flags().StringVar(&opts.DueDate, "due", "", "due date, RFC3339 or YYYY-MM-DD")
	cmd.Flags().StringSliceVar(&opts.Labels, "label", nil, "label (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				pid, err := projectID(ctx, rt, actor)
				if err != nil {
					return err
				}
				f.ProjectID = pid
				tasks, err := rt.Engine.ListTasks(ctx, f, actor)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(tasks))
				for _, t := range tasks {
					rows = append(rows, taskRow(t))
				}
				return printOut(tasks, taskHeader, rows)
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.AssigneeID, "assignee", "", "assignee filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 100, "maximum tasks")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				t, err := rt.Engine.GetTask(ctx, args[0], actor)
				if err != nil {
					return err
				}
				if err := printOut(t, taskHeader, []table.Row{taskRow(t)}); err != nil {
					return err
				}
				if !viper.GetBool("json") && t.Description != "" {
					fmt.Println(t.Description)
				}
				return nil
			})
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var title, description, status, priority, due, assignee string
	var labels []string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a task and run matching automation rules",
		Long:  "Only the flags you pass are changed. --assignee \"\" unassigns and --due \"\" clears the due date.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			opts := engine.TaskUpdateOptions{
				ID:          args[0],
				Title:       optionalString(cmd, "title", title),
				Description: optionalString(cmd, "description", description),
				Status:      optionalString(cmd, "status", status),
				Priority:    optionalString(cmd, "priority", priority),
				DueDate:     optionalString(cmd, "due", due),
				Assign:      optionalString(cmd, "assignee", assignee),
				ActorID:     actor,
			}
			if cmd.Flags().Changed("label") {
				opts.Labels = &labels
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res, err := rt.Engine.UpdateTask(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"task": res.Task, "automations": outcomeViews(res.Automations)})
				}
				if err := printOut(res.Task, taskHeader, []table.Row{taskRow(res.Task)}); err != nil {
					return err
				}
				return printReports(res.Automations)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "status")
	cmd.Flags().StringVar(&priority, "priority", "", "Low, Medium or High")
	cmd.Flags().StringVar(&due, "due", "", "due date, RFC3339 or YYYY-MM-DD")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee user id")
	cmd.Flags().StringSliceVar(&labels, "label", nil, "replace labels (repeatable)")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if err := rt.Engine.DeleteTask(ctx, args[0], actor); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func taskCommentCmd() *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "comment <id>",
		Short: "Comment on a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if text == "" {
					items, err := rt.Engine.ListComments(ctx, args[0], actor)
					if err != nil {
						return err
					}
					rows := make([]table.Row, 0, len(items))
					for _, c := range items {
						rows = append(rows, table.Row{c.CreatedAt, c.UserID, c.Text})
					}
					return printOut(items, table.Row{"Time", "User", "Text"}, rows)
				}
				c, err := rt.Engine.AddComment(ctx, args[0], text, actor)
				if err != nil {
					return err
				}
				return printOut(c, table.Row{"Time", "User", "Text"}, []table.Row{{c.CreatedAt, c.UserID, c.Text}})
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "comment text; omit to list comments")
	return cmd
}

func taskHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Show the change history of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.ListHistory(ctx, args[0], actor)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, h := range items {
					rows = append(rows, table.Row{h.ChangedAt, h.ChangedBy, h.Field, h.OldValue, h.NewValue})
				}
				return printOut(items, table.Row{"Time", "By", "Field", "Old", "New"}, rows)
			})
		},
	}
}
