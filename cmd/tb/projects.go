package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskboard/internal/app"
	"taskboard/internal/domain"
	"taskboard/internal/engine"
	"taskboard/internal/repo"
)

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUseCmd())
	prj.AddCommand(projectStatusesCmd())
	prj.AddCommand(memberCmd())
	return prj
}

// parseStatuses reads "Name" or "Name=#color" flag values.
func parseStatuses(values []string) []domain.ProjectStatus {
	out := make([]domain.ProjectStatus, 0, len(values))
	for i, v := range values {
		name, color, _ := strings.Cut(v, "=")
		out = append(out, domain.ProjectStatus{Name: strings.TrimSpace(name), Color: strings.TrimSpace(color), Order: i})
	}
	return out
}

func statusRows(p domain.Project) []table.Row {
	rows := make([]table.Row, 0, len(p.Statuses))
	for _, s := range p.Statuses {
		rows = append(rows, table.Row{s.Order, s.Name, s.Color})
	}
	return rows
}

func projectCreateCmd() *cobra.Command {
	var id, name, desc string
	var statuses []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project owned by the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				p, err := rt.Engine.CreateProject(ctx, engine.ProjectCreateOptions{
					ID:          id,
					Name:        name,
					Description: desc,
					OwnerID:     actor,
					Statuses:    parseStatuses(statuses),
				})
				if err != nil {
					return err
				}
				return printOut(p, table.Row{"#", "Status", "Color"}, statusRows(p))
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "status column as Name or Name=#color, in board order (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects you belong to",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor := strings.TrimSpace(viper.GetString("actor-id"))
			if actor == "" && !all {
				return fmt.Errorf("--actor-id is required unless --all is set")
			}
			if all {
				actor = ""
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.Repo.ListProjects(ctx, actor)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, p := range items {
					rows = append(rows, table.Row{p.ID, p.Name, p.OwnerID, len(p.Statuses)})
				}
				return printOut(items, table.Row{"ID", "Name", "Owner", "Statuses"}, rows)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "list every project in the workspace")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current project",
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
				p, err := rt.Engine.ProjectForActor(ctx, pid, actor)
				if err != nil {
					return err
				}
				if !viper.GetBool("json") {
					fmt.Printf("Project: %s (%s), owner %s\n", p.Name, p.ID, p.OwnerID)
				}
				return printOut(p, table.Row{"#", "Status", "Color"}, statusRows(p))
			})
		},
	}
}

func projectUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <id>",
		Short: "Set the default project for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			if id == "" {
				return fmt.Errorf("project id is required")
			}
			workspace := viper.GetString("workspace")
			path := filepath.Join(workspace, app.EnvFile)
			if err := app.SetEnvValue(path, app.DefaultProjectKey, id); err != nil {
				return err
			}
			fmt.Printf("Set %s=%s in %s\n", app.DefaultProjectKey, id, path)
			return nil
		},
	}
}

func projectStatusesCmd() *cobra.Command {
	var statuses []string
	cmd := &cobra.Command{
		Use:   "statuses",
		Short: "Replace the project's status columns",
		Long:  "Statuses still used by tasks or targeted by automation rules cannot be removed.",
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
				p, err := rt.Engine.SetProjectStatuses(ctx, pid, parseStatuses(statuses), actor)
				if err != nil {
					return err
				}
				return printOut(p, table.Row{"#", "Status", "Color"}, statusRows(p))
			})
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "status column as Name or Name=#color, in board order (repeatable)")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func memberCmd() *cobra.Command {
	members := &cobra.Command{Use: "member", Short: "Manage project members"}

	var userID, role string
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a member or change a role",
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
				m, err := rt.Engine.AddMember(ctx, pid, userID, role, actor)
				if err != nil {
					return err
				}
				return printOut(m, table.Row{"User", "Role", "Added"}, []table.Row{{m.UserID, m.Role, m.AddedAt}})
			})
		},
	}
	add.Flags().StringVar(&userID, "user", "", "user id")
	add.Flags().StringVar(&role, "role", domain.RoleMember, "admin or member")
	_ = add.MarkFlagRequired("user")

	var removeID string
	remove := &cobra.Command{
		Use:   "remove",
		Short: "Remove a member",
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
				if err := rt.Engine.RemoveMember(ctx, pid, removeID, actor); err != nil {
					return err
				}
				fmt.Printf("removed %s from %s\n", removeID, pid)
				return nil
			})
		},
	}
	remove.Flags().StringVar(&removeID, "user", "", "user id")
	_ = remove.MarkFlagRequired("user")

	list := &cobra.Command{
		Use:   "list",
		Short: "List members",
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
				if _, err := rt.Engine.ProjectForActor(ctx, pid, actor); err != nil {
					return err
				}
				items, err := rt.Engine.Repo.ListMembers(ctx, pid)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, m := range items {
					rows = append(rows, table.Row{m.UserID, m.Role, m.AddedAt})
				}
				return printOut(items, table.Row{"User", "Role", "Added"}, rows)
			})
		},
	}

	members.AddCommand(add, remove, list)
	return members
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Read the event log"}
	var f repo.EventFilters
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest events of the current project",
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
				items, err := rt.Engine.ListEvents(ctx, f, actor)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, e := range items {
					rows = append(rows, table.Row{e.ID, e.TS, e.Type, e.EntityKind, e.EntityID, e.ActorID})
				}
				return printOut(items, table.Row{"ID", "Time", "Type", "Entity", "Entity ID", "Actor"}, rows)
			})
		},
	}
	tail.Flags().IntVarP(&f.Limit, "n", "n", 20, "number of events")
	tail.Flags().StringVar(&f.Type, "type", "", "event type filter")
	tail.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind filter")
	tail.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id filter")
	lg.AddCommand(tail)
	return lg
}
