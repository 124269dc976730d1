package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskboard/internal/app"
	"taskboard/internal/automation"
	"taskboard/internal/config"
	"taskboard/internal/db"
	"taskboard/internal/domain"
	"taskboard/internal/migrate"
)

var rootCmd = &cobra.Command{
	Use:   "tb",
	Short: "TaskBoard CLI",
	Long: `TaskBoard tracks project tasks and runs automation rules on them.
- Workspace: a directory holding taskboard.yml and the .taskboard database.
- Project: a board with ordered status columns and members (owner, admin, member).
- Tasks: work items that move between the project's statuses.
- Rules: "when <trigger> then <action>" automations. Triggers are status changes,
  assignee changes and passed due dates. Actions change the status, award a
  badge or send a notification.
- Notifications and badges: what rules and teammates leave for each user.
- Event log: every change and every rule run, view it with 'tb log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return app.LoadEnv(viper.GetString("workspace"))
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKBOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindEnv("project", "TASKBOARD_PROJECT", app.DefaultProjectKey)
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "", "acting user id (env TASKBOARD_ACTOR_ID)")
	flags.String("project", "", "project id (defaults to TASKBOARD_DEFAULT_PROJECT or your only project)")
	flags.String("log-level", "", "override log.level from taskboard.yml")
	for _, name := range []string{"workspace", "json", "actor-id", "project", "log-level"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(ruleCmd())
	rootCmd.AddCommand(notificationsCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(watchCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create taskboard.yml and the workspace database",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Printf("Wrote %s and initialized %s\n", path, db.Path(workspace))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing taskboard.yml")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Inspect taskboard.yml"}
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate taskboard.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	})
	return cfg
}

// withRuntime opens the workspace for the duration of fn.
func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	rt, err := app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		LogLevel:  viper.GetString("log-level"),
	})
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func actorID() (string, error) {
	id := strings.TrimSpace(viper.GetString("actor-id"))
	if id == "" {
		return "", fmt.Errorf("--actor-id (or TASKBOARD_ACTOR_ID) is required")
	}
	return id, nil
}

func projectID(ctx context.Context, rt *app.Runtime, actor string) (string, error) {
	return app.ResolveProject(ctx, rt.Engine.Repo, viper.GetString("project"), actor)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printOut prints JSON with --json, otherwise renders rows as a table.
func printOut(v any, header table.Row, rows []table.Row) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	tw.AppendRows(rows)
	tw.Render()
	return nil
}

type outcomeView struct {
	RuleID  string `json:"rule_id"`
	Rule    string `json:"rule"`
	TaskID  string `json:"task_id"`
	Trigger string `json:"trigger"`
	Action  string `json:"action"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Error   string `json:"error,omitempty"`
}

func outcomeViews(reports []automation.Report) []outcomeView {
	views := []outcomeView{}
	for _, rep := range reports {
		for _, out := range rep.Outcomes {
			v := outcomeView{
				RuleID:  out.RuleID,
				Rule:    out.RuleName,
				TaskID:  out.TaskID,
				Trigger: string(rep.Transition.Kind),
				Action:  string(out.Action),
				Status:  string(out.Status),
				Reason:  out.Reason,
			}
			if out.Err != nil {
				v.Error = out.Err.Error()
			}
			views = append(views, v)
		}
	}
	return views
}

// printReports renders rule outcomes; it prints nothing when no rule matched.
func printReports(reports []automation.Report) error {
	views := outcomeViews(reports)
	if viper.GetBool("json") {
		return printJSON(views)
	}
	if len(views) == 0 {
		return nil
	}
	rows := make([]table.Row, 0, len(views))
	for _, v := range views {
		detail := v.Reason
		if v.Error != "" {
			detail = v.Error
		}
		rows = append(rows, table.Row{v.Rule, v.TaskID, v.Trigger, v.Action, v.Status, detail})
	}
	fmt.Println("Automations:")
	return printOut(views, table.Row{"Rule", "Task", "Trigger", "Action", "Status", "Detail"}, rows)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optionalString(cmd *cobra.Command, flag, value string) *string {
	if !cmd.Flags().Changed(flag) {
		return nil
	}
	return &value
}

func userCmd() *cobra.Command {
	users := &cobra.Command{Use: "user", Short: "Manage users"}

	var id, name, email string
	create := &cobra.Command{
		Use:   "create",
		Short: "Register a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				u, err := rt.Engine.CreateUser(ctx, domain.User{ID: id, Name: name, Email: email})
				if err != nil {
					return err
				}
				return printOut(u, table.Row{"ID", "Name", "Email"}, []table.Row{{u.ID, u.Name, u.Email}})
			})
		},
	}
	create.Flags().StringVar(&id, "id", "", "user id (generated when empty)")
	create.Flags().StringVar(&name, "name", "", "display name")
	create.Flags().StringVar(&email, "email", "", "email")
	_ = create.MarkFlagRequired("name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List users and their badges",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.Repo.ListUsers(ctx)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, u := range items {
					rows = append(rows, table.Row{u.ID, u.Name, u.Email, strings.Join(u.Badges, ", ")})
				}
				return printOut(items, table.Row{"ID", "Name", "Email", "Badges"}, rows)
			})
		},
	}

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				u, err := rt.Engine.Repo.GetUser(ctx, args[0])
				if err != nil {
					return err
				}
				return printOut(u, table.Row{"ID", "Name", "Email", "Badges"}, []table.Row{{u.ID, u.Name, u.Email, strings.Join(u.Badges, ", ")}})
			})
		},
	}

	users.AddCommand(create, list, show)
	return users
}

func apiKeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "api-key", Short: "Manage API keys for the acting user"}

	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Issue an API key; the key is shown once",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				k, plain, err := rt.Engine.CreateAPIKey(ctx, actor, name)
				if err != nil {
					return err
				}
				out := map[string]string{"id": k.ID, "name": k.Name, "key": plain}
				return printOut(out, table.Row{"ID", "Name", "Key"}, []table.Row{{k.ID, k.Name, plain}})
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "label for the key")

	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.Repo.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, k := range items {
					rows = append(rows, table.Row{k.ID, k.Name, k.CreatedAt})
				}
				return printOut(items, table.Row{"ID", "Name", "Created"}, rows)
			})
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if err := rt.Engine.Repo.DeleteAPIKey(ctx, actor, args[0]); err != nil {
					return err
				}
				fmt.Println("revoked", args[0])
				return nil
			})
		},
	}

	keys.AddCommand(create, list, revoke)
	return keys
}
