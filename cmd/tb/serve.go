package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"taskboard/internal/app"
	"taskboard/internal/server"
)

func notificationsCmd() *cobra.Command {
	notes := &cobra.Command{Use: "notifications", Short: "Read your notifications"}

	var unread bool
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List notifications, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, unreadCount, err := rt.Engine.ListNotifications(ctx, actor, unread, limit)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, n := range items {
					mark := ""
					if !n.Read {
						mark = "*"
					}
					rows = append(rows, table.Row{mark, n.ID, n.CreatedAt, n.Type, n.Title, n.Message, deref(n.TaskID)})
				}
				if !viper.GetBool("json") {
					fmt.Printf("%d unread\n", unreadCount)
				}
				return printOut(map[string]any{"items": items, "unread": unreadCount},
					table.Row{"", "ID", "Time", "Type", "Title", "Message", "Task"}, rows)
			})
		},
	}
	list.Flags().BoolVar(&unread, "unread", false, "only unread notifications")
	list.Flags().IntVar(&limit, "limit", 50, "maximum notifications")

	read := &cobra.Command{
		Use:   "read <id>",
		Short: "Mark a notification read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				return rt.Engine.MarkNotificationRead(ctx, actor, args[0])
			})
		},
	}

	readAll := &cobra.Command{
		Use:   "read-all",
		Short: "Mark every notification read",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				n, err := rt.Engine.MarkAllNotificationsRead(ctx, actor)
				if err != nil {
					return err
				}
				fmt.Printf("marked %d read\n", n)
				return nil
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a notification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				return rt.Engine.DeleteNotification(ctx, actor, args[0])
			})
		},
	}

	notes.AddCommand(list, read, readAll, del)
	return notes
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run due_date_passed rules for overdue tasks once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				reports, err := rt.Engine.SweepOverdue(ctx)
				if err != nil {
					return err
				}
				if !viper.GetBool("json") {
					fmt.Printf("%d task(s) became overdue\n", len(reports))
				}
				return printReports(reports)
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin, allowUserHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, the overdue sweeper and webhook delivery",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := strings.TrimSpace(viper.GetString("jwt-secret"))
			if secret == "" && !allowUserHeader {
				return fmt.Errorf("TASKBOARD_JWT_SECRET is required for bearer auth")
			}
			rt, err := app.Open(cmd.Context(), app.Options{
				Workspace:     viper.GetString("workspace"),
				RequireConfig: true,
				LogLevel:      viper.GetString("log-level"),
			})
			if err != nil {
				return err
			}
			defer rt.Close()
			logger := rt.Logger

			handler, err := server.New(server.Config{
				Engine:   rt.Engine,
				BasePath: basePath,
				Hub:      rt.Hub,
				Logger:   logger,
				Auth: server.AuthConfig{
					JWTSecret:       secret,
					DevLogin:        devLogin,
					AllowUserHeader: allowUserHeader,
				},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				logger.Info().Str("addr", addr).Str("base_path", basePath).Msg("serving TaskBoard API (OpenAPI at /openapi.json, Swagger UI at /docs)")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			if interval := rt.Config.SweepInterval(); interval > 0 {
				g.Go(func() error {
					logger.Info().Dur("interval", interval).Msg("overdue sweeper started")
					return rt.Engine.RunOverdueSweeper(ctx, interval)
				})
			}
			dispatcher := server.NewWebhookDispatcher(rt.Engine, logger)
			if dispatcher.Targets() > 0 {
				g.Go(func() error {
					return dispatcher.Run(ctx)
				})
			}
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable POST /auth/dev/login (local development only)")
	cmd.Flags().BoolVar(&allowUserHeader, "allow-user-header", false, "trust X-User-Id without credentials (local development only)")
	_ = viper.BindEnv("jwt-secret", "TASKBOARD_JWT_SECRET")
	return cmd
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print automation notices published to Redis by running servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if rt.Redis == nil {
					return fmt.Errorf("broadcast.redis_url is not configured in taskboard.yml")
				}
				pid, err := projectID(ctx, rt, actor)
				if err != nil {
					return err
				}
				if _, err := rt.Engine.ProjectForActor(ctx, pid, actor); err != nil {
					return err
				}
				msgs, err := rt.Redis.Subscribe(ctx, pid)
				if err != nil {
					return err
				}
				fmt.Printf("watching %s on %s\n", pid, rt.Redis.Channel(pid))
				for msg := range msgs {
					if viper.GetBool("json") {
						if err := printJSON(msg); err != nil {
							return err
						}
						continue
					}
					fmt.Printf("%s  %s fired on task %s\n", msg.TS, msg.AutomationName, msg.TaskID)
				}
				return nil
			})
		},
	}
}
