package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"taskboard/internal/app"
	"taskboard/internal/domain"
	"taskboard/internal/engine"
)

func ruleCmd() *cobra.Command {
	rule := &cobra.Command{
		Use:   "rule",
		Short: "Manage automation rules",
		Long: `Rules run in creation order whenever a matching trigger happens.
Triggers:  status_change [--from S] [--to S], assignee_change [--trigger-assignee U], due_date_passed
Actions:   change_status --set-status S, award_badge --badge B, send_notification --message M [--type info|warning|success]`,
	}
	rule.AddCommand(ruleCreateCmd())
	rule.AddCommand(ruleListCmd())
	rule.AddCommand(ruleShowCmd())
	rule.AddCommand(ruleUpdateCmd())
	rule.AddCommand(ruleToggleCmd())
	rule.AddCommand(ruleDeleteCmd())
	return rule
}

type ruleFlags struct {
	trigger domain.TriggerSpec
	action  domain.ActionSpec
	kindT   string
	kindA   string
}

func (f *ruleFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.kindT, "trigger", "", "status_change, assignee_change or due_date_passed")
	cmd.Flags().StringVar(&f.trigger.FromStatus, "from", "", "status_change: previous status (empty matches any)")
	cmd.Flags().StringVar(&f.trigger.ToStatus, "to", "", "status_change: new status (empty matches any)")
	cmd.Flags().StringVar(&f.trigger.AssigneeID, "trigger-assignee", "", "assignee_change: only this assignee")
	cmd.Flags().StringVar(&f.kindA, "action", "", "change_status, award_badge or send_notification")
	cmd.Flags().StringVar(&f.action.Status, "set-status", "", "change_status: target status")
	cmd.Flags().StringVar(&f.action.BadgeName, "badge", "", "award_badge: badge name")
	cmd.Flags().StringVar(&f.action.Message, "message", "", "send_notification: message")
	cmd.Flags().StringVar(&f.action.NotificationType, "type", "", "send_notification: info, warning or success")
}

func (f *ruleFlags) triggerSpec() domain.TriggerSpec {
	t := f.trigger
	t.Kind = domain.TriggerKind(f.kindT)
	return t
}

func (f *ruleFlags) actionSpec() domain.ActionSpec {
	a := f.action
	a.Kind = domain.ActionKind(f.kindA)
	return a
}

func ruleRow(r domain.Rule) table.Row {
	return table.Row{r.ID, r.Name, r.Active, domain.Describe(r.Trigger), domain.DescribeAction(r.Action), r.ExecutionCount, deref(r.LastExecutedAt)}
}

type ruleView struct {
	ID             string             `json:"id"`
	ProjectID      string             `json:"project_id"`
	Name           string             `json:"name"`
	Active         bool               `json:"active"`
	Trigger        domain.TriggerSpec `json:"trigger"`
	Action         domain.ActionSpec  `json:"action"`
	ExecutionCount int64              `json:"execution_count"`
	LastExecutedAt *string            `json:"last_executed_at,omitempty"`
}

func viewOf(r domain.Rule) ruleView {
	return ruleView{
		ID:             r.ID,
		ProjectID:      r.ProjectID,
		Name:           r.Name,
		Active:         r.Active,
		Trigger:        domain.SpecOfTrigger(r.Trigger),
		Action:         domain.SpecOfAction(r.Action),
		ExecutionCount: r.ExecutionCount,
		LastExecutedAt: r.LastExecutedAt,
	}
}

var ruleHeader = table.Row{"ID", "Name", "Active", "When", "Then", "Runs", "Last run"}

func ruleCreateCmd() *cobra.Command {
	var name string
	var inactive bool
	var f ruleFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			active := !inactive
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				pid, err := projectID(ctx, rt, actor)
				if err != nil {
					return err
				}
				r, err := rt.Engine.CreateRule(ctx, pid, engine.RuleInput{
					Name:    name,
					Active:  &active,
					Trigger: f.triggerSpec(),
					Action:  f.actionSpec(),
				}, actor)
				if err != nil {
					return err
				}
				return printOut(viewOf(r), ruleHeader, []table.Row{ruleRow(r)})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "rule name")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "create the rule switched off")
	f.bind(cmd)
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("trigger")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func ruleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List rules in evaluation order",
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
				rules, err := rt.Engine.ListRules(ctx, pid, actor)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(rules))
				views := make([]ruleView, 0, len(rules))
				for _, r := range rules {
					rows = append(rows, ruleRow(r))
					views = append(views, viewOf(r))
				}
				return printOut(views, ruleHeader, rows)
			})
		},
	}
}

func ruleShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				r, err := rt.Engine.GetRule(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printOut(viewOf(r), ruleHeader, []table.Row{ruleRow(r)})
			})
		},
	}
}

func ruleUpdateCmd() *cobra.Command {
	var name string
	var active bool
	var f ruleFlags
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a rule; execution statistics are kept",
		Long:  "Passing --trigger replaces the whole trigger and --action replaces the whole action.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			var upd engine.RuleUpdate
			upd.Name = optionalString(cmd, "name", name)
			if cmd.Flags().Changed("active") {
				upd.Active = &active
			}
			if cmd.Flags().Changed("trigger") {
				t := f.triggerSpec()
				upd.Trigger = &t
			}
			if cmd.Flags().Changed("action") {
				a := f.actionSpec()
				upd.Action = &a
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				r, err := rt.Engine.UpdateRule(ctx, args[0], upd, actor)
				if err != nil {
					return err
				}
				return printOut(viewOf(r), ruleHeader, []table.Row{ruleRow(r)})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "rule name")
	cmd.Flags().BoolVar(&active, "active", true, "switch the rule on or off")
	f.bind(cmd)
	return cmd
}

func ruleToggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <id>",
		Short: "Flip a rule between active and inactive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				r, err := rt.Engine.ToggleRule(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printOut(viewOf(r), ruleHeader, []table.Row{ruleRow(r)})
			})
		},
	}
}

func ruleDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if err := rt.Engine.DeleteRule(ctx, args[0], actor); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}
