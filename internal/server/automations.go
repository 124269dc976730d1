package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"taskboard/internal/domain"
	"taskboard/internal/engine"
	"taskboard/internal/repo"
)

type automationPath struct {
	ProjectID string `path:"project_id"`
	ID        string `path:"id"`
}

func ruleInProject(ctx context.Context, e engine.Engine, in automationPath, userID string) (domain.Rule, error) {
	rule, err := e.GetRule(ctx, in.ID, userID)
	if err != nil {
		return domain.Rule{}, err
	}
	if rule.ProjectID != in.ProjectID {
		return domain.Rule{}, repo.ErrNotFound
	}
	return rule, nil
}

func registerAutomations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-automations",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/automations",
		Summary:     "List automation rules in evaluation order",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*bodyOutput[[]AutomationResponse], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rules, err := e.ListRules(ctx, input.ProjectID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]AutomationResponse, 0, len(rules))
		for _, r := range rules {
			out = append(out, automationResponse(r))
		}
		return reply(out), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-automation",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/automations",
		Summary:       "Create automation rule",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      AutomationRequest `json:"body"`
	}) (*bodyOutput[AutomationResponse], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rule, err := e.CreateRule(ctx, input.ProjectID, engine.RuleInput{
			Name:    input.Body.Name,
			Active:  input.Body.Active,
			Trigger: input.Body.Trigger,
			Action:  input.Body.Action,
		}, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(automationResponse(rule)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-automation",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/automations/{id}",
		Summary:     "Get automation rule",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *automationPath) (*bodyOutput[AutomationResponse], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rule, err := ruleInProject(ctx, e, *input, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(automationResponse(rule)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-automation",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/automations/{id}",
		Summary:     "Update automation rule",
		Description: "Fields left out keep their value. Execution statistics are never reset.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		automationPath
		Body UpdateAutomationRequest `json:"body"`
	}) (*bodyOutput[AutomationResponse], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := ruleInProject(ctx, e, input.automationPath, userID); err != nil {
			return nil, handleError(err)
		}
		rule, err := e.UpdateRule(ctx, input.ID, engine.RuleUpdate{
			Name:    input.Body.Name,
			Active:  input.Body.Active,
			Trigger: input.Body.Trigger,
			Action:  input.Body.Action,
		}, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(automationResponse(rule)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "toggle-automation",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/automations/{id}/toggle",
		Summary:     "Flip a rule between active and inactive",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *automationPath) (*bodyOutput[AutomationResponse], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := ruleInProject(ctx, e, *input, userID); err != nil {
			return nil, handleError(err)
		}
		rule, err := e.ToggleRule(ctx, input.ID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(automationResponse(rule)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-automation",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}/automations/{id}",
		Summary:       "Delete automation rule",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *automationPath) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := ruleInProject(ctx, e, *input, userID); err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteRule(ctx, input.ID, userID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}
