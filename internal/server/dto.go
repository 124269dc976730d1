package server

import (
	"encoding/json"

	"taskboard/internal/automation"
	"taskboard/internal/domain"
)

// Request payloads

type CreateUserRequest struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type StatusRequest struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

type CreateProjectRequest struct {
	ID          string          `json:"id,omitempty"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Statuses    []StatusRequest `json:"statuses,omitempty"`
}

type SetStatusesRequest struct {
	Statuses []StatusRequest `json:"statuses"`
}

type AddMemberRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty" enum:"admin,member"`
}

type CreateTaskRequest struct {
	ID          *string  `json:"id,omitempty"`
	Title       string   `json:"title"`
	Description *string  `json:"description,omitempty"`
	Status      *string  `json:"status,omitempty"`
	AssigneeID  *string  `json:"assignee_id,omitempty"`
	Priority    *string  `json:"priority,omitempty" enum:"Low,Medium,High"`
	DueDate     *string  `json:"due_date,omitempty"`
	Labels      []string `json:"labels,omitempty"`
}

type UpdateTaskRequest struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Status      *string   `json:"status,omitempty"`
	AssigneeID  *string   `json:"assignee_id,omitempty"`
	Priority    *string   `json:"priority,omitempty" enum:"Low,Medium,High"`
	DueDate     *string   `json:"due_date,omitempty"`
	Labels      *[]string `json:"labels,omitempty"`
}

type CreateCommentRequest struct {
	Text string `json:"text"`
}

type AutomationRequest struct {
	Name    string             `json:"name"`
	Active  *bool              `json:"active,omitempty"`
	Trigger domain.TriggerSpec `json:"trigger"`
	Action  domain.ActionSpec  `json:"action"`
}

type UpdateAutomationRequest struct {
	Name    *string             `json:"name,omitempty"`
	Active  *bool               `json:"active,omitempty"`
	Trigger *domain.TriggerSpec `json:"trigger,omitempty"`
	Action  *domain.ActionSpec  `json:"action,omitempty"`
}

type DevLoginRequest struct {
	UserID string `json:"user_id"`
}

// Responses

type DevLoginResponse struct {
	Token string `json:"token"`
}

type MeResponse struct {
	User   domain.User `json:"user"`
	Source string      `json:"source"`
}

type AutomationResponse struct {
	ID             string             `json:"id"`
	ProjectID      string             `json:"project_id"`
	Name           string             `json:"name"`
	Active         bool               `json:"active"`
	Trigger        domain.TriggerSpec `json:"trigger"`
	Action         domain.ActionSpec  `json:"action"`
	CreatedBy      string             `json:"created_by"`
	ExecutionCount int64              `json:"execution_count"`
	LastExecutedAt *string            `json:"last_executed_at,omitempty" format:"date-time"`
	CreatedAt      string             `json:"created_at" format:"date-time"`
	UpdatedAt      string             `json:"updated_at" format:"date-time"`
}

type OutcomeResponse struct {
	AutomationID   string `json:"automation_id"`
	AutomationName string `json:"automation_name"`
	Trigger        string `json:"trigger"`
	Action         string `json:"action"`
	Status         string `json:"status" enum:"applied,skipped,failed"`
	Reason         string `json:"reason,omitempty"`
	Error          string `json:"error,omitempty"`
}

type TaskUpdateResponse struct {
	Task        domain.Task       `json:"task"`
	Automations []OutcomeResponse `json:"automations"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type paginatedTasks struct {
	Items      []domain.Task `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type NotificationList struct {
	Items  []domain.Notification `json:"items"`
	Unread int                   `json:"unread"`
}

func automationResponse(r domain.Rule) AutomationResponse {
	return AutomationResponse{
		ID:             r.ID,
		ProjectID:      r.ProjectID,
		Name:           r.Name,
		Active:         r.Active,
		Trigger:        domain.SpecOfTrigger(r.Trigger),
		Action:         domain.SpecOfAction(r.Action),
		CreatedBy:      r.CreatedBy,
		ExecutionCount: r.ExecutionCount,
		LastExecutedAt: r.LastExecutedAt,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func outcomeResponses(reports []automation.Report) []OutcomeResponse {
	res := []OutcomeResponse{}
	for _, rep := range reports {
		for _, out := range rep.Outcomes {
			item := OutcomeResponse{
				AutomationID:   out.RuleID,
				AutomationName: out.RuleName,
				Trigger:        string(rep.Transition.Kind),
				Action:         string(out.Action),
				Status:         string(out.Status),
				Reason:         out.Reason,
			}
			if out.Err != nil {
				item.Error = out.Err.Error()
			}
			res = append(res, item)
		}
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	payload := map[string]any{}
	if raw, ok := e.Payload.(string); ok && raw != "" {
		_ = json.Unmarshal([]byte(raw), &payload)
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    payload,
	}
}

func statusesFromRequest(in []StatusRequest) []domain.ProjectStatus {
	out := make([]domain.ProjectStatus, 0, len(in))
	for i, s := range in {
		out = append(out, domain.ProjectStatus{Name: s.Name, Color: s.Color, Order: i})
	}
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
