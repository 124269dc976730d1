package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

type TriggerKind string

const (
	TriggerStatusChange   TriggerKind = "status_change"
	TriggerAssigneeChange TriggerKind = "assignee_change"
	TriggerDueDatePassed  TriggerKind = "due_date_passed"
)

type ActionKind string

const (
	ActionChangeStatus     ActionKind = "change_status"
	ActionAwardBadge       ActionKind = "award_badge"
	ActionSendNotification ActionKind = "send_notification"
)

// Trigger is the event-side half of a rule. The concrete types below are the
// only implementations.
type Trigger interface {
	Kind() TriggerKind
	isTrigger()
}

// StatusChangeTrigger fires on status transitions. An empty FromStatus or
// ToStatus matches any value.
type StatusChangeTrigger struct {
	FromStatus string
	ToStatus   string
}

// AssigneeChangeTrigger fires when a task gets a new assignee. An empty
// AssigneeID matches any assignee.
type AssigneeChangeTrigger struct {
	AssigneeID string
}

type DueDatePassedTrigger struct{}

func (StatusChangeTrigger) Kind() TriggerKind   { return TriggerStatusChange }
func (AssigneeChangeTrigger) Kind() TriggerKind { return TriggerAssigneeChange }
func (DueDatePassedTrigger) Kind() TriggerKind  { return TriggerDueDatePassed }

func (StatusChangeTrigger) isTrigger()   {}
func (AssigneeChangeTrigger) isTrigger() {}
func (DueDatePassedTrigger) isTrigger()  {}

// Action is the effect half of a rule.
type Action interface {
	Kind() ActionKind
	isAction()
}

type ChangeStatusAction struct {
	Status string
}

type AwardBadgeAction struct {
	BadgeName string
}

type SendNotificationAction struct {
	Message          string
	NotificationType string
}

func (ChangeStatusAction) Kind() ActionKind     { return ActionChangeStatus }
func (AwardBadgeAction) Kind() ActionKind       { return ActionAwardBadge }
func (SendNotificationAction) Kind() ActionKind { return ActionSendNotification }

func (ChangeStatusAction) isAction()     {}
func (AwardBadgeAction) isAction()       {}
func (SendNotificationAction) isAction() {}

type Rule struct {
	ID             string
	ProjectID      string
	Name           string
	Active         bool
	Trigger        Trigger
	Action         Action
	CreatedBy      string
	ExecutionCount int64
	LastExecutedAt *string
	CreatedAt      string
	UpdatedAt      string
	// Invalid is set when the stored trigger or action could not be decoded.
	Invalid error
}

// TriggerSpec is the flat wire and storage form of a Trigger.
type TriggerSpec struct {
	Kind       TriggerKind `json:"kind" enum:"status_change,assignee_change,due_date_passed"`
	FromStatus string      `json:"from_status,omitempty"`
	ToStatus   string      `json:"to_status,omitempty"`
	AssigneeID string      `json:"assignee_id,omitempty"`
}

// ActionSpec is the flat wire and storage form of an Action.
type ActionSpec struct {
	Kind             ActionKind `json:"kind" enum:"change_status,award_badge,send_notification"`
	Status           string     `json:"status,omitempty"`
	BadgeName        string     `json:"badge_name,omitempty"`
	Message          string     `json:"message,omitempty"`
	NotificationType string     `json:"notification_type,omitempty" enum:"info,warning,success"`
}

func (s TriggerSpec) Trigger() (Trigger, error) {
	switch s.Kind {
	case TriggerStatusChange:
		return StatusChangeTrigger{FromStatus: strings.TrimSpace(s.FromStatus), ToStatus: strings.TrimSpace(s.ToStatus)}, nil
	case TriggerAssigneeChange:
		return AssigneeChangeTrigger{AssigneeID: strings.TrimSpace(s.AssigneeID)}, nil
	case TriggerDueDatePassed:
		return DueDatePassedTrigger{}, nil
	default:
		return nil, fmt.Errorf("unknown trigger kind %q", s.Kind)
	}
}

func (s ActionSpec) Action() (Action, error) {
	switch s.Kind {
	case ActionChangeStatus:
		return ChangeStatusAction{Status: strings.TrimSpace(s.Status)}, nil
	case ActionAwardBadge:
		return AwardBadgeAction{BadgeName: strings.TrimSpace(s.BadgeName)}, nil
	case ActionSendNotification:
		typ := s.NotificationType
		if typ == "" {
			typ = NotificationInfo
		}
		return SendNotificationAction{Message: s.Message, NotificationType: typ}, nil
	default:
		return nil, fmt.Errorf("unknown action kind %q", s.Kind)
	}
}

func SpecOfTrigger(t Trigger) TriggerSpec {
	switch v := t.(type) {
	case StatusChangeTrigger:
		return TriggerSpec{Kind: TriggerStatusChange, FromStatus: v.FromStatus, ToStatus: v.ToStatus}
	case AssigneeChangeTrigger:
		return TriggerSpec{Kind: TriggerAssigneeChange, AssigneeID: v.AssigneeID}
	case DueDatePassedTrigger:
		return TriggerSpec{Kind: TriggerDueDatePassed}
	}
	return TriggerSpec{}
}

func SpecOfAction(a Action) ActionSpec {
	switch v := a.(type) {
	case ChangeStatusAction:
		return ActionSpec{Kind: ActionChangeStatus, Status: v.Status}
	case AwardBadgeAction:
		return ActionSpec{Kind: ActionAwardBadge, BadgeName: v.BadgeName}
	case SendNotificationAction:
		return ActionSpec{Kind: ActionSendNotification, Message: v.Message, NotificationType: v.NotificationType}
	}
	return ActionSpec{}
}

// Describe renders a trigger for humans, e.g. "status In Progress -> Done".
func Describe(t Trigger) string {
	switch v := t.(type) {
	case StatusChangeTrigger:
		return fmt.Sprintf("status %s -> %s", orAny(v.FromStatus), orAny(v.ToStatus))
	case AssigneeChangeTrigger:
		return "assigned to " + orAny(v.AssigneeID)
	case DueDatePassedTrigger:
		return "due date passed"
	}
	return "unknown"
}

func DescribeAction(a Action) string {
	switch v := a.(type) {
	case ChangeStatusAction:
		return "move to " + v.Status
	case AwardBadgeAction:
		return fmt.Sprintf("award %q", v.BadgeName)
	case SendNotificationAction:
		return fmt.Sprintf("notify (%s) %q", v.NotificationType, v.Message)
	}
	return "unknown"
}

func orAny(s string) string {
	if s == "" {
		return "any"
	}
	return s
}

// EncodeTrigger returns the kind column and JSON body stored for t.
func EncodeTrigger(t Trigger) (string, string, error) {
	spec := SpecOfTrigger(t)
	if spec.Kind == "" {
		return "", "", fmt.Errorf("unsupported trigger %T", t)
	}
	data, err := json.Marshal(spec)
	if err != nil {
		return "", "", err
	}
	return string(spec.Kind), string(data), nil
}

func DecodeTrigger(kind, body string) (Trigger, error) {
	var spec TriggerSpec
	if body != "" {
		if err := json.Unmarshal([]byte(body), &spec); err != nil {
			return nil, fmt.Errorf("decode trigger: %w", err)
		}
	}
	spec.Kind = TriggerKind(kind)
	return spec.Trigger()
}

// EncodeAction returns the kind column and JSON body stored for a.
func EncodeAction(a Action) (string, string, error) {
	spec := SpecOfAction(a)
	if spec.Kind == "" {
		return "", "", fmt.Errorf("unsupported action %T", a)
	}
	data, err := json.Marshal(spec)
	if err != nil {
		return "", "", err
	}
	return string(spec.Kind), string(data), nil
}

func DecodeAction(kind, body string) (Action, error) {
	var spec ActionSpec
	if body != "" {
		if err := json.Unmarshal([]byte(body), &spec); err != nil {
			return nil, fmt.Errorf("decode action: %w", err)
		}
	}
	spec.Kind = ActionKind(kind)
	return spec.Action()
}
