// Package broadcast fans automation notices out to real-time listeners.
// Delivery is best effort: publishers report errors but callers never let a
// failed broadcast affect the mutation that produced it.
package broadcast

import (
	"context"
	"errors"
)

// AutomationTriggered is the event name pushed to project listeners when a
// rule's action was applied.
const AutomationTriggered = "automation-triggered"

type Message struct {
	Type           string `json:"type"`
	ProjectID      string `json:"project_id"`
	TaskID         string `json:"task_id"`
	AutomationID   string `json:"automation_id"`
	AutomationName string `json:"automation_name"`
	TS             string `json:"ts" format:"date-time"`
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Nop discards every message.
type Nop struct{}

func (Nop) Publish(context.Context, Message) error { return nil }

// Multi publishes to each publisher in turn and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, msg Message) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
