package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	ProjectCreated     = "project.created"
	ProjectStatusesSet = "project.statuses_set"
	MemberAdded        = "project.member_added"
	MemberRemoved      = "project.member_removed"
	TaskCreated        = "task.created"
	TaskUpdated        = "task.updated"
	TaskDeleted        = "task.deleted"
	TaskOverdue        = "task.overdue"
	CommentAdded       = "comment.added"
	AutomationCreated  = "automation.created"
	AutomationUpdated  = "automation.updated"
	AutomationToggled  = "automation.toggled"
	AutomationDeleted  = "automation.deleted"
	AutomationApplied  = "automation.applied"
	AutomationSkipped  = "automation.skipped"
	AutomationFailed   = "automation.failed"
)

// Execer is satisfied by both *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes an event through tx, or through the writer's DB when tx is nil.
func (w Writer) Append(ctx context.Context, tx Execer, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	if tx == nil {
		if w.DB == nil {
			return fmt.Errorf("event writer has no database")
		}
		tx = w.DB
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(projectID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
