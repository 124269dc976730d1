package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"taskboard/internal/domain"
)

const ruleColumns = `id,project_id,name,active,trigger_kind,trigger_json,action_kind,action_json,created_by,execution_count,last_executed_at,created_at,updated_at`

func scanRule(row rowScanner) (domain.Rule, error) {
	var rule domain.Rule
	var active int
	var triggerKind, triggerJSON, actionKind, actionJSON string
	var lastExecuted sql.NullString
	if err := row.Scan(&rule.ID, &rule.ProjectID, &rule.Name, &active, &triggerKind, &triggerJSON, &actionKind, &actionJSON,
		&rule.CreatedBy, &rule.ExecutionCount, &lastExecuted, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
		return rule, err
	}
	rule.Active = active == 1
	rule.LastExecutedAt = stringPtr(lastExecuted)
	// An undecodable definition is kept on the rule rather than failing the
	// read, so one corrupt row does not hide its siblings.
	var err error
	if rule.Trigger, err = domain.DecodeTrigger(triggerKind, triggerJSON); err != nil {
		rule.Invalid = fmt.Errorf("automation %s: %w", rule.ID, err)
	}
	if rule.Action, err = domain.DecodeAction(actionKind, actionJSON); err != nil && rule.Invalid == nil {
		rule.Invalid = fmt.Errorf("automation %s: %w", rule.ID, err)
	}
	return rule, nil
}

func (r Repo) InsertRule(ctx context.Context, tx *sql.Tx, rule domain.Rule) error {
	tk, tj, err := domain.EncodeTrigger(rule.Trigger)
	if err != nil {
		return err
	}
	ak, aj, err := domain.EncodeAction(rule.Action)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO automations(`+ruleColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rule.ID, rule.ProjectID, rule.Name, boolInt(rule.Active), tk, tj, ak, aj, rule.CreatedBy,
		rule.ExecutionCount, nullableStringPtr(rule.LastExecutedAt), rule.CreatedAt, rule.UpdatedAt)
	return err
}

// UpdateRuleDefinition rewrites name, trigger, action and active flag. The
// execution counters are left alone.
func (r Repo) UpdateRuleDefinition(ctx context.Context, tx *sql.Tx, rule domain.Rule) error {
	tk, tj, err := domain.EncodeTrigger(rule.Trigger)
	if err != nil {
		return err
	}
	ak, aj, err := domain.EncodeAction(rule.Action)
	if err != nil {
		return err
	}
	res, err := r.q(tx).ExecContext(ctx, `UPDATE automations SET name=?,active=?,trigger_kind=?,trigger_json=?,action_kind=?,action_json=?,updated_at=? WHERE id=?`,
		rule.Name, boolInt(rule.Active), tk, tj, ak, aj, rule.UpdatedAt, rule.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetRuleActive(ctx context.Context, tx *sql.Tx, id string, active bool, at string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE automations SET active=?, updated_at=? WHERE id=?`, boolInt(active), at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteRule(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM automations WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetRule(ctx context.Context, id string) (domain.Rule, error) {
	return r.GetRuleTx(ctx, nil, id)
}

func (r Repo) GetRuleTx(ctx context.Context, tx *sql.Tx, id string) (domain.Rule, error) {
	rule, err := scanRule(r.q(tx).QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM automations WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return rule, ErrNotFound
	}
	return rule, err
}

// ListRules returns every rule of a project in creation order.
func (r Repo) ListRules(ctx context.Context, projectID string) ([]domain.Rule, error) {
	return r.ListRulesTx(ctx, nil, projectID)
}

func (r Repo) ListRulesTx(ctx context.Context, tx *sql.Tx, projectID string) ([]domain.Rule, error) {
	return r.listRules(ctx, r.q(tx), `SELECT `+ruleColumns+` FROM automations WHERE project_id=? ORDER BY created_at ASC, rowid ASC`, projectID)
}

// ListActiveRules returns the active rules of a project for one trigger kind,
// in store order.
func (r Repo) ListActiveRules(ctx context.Context, projectID string, kind domain.TriggerKind) ([]domain.Rule, error) {
	return r.listRules(ctx, r.DB, `SELECT `+ruleColumns+` FROM automations WHERE project_id=? AND trigger_kind=? AND active=1 ORDER BY created_at ASC, rowid ASC`,
		projectID, string(kind))
}

func (r Repo) listRules(ctx context.Context, q querier, query string, args ...any) ([]domain.Rule, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Rule{}
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rule)
	}
	return res, rows.Err()
}

// IncrementRuleExecution bumps the execution counter in a single statement so
// concurrent executions never lose an update.
func (r Repo) IncrementRuleExecution(ctx context.Context, id string, at time.Time) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE automations SET execution_count = execution_count + 1, last_executed_at=? WHERE id=?`,
		at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
