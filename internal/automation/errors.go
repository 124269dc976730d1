package automation

import (
	"errors"
	"fmt"
)

// Sentinel errors for rule failures. Use errors.Is to classify an *Error.
var (
	// ErrConfiguration marks a rule definition rejected at create or update
	// time, before anything is persisted.
	ErrConfiguration = errors.New("invalid automation")

	// ErrLookup marks a task, user or rule set that could not be found while
	// a rule was running. The affected rule is skipped; others still run.
	ErrLookup = errors.New("automation lookup failed")

	// ErrPersistence marks a write that failed while applying an action.
	ErrPersistence = errors.New("automation write failed")
)

// Error carries the failure class plus the rule and operation that failed.
type Error struct {
	Kind   error
	RuleID string
	Op     string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.RuleID != "" {
		msg = fmt.Sprintf("%s: rule %s", msg, e.RuleID)
	}
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Op)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ConfigError builds an ErrConfiguration for a rule definition.
func ConfigError(format string, args ...any) error {
	return &Error{Kind: ErrConfiguration, Err: fmt.Errorf(format, args...)}
}

func lookupError(ruleID, op string, err error) error {
	return &Error{Kind: ErrLookup, RuleID: ruleID, Op: op, Err: err}
}

func persistenceError(ruleID, op string, err error) error {
	return &Error{Kind: ErrPersistence, RuleID: ruleID, Op: op, Err: err}
}
