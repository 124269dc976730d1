package automation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskboard/internal/domain"
)

func TestMatchesStatusChange(t *testing.T) {
	tr := Transition{ProjectID: "p1", Kind: domain.TriggerStatusChange, From: "To Do", To: "Done"}
	cases := []struct {
		name string
		rule domain.Rule
		want bool
	}{
		{"exact", statusRule("r", "To Do", "Done", nil), true},
		{"wildcard from", statusRule("r", "", "Done", nil), true},
		{"wildcard to", statusRule("r", "To Do", "", nil), true},
		{"wildcard both", statusRule("r", "", "", nil), true},
		{"other target", statusRule("r", "To Do", "In Progress", nil), false},
		{"other source", statusRule("r", "In Progress", "Done", nil), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Matches(tc.rule, tr))
		})
	}
}

func TestInactiveRuleNeverMatches(t *testing.T) {
	rule := statusRule("r", "", "", nil)
	rule.Active = false
	assert.False(t, Matches(rule, Transition{Kind: domain.TriggerStatusChange, From: "To Do", To: "Done"}))
}

func TestMatchesRejectsOtherKindAndNoopTransition(t *testing.T) {
	rule := statusRule("r", "", "", nil)
	assert.False(t, Matches(rule, Transition{Kind: domain.TriggerAssigneeChange, To: "u1"}))
	assert.False(t, Matches(rule, Transition{Kind: domain.TriggerStatusChange, From: "Done", To: "Done"}))
}

func TestMatchesAssigneeChange(t *testing.T) {
	anyone := domain.Rule{Active: true, Trigger: domain.AssigneeChangeTrigger{}}
	alice := domain.Rule{Active: true, Trigger: domain.AssigneeChangeTrigger{AssigneeID: "alice"}}
	tr := Transition{Kind: domain.TriggerAssigneeChange, From: "", To: "bob"}

	assert.True(t, Matches(anyone, tr))
	assert.False(t, Matches(alice, tr))
	tr.To = "alice"
	assert.True(t, Matches(alice, tr))
}

func TestMatchesDueDatePassed(t *testing.T) {
	rule := domain.Rule{Active: true, Trigger: domain.DueDatePassedTrigger{}}
	assert.True(t, Matches(rule, Transition{Kind: domain.TriggerDueDatePassed}))
}

func TestMatcherKeepsStoreOrder(t *testing.T) {
	store := newFakeStore()
	inactive := statusRule("r0", "", "Done", nil)
	inactive.Active = false
	store.rules = []domain.Rule{
		statusRule("r1", "", "Done", nil),
		inactive,
		statusRule("r2", "To Do", "", nil),
		statusRule("r3", "In Progress", "Done", nil),
		statusRule("r4", "", "", nil),
		{ID: "r5", ProjectID: "p2", Active: true, Trigger: domain.StatusChangeTrigger{}},
	}

	rules, err := Matcher{Rules: store}.Match(context.Background(), Transition{ProjectID: "p1", Kind: domain.TriggerStatusChange, From: "To Do", To: "Done"})
	require.NoError(t, err)
	var ids []string
	for _, r := range rules {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"r1", "r2", "r4"}, ids)
}

func TestMatcherEmptyIsNotAnError(t *testing.T) {
	rules, err := Matcher{Rules: newFakeStore()}.Match(context.Background(), Transition{ProjectID: "p1", Kind: domain.TriggerDueDatePassed})
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestMatcherStoreFailureIsLookupError(t *testing.T) {
	store := newFakeStore()
	store.listErr = errors.New("db closed")
	_, err := Matcher{Rules: store}.Match(context.Background(), Transition{ProjectID: "p1", Kind: domain.TriggerDueDatePassed})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLookup)
	assert.ErrorIs(t, err, store.listErr)
}

func TestMatcherPassesOnRuleWithUndecodableTrigger(t *testing.T) {
	rules := ruleList{
		{ID: "bad", ProjectID: "p1", Active: true, Invalid: errors.New("decode trigger")},
		statusRule("ok", "", "Done", domain.AwardBadgeAction{BadgeName: "Finisher"}),
	}
	matched, err := Matcher{Rules: rules}.Match(context.Background(), toDone("t1"))
	require.NoError(t, err)
	require.Len(t, matched, 2)
	assert.Equal(t, "bad", matched[0].ID)
}

type ruleList []domain.Rule

func (l ruleList) ListActiveRules(context.Context, string, domain.TriggerKind) ([]domain.Rule, error) {
	return l, nil
}
