package conditions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driprun/driprun/internal/store"
	"github.com/driprun/driprun/pkg/schema"
)

type fakeHistory struct {
	opened bool
	err    error
}

func (f *fakeHistory) HasEventSince(ctx context.Context, workspaceID, contactID, eventType string, since time.Time) (bool, error) {
	return f.opened, f.err
}

func newTestEvaluator(t *testing.T, history EventHistory) *Evaluator {
	t.Helper()
	if history == nil {
		history = &fakeHistory{}
	}
	ev, err := NewEvaluator(history)
	require.NoError(t, err)
	return ev
}

func testContact() *store.Contact {
	return &store.Contact{
		ID:             "c1",
		WorkspaceID:    "ws1",
		Email:          "ada@example.com",
		FirstName:      "Ada",
		LifecycleStage: "lead",
		LeadScore:      60,
		Tags:           []string{"vip", "newsletter"},
	}
}

func TestLeadScoreCondition(t *testing.T) {
	ev := newTestEvaluator(t, nil)
	contact := testContact()

	cases := []struct {
		op        string
		threshold float64
		want      bool
	}{
		{">", 50, true},
		{">", 60, false},
		{">=", 60, true},
		{"<", 60, false},
		{"<=", 60, true},
		{"==", 60, true},
		{"eq", 59, false},
	}
	for _, tc := range cases {
		got, err := ev.Evaluate(context.Background(),
			&schema.ConditionConfig{Kind: schema.ConditionLeadScore, Op: tc.op, Threshold: tc.threshold},
			contact, nil)
		require.NoError(t, err, "op %q", tc.op)
		assert.Equal(t, tc.want, got, "op %q threshold %v", tc.op, tc.threshold)
	}

	_, err := ev.Evaluate(context.Background(),
		&schema.ConditionConfig{Kind: schema.ConditionLeadScore, Op: "between"},
		contact, nil)
	assert.Error(t, err)
}

func TestLifecycleStageAndHasTag(t *testing.T) {
	ev := newTestEvaluator(t, nil)
	contact := testContact()

	got, err := ev.Evaluate(context.Background(),
		&schema.ConditionConfig{Kind: schema.ConditionLifecycleStage, Stage: "lead"}, contact, nil)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = ev.Evaluate(context.Background(),
		&schema.ConditionConfig{Kind: schema.ConditionLifecycleStage, Stage: "customer"}, contact, nil)
	require.NoError(t, err)
	assert.False(t, got)

	got, err = ev.Evaluate(context.Background(),
		&schema.ConditionConfig{Kind: schema.ConditionHasTag, Tag: "vip"}, contact, nil)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestNoOpensCondition(t *testing.T) {
	history := &fakeHistory{opened: false}
	ev := newTestEvaluator(t, history)
	contact := testContact()

	got, err := ev.Evaluate(context.Background(),
		&schema.ConditionConfig{Kind: schema.ConditionNoOpens, Days: 7}, contact, nil)
	require.NoError(t, err)
	assert.True(t, got, "no opens recorded means the condition holds")

	history.opened = true
	got, err = ev.Evaluate(context.Background(),
		&schema.ConditionConfig{Kind: schema.ConditionNoOpens, Days: 7}, contact, nil)
	require.NoError(t, err)
	assert.False(t, got)

	_, err = ev.Evaluate(context.Background(),
		&schema.ConditionConfig{Kind: schema.ConditionNoOpens}, contact, nil)
	assert.Error(t, err, "zero days is a definition error")
}

func TestCustomExprCondition(t *testing.T) {
	ev := newTestEvaluator(t, nil)
	contact := testContact()
	env := map[string]any{"contact": contact.Snapshot()}

	got, err := ev.Evaluate(context.Background(),
		&schema.ConditionConfig{Kind: schema.ConditionCustom, Expression: `contact.leadScore > 50 && "vip" in contact.tags`},
		contact, env)
	require.NoError(t, err)
	assert.True(t, got)

	// Engine defaults to expr when unset; unknown names resolve to nil.
	got, err = ev.Evaluate(context.Background(),
		&schema.ConditionConfig{Kind: schema.ConditionCustom, Expression: `contact.missing == nil`},
		contact, env)
	require.NoError(t, err)
	assert.True(t, got)

	_, err = ev.Evaluate(context.Background(),
		&schema.ConditionConfig{Kind: schema.ConditionCustom, Expression: `contact.leadScore + 1`},
		contact, env)
	assert.Error(t, err, "non-boolean result is rejected")
}

func TestCustomCELCondition(t *testing.T) {
	ev := newTestEvaluator(t, nil)
	contact := testContact()
	env := map[string]any{
		"contact": contact.Snapshot(),
		"event":   map[string]any{"type": "email_click"},
	}

	got, err := ev.Evaluate(context.Background(),
		&schema.ConditionConfig{
			Kind:       schema.ConditionCustom,
			Engine:     "cel",
			Expression: `contact.lifecycleStage == "lead" && event.type == "email_click"`,
		}, contact, env)
	require.NoError(t, err)
	assert.True(t, got)

	_, err = ev.Evaluate(context.Background(),
		&schema.ConditionConfig{Kind: schema.ConditionCustom, Engine: "cel", Expression: `contact.`},
		contact, env)
	assert.Error(t, err, "syntax errors surface at compile")

	_, err = ev.Evaluate(context.Background(),
		&schema.ConditionConfig{Kind: schema.ConditionCustom, Engine: "jsonata", Expression: `true`},
		contact, env)
	assert.Error(t, err, "unknown engine is a definition error")
}

func TestExprCompileCache(t *testing.T) {
	e := NewExprEngine()
	env := map[string]any{"x": 1}

	got, err := e.Eval("x == 1", env)
	require.NoError(t, err)
	assert.True(t, got)

	// Second evaluation hits the cache; result must not change.
	got, err = e.Eval("x == 1", map[string]any{"x": 2})
	require.NoError(t, err)
	assert.False(t, got)

	e.mu.RLock()
	defer e.mu.RUnlock()
	assert.Len(t, e.cache, 1)
}

func TestMetaQuery(t *testing.T) {
	mq := NewMetaQuery()
	meta := map[string]any{
		"campaignId": "camp-9",
		"amount":     120.5,
		"items":      []any{"a", "b"},
	}

	got, err := mq.Match(`.campaignId == "camp-9"`, meta)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = mq.Match(`.amount > 200`, meta)
	require.NoError(t, err)
	assert.False(t, got)

	// Non-boolean truthy output counts as a match, null does not.
	got, err = mq.Match(`.items[0]`, meta)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = mq.Match(`.missing`, meta)
	require.NoError(t, err)
	assert.False(t, got)

	_, err = mq.Match(`.[broken`, meta)
	assert.Error(t, err)
}
