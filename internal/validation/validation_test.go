package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driprun/driprun/pkg/schema"
)

func validDef() *schema.AutomationDefinition {
	return &schema.AutomationDefinition{
		Steps: map[string]*schema.Step{
			"t1": {ID: "t1", Kind: schema.StepKindTrigger,
				Trigger: &schema.TriggerConfig{EventType: schema.EventFormSubmitted}, Next: "c1"},
			"c1": {ID: "c1", Kind: schema.StepKindCondition,
				Condition: &schema.ConditionConfig{Kind: schema.ConditionHasTag, Tag: "vip"},
				NextYes:   "a1", NextNo: ""},
			"a1": {ID: "a1", Kind: schema.StepKindAction,
				Action: &schema.ActionConfig{Kind: schema.ActionSendEmail,
					Email: &schema.EmailActionConfig{Subject: "s", Body: "b"}}},
		},
	}
}

func TestCheckGraphValid(t *testing.T) {
	report := CheckGraph(validDef())
	assert.True(t, report.Valid())
	assert.Empty(t, report.Warnings)
}

func TestCheckGraphDanglingEdge(t *testing.T) {
	def := validDef()
	def.Steps["a1"].Next = "ghost"

	report := CheckGraph(def)
	assert.False(t, report.Valid())
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], `missing step "ghost"`)
}

func TestCheckGraphKindConfigMismatch(t *testing.T) {
	def := validDef()
	def.Steps["a1"].Action = nil

	report := CheckGraph(def)
	assert.False(t, report.Valid())
	assert.Contains(t, report.Errors[0], "action config missing")

	def = validDef()
	def.Steps["a1"].Wait = &schema.WaitConfig{Days: 1}
	report = CheckGraph(def)
	assert.False(t, report.Valid())
	assert.Contains(t, report.Errors[0], "more than one config payload")
}

func TestCheckGraphEdgeFields(t *testing.T) {
	def := validDef()
	def.Steps["c1"].Next = "a1"
	report := CheckGraph(def)
	assert.False(t, report.Valid())
	assert.Contains(t, report.Errors[0], "must use next_yes/next_no")

	def = validDef()
	def.Steps["a1"].NextYes = "c1"
	report = CheckGraph(def)
	assert.False(t, report.Valid())

	def = validDef()
	def.Steps["a1"].Next = "t1"
	report = CheckGraph(def)
	assert.False(t, report.Valid())
	assert.Contains(t, report.Errors[0], "points at trigger step")
}

func TestCheckGraphNoTrigger(t *testing.T) {
	def := validDef()
	delete(def.Steps, "t1")
	def.Steps["c1"].NextNo = ""

	report := CheckGraph(def)
	assert.False(t, report.Valid())
	assert.Contains(t, report.Errors[0], "no trigger step")
}

func TestCheckGraphCycleIsWarning(t *testing.T) {
	def := validDef()
	def.Steps["a1"].Next = "c1" // a1 -> c1 -> a1

	report := CheckGraph(def)
	assert.True(t, report.Valid(), "cycles do not block the write")
	require.NotEmpty(t, report.Warnings)
	assert.Contains(t, report.Warnings[0], "cycle")
}

func TestAutomationValidator(t *testing.T) {
	v, err := NewAutomationValidator()
	require.NoError(t, err)

	good := `{
		"name": "welcome",
		"definition": {"steps": {"t1": {"id": "t1", "kind": "trigger", "trigger": {"event_type": "form_submitted"}}}}
	}`
	assert.NoError(t, v.Validate([]byte(good)))

	missingName := `{"definition": {"steps": {"t1": {"id": "t1", "kind": "trigger"}}}}`
	err = v.Validate([]byte(missingName))
	require.Error(t, err)
	var ee *schema.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, schema.ErrCodeValidation, ee.Code)

	badKind := `{"name": "x", "definition": {"steps": {"s1": {"id": "s1", "kind": "teleport"}}}}`
	assert.Error(t, v.Validate([]byte(badKind)))

	notJSON := `{"name": `
	assert.Error(t, v.Validate([]byte(notJSON)))
}

func TestDecodeDefinition(t *testing.T) {
	raw := []byte(`{"steps": {
		"t1": {"id": "t1", "kind": "trigger", "trigger": {"event_type": "form_submitted"}, "next": "a1"},
		"a1": {"id": "a1", "kind": "action", "action": {"kind": "send_email", "email": {"subject": "s", "body": "b"}}}
	}}`)

	def, report, err := DecodeDefinition(raw)
	require.NoError(t, err)
	assert.True(t, report.Valid())
	assert.Len(t, def.Steps, 2)

	_, _, err = DecodeDefinition([]byte(`{"steps": {"a1": {"id": "a1", "kind": "action"}}}`))
	require.Error(t, err)
	var ee *schema.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, schema.ErrCodeValidation, ee.Code)
}
