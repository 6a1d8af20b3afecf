package schema

// AutomationStatus represents the lifecycle state of an automation.
type AutomationStatus string

const (
	AutomationStatusRunning AutomationStatus = "running"
	AutomationStatusPaused  AutomationStatus = "paused"
)

// IsValid reports whether the automation status is a known value.
func (s AutomationStatus) IsValid() bool {
	return s == AutomationStatusRunning || s == AutomationStatusPaused
}

// StepKind enumerates the kinds of nodes in an automation graph.
type StepKind string

const (
	StepKindTrigger   StepKind = "trigger"
	StepKindCondition StepKind = "condition"
	StepKindAction    StepKind = "action"
	StepKindWait      StepKind = "wait"
)

// IsValid reports whether the step kind is a known value.
func (k StepKind) IsValid() bool {
	switch k {
	case StepKindTrigger, StepKindCondition, StepKindAction, StepKindWait:
		return true
	default:
		return false
	}
}

// TriggerFrequency controls how often a trigger may open a run per contact.
type TriggerFrequency string

const (
	// TriggerFrequencyEveryTime opens a run on every matching event.
	TriggerFrequencyEveryTime TriggerFrequency = "every_time"
	// TriggerFrequencyOnce skips contacts that already have a run for the automation.
	TriggerFrequencyOnce TriggerFrequency = "once"
)

// AutomationDefinition is the JSON-serializable step graph of an automation.
// Steps form a directed graph rooted at one or more trigger nodes; edges are
// step IDs and may be absent (a missing edge ends the traversal).
type AutomationDefinition struct {
	Steps map[string]*Step `json:"steps"`
}

// TriggerSteps returns all trigger steps in map order; callers that need
// determinism must sort.
func (d *AutomationDefinition) TriggerSteps() []*Step {
	var out []*Step
	for _, s := range d.Steps {
		if s != nil && s.Kind == StepKindTrigger {
			out = append(out, s)
		}
	}
	return out
}

// Step is one node in an automation graph. Kind selects exactly one of the
// typed config payloads; the others must be nil. Trigger, Action and Wait
// steps use Next; Condition steps use NextYes/NextNo.
type Step struct {
	ID   string   `json:"id"`
	Kind StepKind `json:"kind"`

	Trigger   *TriggerConfig   `json:"trigger,omitempty"`
	Condition *ConditionConfig `json:"condition,omitempty"`
	Action    *ActionConfig    `json:"action,omitempty"`
	Wait      *WaitConfig      `json:"wait,omitempty"`

	Next    string `json:"next,omitempty"`
	NextYes string `json:"next_yes,omitempty"`
	NextNo  string `json:"next_no,omitempty"`
}

// Config returns the non-nil payload matching the step kind, or an error when
// the payload is missing or the kind is unknown.
func (s *Step) Config() (any, error) {
	switch s.Kind {
	case StepKindTrigger:
		if s.Trigger == nil {
			return nil, NewErrorf(ErrCodeDefinition, "step %q: trigger config missing", s.ID).WithStep(s.ID)
		}
		return s.Trigger, nil
	case StepKindCondition:
		if s.Condition == nil {
			return nil, NewErrorf(ErrCodeDefinition, "step %q: condition config missing", s.ID).WithStep(s.ID)
		}
		return s.Condition, nil
	case StepKindAction:
		if s.Action == nil {
			return nil, NewErrorf(ErrCodeDefinition, "step %q: action config missing", s.ID).WithStep(s.ID)
		}
		return s.Action, nil
	case StepKindWait:
		if s.Wait == nil {
			return nil, NewErrorf(ErrCodeDefinition, "step %q: wait config missing", s.ID).WithStep(s.ID)
		}
		return s.Wait, nil
	default:
		return nil, NewErrorf(ErrCodeDefinition, "step %q: unknown kind %q", s.ID, s.Kind).WithStep(s.ID)
	}
}

// Edges returns all outgoing edges of the step, skipping absent ones.
func (s *Step) Edges() []string {
	var out []string
	for _, e := range []string{s.Next, s.NextYes, s.NextNo} {
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}

// TriggerConfig declares what events a trigger step matches.
// Absent filters match any event of the declared type.
type TriggerConfig struct {
	EventType string           `json:"event_type"`
	Filters   TriggerFilters   `json:"filters,omitempty"`
	Frequency TriggerFrequency `json:"frequency,omitempty"`
}

// TriggerFilters narrows a trigger match against the event meta payload.
// String filters use equality except URLContains (substring). MetaQuery is a
// jq expression over the meta object that must yield a truthy value.
type TriggerFilters struct {
	CampaignID  string `json:"campaign_id,omitempty"`
	Tag         string `json:"tag,omitempty"`
	List        string `json:"list,omitempty"`
	Form        string `json:"form,omitempty"`
	URLContains string `json:"url_contains,omitempty"`
	MetaQuery   string `json:"meta_query,omitempty"`
}

// Empty reports whether no filter is set.
func (f TriggerFilters) Empty() bool {
	return f == TriggerFilters{}
}

// ConditionKind enumerates the supported condition predicates.
type ConditionKind string

const (
	ConditionLeadScore      ConditionKind = "lead_score"
	ConditionLifecycleStage ConditionKind = "lifecycle_stage"
	ConditionNoOpens        ConditionKind = "no_opens"
	ConditionHasTag         ConditionKind = "has_tag"
	ConditionCustom         ConditionKind = "custom"
)

// ConditionConfig is the predicate of a condition step. Kind selects which
// fields are meaningful:
//   - lead_score: Op + Threshold
//   - lifecycle_stage: Stage
//   - no_opens: Days
//   - has_tag: Tag
//   - custom: Expression (+ optional Engine, "expr" default or "cel")
type ConditionConfig struct {
	Kind       ConditionKind `json:"kind"`
	Op         string        `json:"op,omitempty"`
	Threshold  float64       `json:"threshold,omitempty"`
	Stage      string        `json:"stage,omitempty"`
	Days       int           `json:"days,omitempty"`
	Tag        string        `json:"tag,omitempty"`
	Expression string        `json:"expression,omitempty"`
	Engine     string        `json:"engine,omitempty"`
}

// ActionKind enumerates the supported action steps.
type ActionKind string

const (
	ActionSendEmail   ActionKind = "send_email"
	ActionUpdateField ActionKind = "update_field"
	ActionNotify      ActionKind = "notify"
	ActionWebhook     ActionKind = "webhook"
)

// ActionConfig is the payload of an action step; Kind selects exactly one of
// the nested configs.
type ActionConfig struct {
	Kind    ActionKind           `json:"kind"`
	Email   *EmailActionConfig   `json:"email,omitempty"`
	Field   *FieldActionConfig   `json:"field,omitempty"`
	Notify  *NotifyActionConfig  `json:"notify,omitempty"`
	Webhook *WebhookActionConfig `json:"webhook,omitempty"`
}

// EmailActionConfig configures a send_email action. Subject and Body may
// contain {{field}} merge tags resolved against the contact.
type EmailActionConfig struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// FieldOp is the mutation applied by an update_field action.
type FieldOp string

const (
	FieldOpSet    FieldOp = "set"
	FieldOpAdd    FieldOp = "add"
	FieldOpRemove FieldOp = "remove"
)

// FieldActionConfig configures an update_field action. Set applies to scalar
// fields (temperature, lifecycle_stage, status, lead_score); Add/Remove apply
// to the set-like fields tag and list.
type FieldActionConfig struct {
	Field string  `json:"field"`
	Op    FieldOp `json:"op"`
	Value string  `json:"value"`
}

// NotifyActionConfig configures a notify action. Text may contain merge tags.
type NotifyActionConfig struct {
	Recipient string `json:"recipient"`
	Text      string `json:"text"`
}

// WebhookActionConfig configures a webhook action. The contact and run
// context are POSTed as JSON; Secret, when set, is sent as a bearer token.
type WebhookActionConfig struct {
	URL    string `json:"url"`
	Secret string `json:"secret,omitempty"`
}

// WaitConfig configures a wait step. The delay is the sum of all fields; at
// least one must be positive.
type WaitConfig struct {
	Days    int `json:"days,omitempty"`
	Hours   int `json:"hours,omitempty"`
	Minutes int `json:"minutes,omitempty"`
}

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the run status is final.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// QueueItemStatus represents the lifecycle state of a queue item.
type QueueItemStatus string

const (
	QueueStatusQueued     QueueItemStatus = "queued"
	QueueStatusProcessing QueueItemStatus = "processing"
	QueueStatusDone       QueueItemStatus = "done"
	QueueStatusFailed     QueueItemStatus = "failed"
)
