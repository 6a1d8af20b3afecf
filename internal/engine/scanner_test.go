package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driprun/driprun/internal/store"
	"github.com/driprun/driprun/pkg/schema"
)

func TestScanOpensRunAndQueuesFirstStep(t *testing.T) {
	rig := newTestRig(t, ExecutorOptions{})
	ctx := context.Background()

	seedContact(t, rig, "ws1", "c1")
	auto := seedAutomation(t, rig, "ws1", linearEmailDef())
	appendEvent(t, rig, "ws1", "c1", schema.EventFormSubmitted, "", time.Now().UTC())

	res, err := rig.scanner.Scan(ctx, "ws1", 100)
	require.NoError(t, err)
	assert.Equal(t, 1, res.EventsRead)
	assert.Equal(t, 1, res.RunsOpened)
	assert.Empty(t, res.Errors)

	runs, err := rig.store.ListRuns(ctx, store.RunFilter{WorkspaceID: "ws1", AutomationID: auto.ID})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, schema.RunStatusRunning, runs[0].Status)
	assert.Equal(t, "a1", runs[0].CurrentStepID)

	item, err := rig.store.LiveQueueItemForRun(ctx, "ws1", runs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "a1", item.StepID)
	assert.Equal(t, schema.QueueStatusQueued, item.Status)
}

func TestScanAdvancesCursorExactlyOnce(t *testing.T) {
	rig := newTestRig(t, ExecutorOptions{})
	ctx := context.Background()

	seedContact(t, rig, "ws1", "c1")
	seedAutomation(t, rig, "ws1", linearEmailDef())
	appendEvent(t, rig, "ws1", "c1", schema.EventFormSubmitted, "", time.Now().UTC())

	res, err := rig.scanner.Scan(ctx, "ws1", 100)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RunsOpened)

	// Second scan sees no unread events: the cursor moved.
	res, err = rig.scanner.Scan(ctx, "ws1", 100)
	require.NoError(t, err)
	assert.Zero(t, res.EventsRead)
	assert.Zero(t, res.RunsOpened)
}

// flakyAutomationStore fails ListRunningAutomations a set number of times.
type flakyAutomationStore struct {
	store.Store
	failures int
}

func (s *flakyAutomationStore) ListRunningAutomations(ctx context.Context, workspaceID string) ([]*store.Automation, error) {
	if s.failures > 0 {
		s.failures--
		return nil, schema.NewError(schema.ErrCodeStore, "automations unavailable")
	}
	return s.Store.ListRunningAutomations(ctx, workspaceID)
}

func TestScanFailedBatchIsRetried(t *testing.T) {
	rig := newTestRig(t, ExecutorOptions{})
	ctx := context.Background()

	seedContact(t, rig, "ws1", "c1")
	auto := seedAutomation(t, rig, "ws1", linearEmailDef())
	appendEvent(t, rig, "ws1", "c1", schema.EventFormSubmitted, "", time.Now().UTC())

	flaky := &flakyAutomationStore{Store: rig.store, failures: 1}
	scanner := NewScanner(flaky, discardLogger())

	_, err := scanner.Scan(ctx, "ws1", 100)
	require.Error(t, err)

	// The cursor must not have moved past the unprocessed batch: the next
	// scan re-reads the same events and delivers the trigger.
	res, err := scanner.Scan(ctx, "ws1", 100)
	require.NoError(t, err)
	assert.Equal(t, 1, res.EventsRead)
	assert.Equal(t, 1, res.RunsOpened)

	runs, err := rig.store.ListRuns(ctx, store.RunFilter{WorkspaceID: "ws1", AutomationID: auto.ID})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestScanMultipleTriggersOpenIndependentRuns(t *testing.T) {
	rig := newTestRig(t, ExecutorOptions{})
	ctx := context.Background()

	def := &schema.AutomationDefinition{
		Steps: map[string]*schema.Step{
			"t1": {ID: "t1", Kind: schema.StepKindTrigger,
				Trigger: &schema.TriggerConfig{EventType: schema.EventFormSubmitted}, Next: "a1"},
			"t2": {ID: "t2", Kind: schema.StepKindTrigger,
				Trigger: &schema.TriggerConfig{EventType: schema.EventFormSubmitted}, Next: "a2"},
			"a1": {ID: "a1", Kind: schema.StepKindAction,
				Action: &schema.ActionConfig{Kind: schema.ActionSendEmail,
					Email: &schema.EmailActionConfig{Subject: "one", Body: "x"}}},
			"a2": {ID: "a2", Kind: schema.StepKindAction,
				Action: &schema.ActionConfig{Kind: schema.ActionSendEmail,
					Email: &schema.EmailActionConfig{Subject: "two", Body: "y"}}},
		},
	}

	seedContact(t, rig, "ws1", "c1")
	auto := seedAutomation(t, rig, "ws1", def)
	appendEvent(t, rig, "ws1", "c1", schema.EventFormSubmitted, "", time.Now().UTC())

	res, err := rig.scanner.Scan(ctx, "ws1", 100)
	require.NoError(t, err)
	assert.Equal(t, 2, res.RunsOpened, "each matching trigger opens its own run")

	runs, err := rig.store.ListRuns(ctx, store.RunFilter{WorkspaceID: "ws1", AutomationID: auto.ID})
	require.NoError(t, err)
	require.Len(t, runs, 2)

	steps := map[string]bool{}
	for _, run := range runs {
		steps[run.CurrentStepID] = true
	}
	assert.True(t, steps["a1"] && steps["a2"], "runs start at different first steps")
}

func TestScanPausedAutomationIgnored(t *testing.T) {
	rig := newTestRig(t, ExecutorOptions{})
	ctx := context.Background()

	seedContact(t, rig, "ws1", "c1")
	auto := seedAutomation(t, rig, "ws1", linearEmailDef())
	require.NoError(t, rig.store.SetAutomationStatus(ctx, "ws1", auto.ID, schema.AutomationStatusPaused))
	appendEvent(t, rig, "ws1", "c1", schema.EventFormSubmitted, "", time.Now().UTC())

	res, err := rig.scanner.Scan(ctx, "ws1", 100)
	require.NoError(t, err)
	assert.Equal(t, 1, res.EventsRead)
	assert.Zero(t, res.RunsOpened)
}

func TestScanTriggerFilters(t *testing.T) {
	rig := newTestRig(t, ExecutorOptions{})
	ctx := context.Background()

	seedContact(t, rig, "ws1", "c1")
	def := linearEmailDef()
	def.Steps["t1"].Trigger = &schema.TriggerConfig{
		EventType: schema.EventEmailClick,
		Filters: schema.TriggerFilters{
			CampaignID:  "camp-9",
			URLContains: "/pricing",
		},
	}
	auto := seedAutomation(t, rig, "ws1", def)

	now := time.Now().UTC()
	appendEvent(t, rig, "ws1", "c1", schema.EventEmailClick,
		`{"campaignId":"camp-9","url":"https://example.com/pricing?x=1"}`, now)
	appendEvent(t, rig, "ws1", "c1", schema.EventEmailClick,
		`{"campaignId":"camp-9","url":"https://example.com/docs"}`, now.Add(time.Second))
	appendEvent(t, rig, "ws1", "c1", schema.EventEmailClick,
		`{"campaignId":"other","url":"https://example.com/pricing"}`, now.Add(2*time.Second))

	res, err := rig.scanner.Scan(ctx, "ws1", 100)
	require.NoError(t, err)
	assert.Equal(t, 3, res.EventsRead)
	assert.Equal(t, 1, res.RunsOpened, "only the event matching campaign and url opens a run")

	runs, err := rig.store.ListRuns(ctx, store.RunFilter{WorkspaceID: "ws1", AutomationID: auto.ID})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestScanMetaQueryFilter(t *testing.T) {
	rig := newTestRig(t, ExecutorOptions{})
	ctx := context.Background()

	seedContact(t, rig, "ws1", "c1")
	def := linearEmailDef()
	def.Steps["t1"].Trigger = &schema.TriggerConfig{
		EventType: schema.EventPurchase,
		Filters:   schema.TriggerFilters{MetaQuery: `.amount >= 100`},
	}
	seedAutomation(t, rig, "ws1", def)

	now := time.Now().UTC()
	appendEvent(t, rig, "ws1", "c1", schema.EventPurchase, `{"amount":250}`, now)
	appendEvent(t, rig, "ws1", "c1", schema.EventPurchase, `{"amount":20}`, now.Add(time.Second))

	res, err := rig.scanner.Scan(ctx, "ws1", 100)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RunsOpened)
}

func TestScanFrequencyOnce(t *testing.T) {
	rig := newTestRig(t, ExecutorOptions{})
	ctx := context.Background()

	seedContact(t, rig, "ws1", "c1")
	def := linearEmailDef()
	def.Steps["t1"].Trigger.Frequency = schema.TriggerFrequencyOnce
	auto := seedAutomation(t, rig, "ws1", def)

	now := time.Now().UTC()
	appendEvent(t, rig, "ws1", "c1", schema.EventFormSubmitted, "", now)
	appendEvent(t, rig, "ws1", "c1", schema.EventFormSubmitted, "", now.Add(time.Second))

	res, err := rig.scanner.Scan(ctx, "ws1", 100)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RunsOpened, "second matching event must not reenter the contact")

	runs, err := rig.store.ListRuns(ctx, store.RunFilter{WorkspaceID: "ws1", AutomationID: auto.ID})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestScanSoftFailsBrokenAutomation(t *testing.T) {
	rig := newTestRig(t, ExecutorOptions{})
	ctx := context.Background()

	seedContact(t, rig, "ws1", "c1")

	broken := linearEmailDef()
	broken.Steps["t1"].Trigger.Filters = schema.TriggerFilters{MetaQuery: `.[oops`}
	seedAutomation(t, rig, "ws1", broken)
	healthy := seedAutomation(t, rig, "ws1", linearEmailDef())

	appendEvent(t, rig, "ws1", "c1", schema.EventFormSubmitted, `{"x":1}`, time.Now().UTC())

	res, err := rig.scanner.Scan(ctx, "ws1", 100)
	require.NoError(t, err)
	assert.Len(t, res.Errors, 1, "broken meta query is a soft failure")
	assert.Equal(t, 1, res.RunsOpened, "healthy automation still opens its run")

	runs, err := rig.store.ListRuns(ctx, store.RunFilter{WorkspaceID: "ws1", AutomationID: healthy.ID})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestManualTrigger(t *testing.T) {
	rig := newTestRig(t, ExecutorOptions{})
	ctx := context.Background()

	seedContact(t, rig, "ws1", "c1")
	auto := seedAutomation(t, rig, "ws1", linearEmailDef())

	runID, stepID, err := rig.scanner.Trigger(ctx, "ws1", auto.ID, "c1")
	require.NoError(t, err)
	assert.NotEmpty(t, runID)
	assert.Equal(t, "a1", stepID)

	run, err := rig.store.GetRun(ctx, "ws1", runID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusRunning, run.Status)
}

func TestManualTriggerRejectsPausedAndMissing(t *testing.T) {
	rig := newTestRig(t, ExecutorOptions{})
	ctx := context.Background()

	seedContact(t, rig, "ws1", "c1")
	auto := seedAutomation(t, rig, "ws1", linearEmailDef())
	require.NoError(t, rig.store.SetAutomationStatus(ctx, "ws1", auto.ID, schema.AutomationStatusPaused))

	_, _, err := rig.scanner.Trigger(ctx, "ws1", auto.ID, "c1")
	assert.Error(t, err)

	_, _, err = rig.scanner.Trigger(ctx, "ws1", "missing", "c1")
	assert.True(t, store.IsNotFound(err))

	require.NoError(t, rig.store.SetAutomationStatus(ctx, "ws1", auto.ID, schema.AutomationStatusRunning))
	_, _, err = rig.scanner.Trigger(ctx, "ws1", auto.ID, "ghost")
	assert.True(t, store.IsNotFound(err))
}
