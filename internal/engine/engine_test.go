package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/driprun/driprun/internal/actions"
	"github.com/driprun/driprun/internal/conditions"
	"github.com/driprun/driprun/internal/dispatch"
	"github.com/driprun/driprun/internal/store"
	"github.com/driprun/driprun/pkg/schema"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testRig struct {
	store    *store.LibSQLStore
	scanner  *Scanner
	executor *Executor
	capture  *dispatch.CaptureDispatcher
}

func newTestRig(t *testing.T, opts ExecutorOptions) *testRig {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine_test.db")
	st, err := store.NewLibSQLStore(path)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	evaluator, err := conditions.NewEvaluator(st)
	require.NoError(t, err)
	capture := dispatch.NewCaptureDispatcher()
	logger := discardLogger()

	return &testRig{
		store:    st,
		scanner:  NewScanner(st, logger),
		executor: NewExecutor(st, actions.DefaultRegistry(nil), evaluator, capture, logger, opts),
		capture:  capture,
	}
}

func seedContact(t *testing.T, rig *testRig, workspaceID, id string) *store.Contact {
	t.Helper()
	c := &store.Contact{
		ID:          id,
		WorkspaceID: workspaceID,
		Email:       id + "@example.com",
		FirstName:   "Ada",
		LeadScore:   60,
		Tags:        []string{"vip"},
	}
	require.NoError(t, rig.store.UpsertContact(context.Background(), c))
	return c
}

func seedAutomation(t *testing.T, rig *testRig, workspaceID string, def *schema.AutomationDefinition) *store.Automation {
	t.Helper()
	a := &store.Automation{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Name:        "test automation",
		Status:      schema.AutomationStatusRunning,
		Definition:  def,
	}
	require.NoError(t, rig.store.CreateAutomation(context.Background(), a))
	return a
}

func appendEvent(t *testing.T, rig *testRig, workspaceID, contactID, eventType string, meta string, at time.Time) *store.ContactEvent {
	t.Helper()
	e := &store.ContactEvent{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		ContactID:   contactID,
		Type:        eventType,
		OccurredAt:  at,
	}
	if meta != "" {
		e.Meta = []byte(meta)
	}
	require.NoError(t, rig.store.AppendEvent(context.Background(), e))
	return e
}

// linearEmailDef is a trigger feeding a single send_email action.
func linearEmailDef() *schema.AutomationDefinition {
	return &schema.AutomationDefinition{
		Steps: map[string]*schema.Step{
			"t1": {
				ID:      "t1",
				Kind:    schema.StepKindTrigger,
				Trigger: &schema.TriggerConfig{EventType: schema.EventFormSubmitted},
				Next:    "a1",
			},
			"a1": {
				ID:   "a1",
				Kind: schema.StepKindAction,
				Action: &schema.ActionConfig{
					Kind:  schema.ActionSendEmail,
					Email: &schema.EmailActionConfig{Subject: "Welcome {{firstName}}", Body: "hello"},
				},
			},
		},
	}
}

// drainQueue processes batches until no due work remains.
func drainQueue(t *testing.T, rig *testRig, workspaceID string) {
	t.Helper()
	for i := 0; i < 50; i++ {
		res, err := rig.executor.Process(context.Background(), workspaceID, 50)
		require.NoError(t, err)
		if res.Due == 0 {
			return
		}
	}
	t.Fatal("queue did not drain")
}
