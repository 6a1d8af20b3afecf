// Package engine drives automation runs: the scanner opens them from the
// event log and the executor advances them step by step through the queue.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driprun/driprun/internal/actions"
	"github.com/driprun/driprun/internal/conditions"
	"github.com/driprun/driprun/internal/dispatch"
	"github.com/driprun/driprun/internal/logging"
	"github.com/driprun/driprun/internal/store"
	"github.com/driprun/driprun/pkg/schema"
)

// DefaultMaxSteps is the per-run cycle ceiling. A run that executes this many
// steps fails rather than loop forever.
const DefaultMaxSteps = 500

// ProcessResult reports one executor batch.
type ProcessResult struct {
	Due       int      `json:"due"`
	Claimed   int      `json:"claimed"`
	Processed int      `json:"processed"`
	Retried   int      `json:"retried"`
	Errors    []string `json:"errors,omitempty"`
}

// ExecutorOptions tune the executor; zero values take defaults.
type ExecutorOptions struct {
	PoolSize int
	MaxSteps int
	Retry    RetryPolicy
}

// Executor claims due queue items and executes their steps.
type Executor struct {
	store      store.Store
	registry   *actions.Registry
	evaluator  *conditions.Evaluator
	dispatcher dispatch.Dispatcher
	logger     *slog.Logger
	opts       ExecutorOptions
	now        func() time.Time
}

func NewExecutor(st store.Store, registry *actions.Registry, evaluator *conditions.Evaluator, dispatcher dispatch.Dispatcher, logger *slog.Logger, opts ExecutorOptions) *Executor {
	if opts.PoolSize < 1 {
		opts.PoolSize = 4
	}
	if opts.MaxSteps < 1 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry = DefaultRetryPolicy()
	}
	return &Executor{
		store:      st,
		registry:   registry,
		evaluator:  evaluator,
		dispatcher: dispatcher,
		logger:     logger,
		opts:       opts,
		now:        time.Now,
	}
}

// Process claims and executes one batch of due queue items on the worker
// pool. Items another executor claims first are skipped silently; per-item
// failures are collected, never fatal to the batch.
func (e *Executor) Process(ctx context.Context, workspaceID string, batchSize int) (*ProcessResult, error) {
	ctx = logging.WithWorkspaceID(ctx, workspaceID)
	if batchSize <= 0 {
		batchSize = 50
	}

	due, err := e.store.DueQueueItems(ctx, workspaceID, e.now().UTC(), batchSize)
	if err != nil {
		return nil, err
	}

	result := &ProcessResult{Due: len(due)}
	if len(due) == 0 {
		return result, nil
	}

	pool := NewWorkerPool(e.opts.PoolSize)
	var mu sync.Mutex
	for _, item := range due {
		item := item
		submitErr := pool.Submit(ctx, func() {
			outcome := e.processItem(ctx, item)
			mu.Lock()
			defer mu.Unlock()
			if outcome.claimed {
				result.Claimed++
			}
			if outcome.processed {
				result.Processed++
			}
			if outcome.retried {
				result.Retried++
			}
			if outcome.err != nil {
				result.Errors = append(result.Errors, outcome.err.Error())
			}
		})
		if submitErr != nil {
			mu.Lock()
			result.Errors = append(result.Errors, submitErr.Error())
			mu.Unlock()
		}
	}
	pool.Wait()

	e.logger.InfoContext(ctx, "process batch complete",
		slog.Int("due", result.Due),
		slog.Int("claimed", result.Claimed),
		slog.Int("processed", result.Processed),
		slog.Int("retried", result.Retried),
		slog.Int("errors", len(result.Errors)))
	return result, nil
}

type itemOutcome struct {
	claimed   bool
	processed bool
	retried   bool
	err       error
}

func (e *Executor) processItem(ctx context.Context, item *store.QueueItem) itemOutcome {
	ctx = logging.WithRunID(ctx, item.RunID)
	ctx = logging.WithStepID(ctx, item.StepID)

	claimed, err := e.store.ClaimQueueItem(ctx, item.WorkspaceID, item.ID)
	if err != nil {
		return itemOutcome{err: err}
	}
	if !claimed {
		return itemOutcome{}
	}

	run, err := e.store.GetRun(ctx, item.WorkspaceID, item.RunID)
	if err != nil {
		return itemOutcome{claimed: true, err: e.finishItem(ctx, item, schema.QueueStatusFailed, err)}
	}

	// Lazy cancellation: a run that left running while this item waited is
	// settled at claim time without executing anything.
	if run.Status != schema.RunStatusRunning {
		e.logger.InfoContext(ctx, "dropping queue item for settled run",
			slog.String("run_status", string(run.Status)))
		if err := e.store.FinishQueueItem(ctx, item.WorkspaceID, item.ID, schema.QueueStatusDone, "run "+string(run.Status)); err != nil {
			return itemOutcome{claimed: true, err: err}
		}
		return itemOutcome{claimed: true, processed: true}
	}

	automation, err := e.store.GetAutomation(ctx, item.WorkspaceID, run.AutomationID)
	if err != nil {
		if store.IsNotFound(err) {
			return e.cancelRun(ctx, item, run, "automation deleted")
		}
		return e.settleFailure(ctx, item, run, err)
	}
	ctx = logging.WithAutomationID(ctx, automation.ID)

	// Pause is the cancellation signal, observed lazily at claim time: the
	// item finishes without executing and the run moves to cancelled.
	if automation.Status != schema.AutomationStatusRunning {
		return e.cancelRun(ctx, item, run, "automation "+string(automation.Status))
	}

	step, ok := automation.Definition.Steps[item.StepID]
	if !ok || step == nil {
		return e.settleFailure(ctx, item, run,
			schema.NewErrorf(schema.ErrCodeDefinition, "step %q not in automation %s", item.StepID, automation.ID).WithStep(item.StepID))
	}

	next, delay, err := e.executeStep(ctx, automation, run, step)
	if err != nil {
		attempts := item.Attempts + 1
		if IsRetryableError(err) && attempts < e.opts.Retry.MaxAttempts {
			retryAt := e.now().UTC().Add(e.opts.Retry.Backoff(attempts))
			if rqErr := e.store.RequeueItem(ctx, item.WorkspaceID, item.ID, retryAt, attempts, err.Error()); rqErr != nil {
				return itemOutcome{claimed: true, err: rqErr}
			}
			e.logger.WarnContext(ctx, "step failed, retry scheduled",
				slog.Int("attempts", attempts),
				slog.Time("retry_at", retryAt),
				slog.String("error", err.Error()))
			return itemOutcome{claimed: true, retried: true}
		}
		item.Attempts = attempts
		return e.settleFailure(ctx, item, run, err)
	}

	return e.advance(ctx, item, run, next, delay)
}

// executeStep runs a single step and returns the ID of the next step plus the
// delay before it becomes due. An empty next ID ends the run.
func (e *Executor) executeStep(ctx context.Context, automation *store.Automation, run *store.Run, step *schema.Step) (string, time.Duration, error) {
	switch step.Kind {
	case schema.StepKindAction:
		if step.Action == nil {
			return "", 0, schema.NewErrorf(schema.ErrCodeDefinition, "step %q: action config missing", step.ID).WithStep(step.ID)
		}
		contact, err := e.store.GetContact(ctx, run.WorkspaceID, run.ContactID)
		if err != nil {
			return "", 0, err
		}
		inv := &actions.Invocation{
			WorkspaceID: run.WorkspaceID,
			Run:         run,
			Contact:     contact,
			Contacts:    e.store,
			Dispatcher:  e.dispatcher,
		}
		if err := e.registry.Execute(ctx, inv, step.Action); err != nil {
			return "", 0, err
		}
		return step.Next, 0, nil

	case schema.StepKindCondition:
		if step.Condition == nil {
			return "", 0, schema.NewErrorf(schema.ErrCodeDefinition, "step %q: condition config missing", step.ID).WithStep(step.ID)
		}
		contact, err := e.store.GetContact(ctx, run.WorkspaceID, run.ContactID)
		if err != nil {
			return "", 0, err
		}
		env := map[string]any{
			"contact": contact.Snapshot(),
			"run": map[string]any{
				"id":            run.ID,
				"automationId":  run.AutomationID,
				"stepsExecuted": run.StepsExecuted,
			},
		}
		yes, err := e.evaluator.Evaluate(ctx, step.Condition, contact, env)
		if err != nil {
			return "", 0, err
		}
		e.logger.DebugContext(ctx, "condition evaluated", slog.Bool("result", yes))
		if yes {
			return step.NextYes, 0, nil
		}
		return step.NextNo, 0, nil

	case schema.StepKindWait:
		if step.Wait == nil {
			return "", 0, schema.NewErrorf(schema.ErrCodeDefinition, "step %q: wait config missing", step.ID).WithStep(step.ID)
		}
		delay := waitDuration(step.Wait)
		if delay <= 0 {
			return "", 0, schema.NewErrorf(schema.ErrCodeDefinition, "step %q: wait needs a positive duration", step.ID).WithStep(step.ID)
		}
		return step.Next, delay, nil

	case schema.StepKindTrigger:
		// Triggers never enter the queue; the scanner starts runs after them.
		return "", 0, schema.NewErrorf(schema.ErrCodeDefinition, "step %q: trigger steps are not executable", step.ID).WithStep(step.ID)

	default:
		return "", 0, schema.NewErrorf(schema.ErrCodeDefinition, "step %q: unknown kind %q", step.ID, step.Kind).WithStep(step.ID)
	}
}

// advance finishes the current item and queues the next step, completing the
// run when there is none. The cycle ceiling fails runaway graphs.
func (e *Executor) advance(ctx context.Context, item *store.QueueItem, run *store.Run, next string, delay time.Duration) itemOutcome {
	now := e.now().UTC()
	run.StepsExecuted++

	if run.StepsExecuted >= e.opts.MaxSteps && next != "" {
		err := schema.NewErrorf(schema.ErrCodeCycleExceeded, "run exceeded %d steps", e.opts.MaxSteps)
		return e.settleFailure(ctx, item, run, err)
	}

	if err := e.store.FinishQueueItem(ctx, item.WorkspaceID, item.ID, schema.QueueStatusDone, ""); err != nil {
		return itemOutcome{claimed: true, err: err}
	}

	if next == "" {
		if !CanTransitionRun(run.Status, schema.RunStatusCompleted) {
			return itemOutcome{claimed: true, err: invalidRunTransition(run.Status, schema.RunStatusCompleted)}
		}
		run.Status = schema.RunStatusCompleted
		run.CurrentStepID = ""
		run.EndedAt = &now
		if err := e.store.UpdateRun(ctx, run); err != nil {
			return itemOutcome{claimed: true, err: err}
		}
		e.logger.InfoContext(ctx, "run completed", slog.Int("steps_executed", run.StepsExecuted))
		return itemOutcome{claimed: true, processed: true}
	}

	run.CurrentStepID = next
	if err := e.store.UpdateRun(ctx, run); err != nil {
		return itemOutcome{claimed: true, err: err}
	}
	nextItem := &store.QueueItem{
		ID:           uuid.NewString(),
		WorkspaceID:  item.WorkspaceID,
		RunID:        run.ID,
		AutomationID: item.AutomationID,
		ContactID:    item.ContactID,
		StepID:       next,
		Status:       schema.QueueStatusQueued,
		RunAt:        now.Add(delay),
	}
	if err := e.store.CreateQueueItem(ctx, nextItem); err != nil {
		return itemOutcome{claimed: true, err: err}
	}

	e.logger.DebugContext(ctx, "run advanced",
		slog.String("next_step", next),
		slog.Time("run_at", nextItem.RunAt))
	return itemOutcome{claimed: true, processed: true}
}

// cancelRun settles a claimed item whose automation stopped being runnable:
// the item is done without executing and the run is cancelled.
func (e *Executor) cancelRun(ctx context.Context, item *store.QueueItem, run *store.Run, reason string) itemOutcome {
	if err := e.store.FinishQueueItem(ctx, item.WorkspaceID, item.ID, schema.QueueStatusDone, reason); err != nil {
		return itemOutcome{claimed: true, err: err}
	}
	if CanTransitionRun(run.Status, schema.RunStatusCancelled) {
		now := e.now().UTC()
		run.Status = schema.RunStatusCancelled
		run.EndedAt = &now
		if err := e.store.UpdateRun(ctx, run); err != nil {
			return itemOutcome{claimed: true, err: err}
		}
	}
	e.logger.InfoContext(ctx, "run cancelled", slog.String("reason", reason))
	return itemOutcome{claimed: true, processed: true}
}

// settleFailure marks the item failed and the run failed with the reason.
func (e *Executor) settleFailure(ctx context.Context, item *store.QueueItem, run *store.Run, cause error) itemOutcome {
	now := e.now().UTC()

	if err := e.store.FinishQueueItem(ctx, item.WorkspaceID, item.ID, schema.QueueStatusFailed, cause.Error()); err != nil {
		return itemOutcome{claimed: true, err: err}
	}

	if run.Status == schema.RunStatusRunning {
		run.Status = schema.RunStatusFailed
		run.FailureReason = cause.Error()
		run.EndedAt = &now
		if err := e.store.UpdateRun(ctx, run); err != nil {
			return itemOutcome{claimed: true, err: err}
		}
	}

	e.logger.ErrorContext(ctx, "run failed",
		slog.Int("steps_executed", run.StepsExecuted),
		slog.String("error", cause.Error()))
	return itemOutcome{claimed: true, processed: true, err: cause}
}

func (e *Executor) finishItem(ctx context.Context, item *store.QueueItem, status schema.QueueItemStatus, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := e.store.FinishQueueItem(ctx, item.WorkspaceID, item.ID, status, msg); err != nil {
		return err
	}
	return cause
}

func waitDuration(w *schema.WaitConfig) time.Duration {
	return time.Duration(w.Days)*24*time.Hour +
		time.Duration(w.Hours)*time.Hour +
		time.Duration(w.Minutes)*time.Minute
}
