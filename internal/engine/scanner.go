package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/driprun/driprun/internal/conditions"
	"github.com/driprun/driprun/internal/logging"
	"github.com/driprun/driprun/internal/store"
	"github.com/driprun/driprun/pkg/schema"
)

// ScanResult reports one scan batch. Errors holds per-automation soft
// failures; a bad automation never blocks the rest of the batch.
type ScanResult struct {
	EventsRead int      `json:"events_read"`
	Matched    int      `json:"matched"`
	RunsOpened int      `json:"runs_opened"`
	Errors     []string `json:"errors,omitempty"`
}

// Scanner reads the event log past the workspace cursor and opens runs for
// matching triggers.
type Scanner struct {
	store  store.Store
	meta   *conditions.MetaQuery
	logger *slog.Logger
	now    func() time.Time
}

func NewScanner(st store.Store, logger *slog.Logger) *Scanner {
	return &Scanner{
		store:  st,
		meta:   conditions.NewMetaQuery(),
		logger: logger,
		now:    time.Now,
	}
}

// Scan processes one batch of unread events. The cursor only advances after
// every event in the batch has been matched, so a batch that fails wholesale
// is re-read on the next invocation; at-least-once trigger delivery means a
// concurrent scan of the same window can open duplicate runs, and the
// compare-and-set on the cursor keeps the overlap to a single lost race.
func (s *Scanner) Scan(ctx context.Context, workspaceID string, limit int) (*ScanResult, error) {
	ctx = logging.WithWorkspaceID(ctx, workspaceID)
	if limit <= 0 {
		limit = 100
	}

	cursor, err := s.store.GetCursor(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	events, err := s.store.EventsAfter(ctx, store.EventWindow{
		WorkspaceID: workspaceID,
		After:       cursor,
		Limit:       limit,
	})
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return &ScanResult{}, nil
	}

	automations, err := s.store.ListRunningAutomations(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	result := &ScanResult{EventsRead: len(events)}
	for _, event := range events {
		for _, automation := range automations {
			opened, err := s.matchAutomation(ctx, automation, event)
			if err != nil {
				// Soft fail: one broken automation must not starve the rest.
				result.Errors = append(result.Errors, err.Error())
				s.logger.WarnContext(ctx, "automation match failed",
					slog.String("automation_id", automation.ID),
					slog.String("event_id", event.ID),
					slog.String("error", err.Error()))
				continue
			}
			if opened > 0 {
				result.Matched++
				result.RunsOpened += opened
			}
		}
	}

	last := events[len(events)-1]
	next := store.EventCursor{
		WorkspaceID: workspaceID,
		OccurredAt:  last.OccurredAt,
		EventID:     last.ID,
	}
	won, err := s.store.AdvanceCursor(ctx, workspaceID, cursor, next)
	if err != nil {
		return nil, err
	}
	if !won {
		// Another scan of the same window got there first; its runs stand
		// alongside ours and the next invocation reads from its cursor.
		s.logger.DebugContext(ctx, "scan lost cursor race")
	}

	s.logger.InfoContext(ctx, "scan batch complete",
		slog.Int("events_read", result.EventsRead),
		slog.Int("runs_opened", result.RunsOpened),
		slog.Int("errors", len(result.Errors)))
	return result, nil
}

// matchAutomation checks every trigger step of the automation against the
// event. Each matching trigger opens its own independent run.
func (s *Scanner) matchAutomation(ctx context.Context, automation *store.Automation, event *store.ContactEvent) (int, error) {
	if automation.Definition == nil {
		return 0, schema.NewErrorf(schema.ErrCodeDefinition, "automation %s has no definition", automation.ID)
	}
	opened := 0
	for _, trigger := range automation.Definition.TriggerSteps() {
		matched, err := s.triggerMatches(trigger, event)
		if err != nil {
			return opened, err
		}
		if !matched {
			continue
		}

		cfg := trigger.Trigger
		if cfg.Frequency == schema.TriggerFrequencyOnce {
			n, err := s.store.CountRuns(ctx, automation.WorkspaceID, automation.ID, event.ContactID)
			if err != nil {
				return opened, err
			}
			if n > 0 {
				continue
			}
		}

		if _, err := s.openRun(ctx, automation, trigger, event.ContactID); err != nil {
			return opened, err
		}
		opened++
	}
	return opened, nil
}

func (s *Scanner) triggerMatches(trigger *schema.Step, event *store.ContactEvent) (bool, error) {
	cfg := trigger.Trigger
	if cfg == nil {
		return false, schema.NewErrorf(schema.ErrCodeDefinition, "trigger step %q has no config", trigger.ID).WithStep(trigger.ID)
	}
	if cfg.EventType != event.Type {
		return false, nil
	}
	if cfg.Filters.Empty() {
		return true, nil
	}

	var meta map[string]any
	if len(event.Meta) > 0 {
		if err := json.Unmarshal(event.Meta, &meta); err != nil {
			return false, schema.NewErrorf(schema.ErrCodeDefinition, "event %s has malformed meta", event.ID).WithCause(err)
		}
	}

	f := cfg.Filters
	if f.CampaignID != "" && metaString(meta, "campaignId") != f.CampaignID {
		return false, nil
	}
	if f.Tag != "" && metaString(meta, "tag") != f.Tag {
		return false, nil
	}
	if f.List != "" && metaString(meta, "list") != f.List {
		return false, nil
	}
	if f.Form != "" && metaString(meta, "form") != f.Form {
		return false, nil
	}
	if f.URLContains != "" && !strings.Contains(metaString(meta, "url"), f.URLContains) {
		return false, nil
	}
	if f.MetaQuery != "" {
		matched, err := s.meta.Match(f.MetaQuery, meta)
		if err != nil {
			return false, err
		}
		if !matched {
			return false, nil
		}
	}
	return true, nil
}

// openRun creates a run and queues its first executable step. A trigger with
// no outgoing edge completes the run immediately.
func (s *Scanner) openRun(ctx context.Context, automation *store.Automation, trigger *schema.Step, contactID string) (*store.Run, error) {
	now := s.now().UTC()
	run := &store.Run{
		ID:           uuid.NewString(),
		WorkspaceID:  automation.WorkspaceID,
		AutomationID: automation.ID,
		ContactID:    contactID,
		Status:       schema.RunStatusRunning,
		StartedAt:    now,
	}

	if trigger.Next == "" {
		run.Status = schema.RunStatusCompleted
		run.EndedAt = &now
		if err := s.store.CreateRun(ctx, run); err != nil {
			return nil, err
		}
		s.logger.InfoContext(logging.WithRunID(ctx, run.ID), "run opened and completed, trigger has no next step",
			slog.String("automation_id", automation.ID))
		return run, nil
	}

	run.CurrentStepID = trigger.Next
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	item := &store.QueueItem{
		ID:           uuid.NewString(),
		WorkspaceID:  automation.WorkspaceID,
		RunID:        run.ID,
		AutomationID: automation.ID,
		ContactID:    contactID,
		StepID:       trigger.Next,
		Status:       schema.QueueStatusQueued,
		RunAt:        now,
	}
	if err := s.store.CreateQueueItem(ctx, item); err != nil {
		return nil, err
	}

	s.logger.InfoContext(logging.WithRunID(ctx, run.ID), "run opened",
		slog.String("automation_id", automation.ID),
		slog.String("contact_id", contactID),
		slog.String("first_step", trigger.Next))
	return run, nil
}

// Trigger opens a run for a contact directly, bypassing the event log. The
// automation must be running; trigger frequency still applies. Returns the
// run ID and the first queued step ID (empty when the run completed at once).
func (s *Scanner) Trigger(ctx context.Context, workspaceID, automationID, contactID string) (string, string, error) {
	ctx = logging.WithWorkspaceID(ctx, workspaceID)

	automation, err := s.store.GetAutomation(ctx, workspaceID, automationID)
	if err != nil {
		return "", "", err
	}
	if automation.Status != schema.AutomationStatusRunning {
		return "", "", schema.NewErrorf(schema.ErrCodeConflict, "automation %s is %s", automationID, automation.Status)
	}
	if _, err := s.store.GetContact(ctx, workspaceID, contactID); err != nil {
		return "", "", err
	}

	triggers := automation.Definition.TriggerSteps()
	if len(triggers) == 0 {
		return "", "", schema.NewErrorf(schema.ErrCodeDefinition, "automation %s has no trigger step", automationID)
	}
	trigger := triggers[0]
	for _, t := range triggers[1:] {
		if t.ID < trigger.ID {
			trigger = t
		}
	}

	if trigger.Trigger != nil && trigger.Trigger.Frequency == schema.TriggerFrequencyOnce {
		n, err := s.store.CountRuns(ctx, workspaceID, automationID, contactID)
		if err != nil {
			return "", "", err
		}
		if n > 0 {
			return "", "", schema.NewErrorf(schema.ErrCodeConflict, "contact %s already entered automation %s", contactID, automationID)
		}
	}

	run, err := s.openRun(ctx, automation, trigger, contactID)
	if err != nil {
		return "", "", err
	}
	return run.ID, run.CurrentStepID, nil
}

func metaString(meta map[string]any, key string) string {
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}
