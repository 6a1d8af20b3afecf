package store

import (
	"encoding/json"
	"time"

	"github.com/driprun/driprun/pkg/schema"
)

// Automation is a stored automation with its step graph.
type Automation struct {
	ID          string                       `json:"id"`
	WorkspaceID string                       `json:"workspace_id"`
	Name        string                       `json:"name"`
	Status      schema.AutomationStatus      `json:"status"`
	Definition  *schema.AutomationDefinition `json:"definition"`
	CreatedAt   time.Time                    `json:"created_at"`
	UpdatedAt   time.Time                    `json:"updated_at"`
}

// Run is one contact's journey through an automation.
type Run struct {
	ID            string           `json:"id"`
	WorkspaceID   string           `json:"workspace_id"`
	AutomationID  string           `json:"automation_id"`
	ContactID     string           `json:"contact_id"`
	Status        schema.RunStatus `json:"status"`
	CurrentStepID string           `json:"current_step_id,omitempty"`
	StepsExecuted int              `json:"steps_executed"`
	FailureReason string           `json:"failure_reason,omitempty"`
	StartedAt     time.Time        `json:"started_at"`
	EndedAt       *time.Time       `json:"ended_at,omitempty"`
}

// QueueItem is a pending unit of work: execute one step of one run at or
// after RunAt. A run has at most one live (queued or processing) item.
type QueueItem struct {
	ID           string                 `json:"id"`
	WorkspaceID  string                 `json:"workspace_id"`
	RunID        string                 `json:"run_id"`
	AutomationID string                 `json:"automation_id"`
	ContactID    string                 `json:"contact_id"`
	StepID       string                 `json:"step_id"`
	Status       schema.QueueItemStatus `json:"status"`
	RunAt        time.Time              `json:"run_at"`
	Attempts     int                    `json:"attempts"`
	LastError    string                 `json:"last_error,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// ContactEvent is one append-only event log entry.
type ContactEvent struct {
	ID          string          `json:"id"`
	WorkspaceID string          `json:"workspace_id"`
	ContactID   string          `json:"contact_id"`
	Type        string          `json:"type"`
	Meta        json.RawMessage `json:"meta,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// EventCursor marks how far the trigger scanner has read a workspace's event
// log. Ordering is (OccurredAt, EventID) lexicographic.
type EventCursor struct {
	WorkspaceID string    `json:"workspace_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	EventID     string    `json:"event_id"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Before reports whether the cursor position sorts strictly before the given
// event position.
func (c EventCursor) Before(occurredAt time.Time, eventID string) bool {
	if c.OccurredAt.Before(occurredAt) {
		return true
	}
	return c.OccurredAt.Equal(occurredAt) && c.EventID < eventID
}

// Contact is the marketing profile runs act on.
type Contact struct {
	ID             string          `json:"id"`
	WorkspaceID    string          `json:"workspace_id"`
	Email          string          `json:"email"`
	FirstName      string          `json:"first_name,omitempty"`
	LastName       string          `json:"last_name,omitempty"`
	Status         string          `json:"status,omitempty"`
	LifecycleStage string          `json:"lifecycle_stage,omitempty"`
	Temperature    string          `json:"temperature,omitempty"`
	LeadScore      float64         `json:"lead_score"`
	Tags           []string        `json:"tags,omitempty"`
	Lists          []string        `json:"lists,omitempty"`
	Fields         json.RawMessage `json:"fields,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// HasTag reports whether the contact carries the tag.
func (c *Contact) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Snapshot flattens the contact into a map for merge-tag rendering and
// custom condition expressions.
func (c *Contact) Snapshot() map[string]any {
	m := map[string]any{
		"id":             c.ID,
		"email":          c.Email,
		"firstName":      c.FirstName,
		"lastName":       c.LastName,
		"status":         c.Status,
		"lifecycleStage": c.LifecycleStage,
		"temperature":    c.Temperature,
		"leadScore":      c.LeadScore,
		"tags":           append([]string(nil), c.Tags...),
		"lists":          append([]string(nil), c.Lists...),
	}
	if len(c.Fields) > 0 {
		var extra map[string]any
		if err := json.Unmarshal(c.Fields, &extra); err == nil {
			for k, v := range extra {
				if _, taken := m[k]; !taken {
					m[k] = v
				}
			}
		}
	}
	return m
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	WorkspaceID  string
	AutomationID string
	Status       schema.RunStatus
	Limit        int
}

// EventWindow selects events strictly after a cursor position, oldest first.
type EventWindow struct {
	WorkspaceID string
	After       EventCursor
	Limit       int
}
