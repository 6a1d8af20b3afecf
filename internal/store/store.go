package store

import (
	"context"
	"errors"
	"time"

	"github.com/driprun/driprun/pkg/schema"
)

// Store is the persistence surface of the engine. All operations are safe for
// concurrent use; the claim and cursor operations are compare-and-set so that
// concurrent workers and scanners cannot double-apply work.
type Store interface {
	// Automations
	CreateAutomation(ctx context.Context, a *Automation) error
	GetAutomation(ctx context.Context, workspaceID, id string) (*Automation, error)
	ListAutomations(ctx context.Context, workspaceID string) ([]*Automation, error)
	UpdateAutomation(ctx context.Context, a *Automation) error
	DeleteAutomation(ctx context.Context, workspaceID, id string) error
	SetAutomationStatus(ctx context.Context, workspaceID, id string, status schema.AutomationStatus) error
	ListRunningAutomations(ctx context.Context, workspaceID string) ([]*Automation, error)

	// Runs
	CreateRun(ctx context.Context, r *Run) error
	GetRun(ctx context.Context, workspaceID, id string) (*Run, error)
	ListRuns(ctx context.Context, f RunFilter) ([]*Run, error)
	UpdateRun(ctx context.Context, r *Run) error
	CountRuns(ctx context.Context, workspaceID, automationID, contactID string) (int, error)
	CancelRunsForAutomation(ctx context.Context, workspaceID, automationID, reason string) (int, error)

	// Queue
	CreateQueueItem(ctx context.Context, q *QueueItem) error
	GetQueueItem(ctx context.Context, workspaceID, id string) (*QueueItem, error)
	DueQueueItems(ctx context.Context, workspaceID string, now time.Time, limit int) ([]*QueueItem, error)
	// ClaimQueueItem atomically moves a queued item to processing. Returns
	// false without error when another worker claimed it first.
	ClaimQueueItem(ctx context.Context, workspaceID, id string) (bool, error)
	FinishQueueItem(ctx context.Context, workspaceID, id string, status schema.QueueItemStatus, lastError string) error
	RequeueItem(ctx context.Context, workspaceID, id string, runAt time.Time, attempts int, lastError string) error
	LiveQueueItemForRun(ctx context.Context, workspaceID, runID string) (*QueueItem, error)
	QueueItemsForRun(ctx context.Context, workspaceID, runID string) ([]*QueueItem, error)

	// Event log
	AppendEvent(ctx context.Context, e *ContactEvent) error
	EventsAfter(ctx context.Context, w EventWindow) ([]*ContactEvent, error)
	HasEventSince(ctx context.Context, workspaceID, contactID, eventType string, since time.Time) (bool, error)

	// Cursor
	GetCursor(ctx context.Context, workspaceID string) (EventCursor, error)
	// AdvanceCursor moves the cursor forward only if its stored position
	// still equals expected. Returns false when the cursor moved underneath.
	AdvanceCursor(ctx context.Context, workspaceID string, expected, next EventCursor) (bool, error)

	// Contacts
	UpsertContact(ctx context.Context, c *Contact) error
	GetContact(ctx context.Context, workspaceID, id string) (*Contact, error)

	Close() error
}

// IsNotFound reports whether err is the store's not-found error.
func IsNotFound(err error) bool {
	var ee *schema.EngineError
	return errors.As(err, &ee) && ee.Code == schema.ErrCodeNotFound
}
