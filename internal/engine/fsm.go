package engine

import (
	"github.com/driprun/driprun/pkg/schema"
)

// validRunTransitions is the closed transition table for runs. A run leaves
// running exactly once.
var validRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusRunning: {
		schema.RunStatusCompleted,
		schema.RunStatusFailed,
		schema.RunStatusCancelled,
	},
	schema.RunStatusCompleted: {},
	schema.RunStatusFailed:    {},
	schema.RunStatusCancelled: {},
}

// validQueueTransitions is the closed transition table for queue items.
// processing may return to queued on a retry.
var validQueueTransitions = map[schema.QueueItemStatus][]schema.QueueItemStatus{
	schema.QueueStatusQueued: {
		schema.QueueStatusProcessing,
	},
	schema.QueueStatusProcessing: {
		schema.QueueStatusQueued,
		schema.QueueStatusDone,
		schema.QueueStatusFailed,
	},
	schema.QueueStatusDone:   {},
	schema.QueueStatusFailed: {},
}

// CanTransitionRun reports whether a run may move from one status to another.
func CanTransitionRun(from, to schema.RunStatus) bool {
	for _, allowed := range validRunTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CanTransitionQueueItem reports whether a queue item may move from one
// status to another.
func CanTransitionQueueItem(from, to schema.QueueItemStatus) bool {
	for _, allowed := range validQueueTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func invalidRunTransition(from, to schema.RunStatus) error {
	return schema.NewErrorf(schema.ErrCodeConflict, "run cannot move from %s to %s", from, to)
}
