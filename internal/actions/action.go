// Package actions implements the executable side effects of action steps.
package actions

import (
	"context"

	"github.com/driprun/driprun/internal/dispatch"
	"github.com/driprun/driprun/internal/store"
	"github.com/driprun/driprun/pkg/schema"
)

// ContactWriter is the slice of the store actions need to persist contact
// mutations.
type ContactWriter interface {
	UpsertContact(ctx context.Context, c *store.Contact) error
}

// Invocation carries everything an action needs to run: the run and contact
// it acts on plus the sinks it may write to.
type Invocation struct {
	WorkspaceID string
	Run         *store.Run
	Contact     *store.Contact
	Contacts    ContactWriter
	Dispatcher  dispatch.Dispatcher
}

// Snapshot returns the contact snapshot for merge-tag rendering.
func (inv *Invocation) Snapshot() map[string]any {
	if inv.Contact == nil {
		return map[string]any{}
	}
	return inv.Contact.Snapshot()
}

// Action executes one kind of action step.
type Action interface {
	Kind() schema.ActionKind
	Execute(ctx context.Context, inv *Invocation, cfg *schema.ActionConfig) error
}
