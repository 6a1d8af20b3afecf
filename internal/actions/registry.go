package actions

import (
	"context"
	"sync"

	"github.com/driprun/driprun/pkg/schema"
)

// Registry maps action kinds to their implementations.
type Registry struct {
	mu      sync.RWMutex
	actions map[schema.ActionKind]Action
}

func NewRegistry() *Registry {
	return &Registry{actions: make(map[schema.ActionKind]Action)}
}

// DefaultRegistry returns a registry with all built-in actions registered.
func DefaultRegistry(webhookClient HTTPDoer) *Registry {
	r := NewRegistry()
	r.Register(&SendEmailAction{})
	r.Register(&UpdateFieldAction{})
	r.Register(&NotifyAction{})
	r.Register(NewWebhookAction(webhookClient))
	return r
}

func (r *Registry) Register(a Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[a.Kind()] = a
}

// Execute dispatches the config to the registered action for its kind.
func (r *Registry) Execute(ctx context.Context, inv *Invocation, cfg *schema.ActionConfig) error {
	r.mu.RLock()
	a, ok := r.actions[cfg.Kind]
	r.mu.RUnlock()
	if !ok {
		return schema.NewErrorf(schema.ErrCodeDefinition, "unknown action kind %q", cfg.Kind)
	}
	return a.Execute(ctx, inv, cfg)
}
