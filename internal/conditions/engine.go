// Package conditions evaluates the predicates of condition steps and the
// custom filters of trigger steps.
package conditions

import (
	"context"
	"time"

	"github.com/driprun/driprun/internal/store"
	"github.com/driprun/driprun/pkg/schema"
)

// ExpressionEngine is a boolean expression evaluator. Implementations cache
// compiled programs and are safe for concurrent use.
type ExpressionEngine interface {
	Name() string
	Eval(expression string, env map[string]any) (bool, error)
}

// EventHistory answers look-back questions about a contact's event log.
type EventHistory interface {
	HasEventSince(ctx context.Context, workspaceID, contactID, eventType string, since time.Time) (bool, error)
}

// Evaluator resolves condition step predicates against a contact. Custom
// predicates are routed to the configured expression engine; the default
// engine handles configs that leave Engine empty.
type Evaluator struct {
	history EventHistory
	engines map[string]ExpressionEngine
	now     func() time.Time
}

// NewEvaluator builds an evaluator with both expression engines registered.
func NewEvaluator(history EventHistory) (*Evaluator, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	ev := &Evaluator{
		history: history,
		engines: make(map[string]ExpressionEngine),
		now:     time.Now,
	}
	ev.register(NewExprEngine())
	ev.register(celEngine)
	return ev, nil
}

func (ev *Evaluator) register(e ExpressionEngine) {
	ev.engines[e.Name()] = e
}

// Evaluate resolves a condition against the contact. env carries the
// expression context for custom predicates (contact, event, run maps).
func (ev *Evaluator) Evaluate(ctx context.Context, cond *schema.ConditionConfig, contact *store.Contact, env map[string]any) (bool, error) {
	switch cond.Kind {
	case schema.ConditionLeadScore:
		return compareScore(contact.LeadScore, cond.Op, cond.Threshold)

	case schema.ConditionLifecycleStage:
		return contact.LifecycleStage == cond.Stage, nil

	case schema.ConditionHasTag:
		return contact.HasTag(cond.Tag), nil

	case schema.ConditionNoOpens:
		if cond.Days <= 0 {
			return false, schema.NewErrorf(schema.ErrCodeDefinition, "no_opens condition needs a positive days value, got %d", cond.Days)
		}
		since := ev.now().UTC().AddDate(0, 0, -cond.Days)
		opened, err := ev.history.HasEventSince(ctx, contact.WorkspaceID, contact.ID, schema.EventEmailOpen, since)
		if err != nil {
			return false, err
		}
		return !opened, nil

	case schema.ConditionCustom:
		engineName := cond.Engine
		if engineName == "" {
			engineName = "expr"
		}
		engine, ok := ev.engines[engineName]
		if !ok {
			return false, schema.NewErrorf(schema.ErrCodeDefinition, "unknown expression engine %q", engineName)
		}
		if cond.Expression == "" {
			return false, schema.NewError(schema.ErrCodeDefinition, "custom condition needs an expression")
		}
		return engine.Eval(cond.Expression, env)

	default:
		return false, schema.NewErrorf(schema.ErrCodeDefinition, "unknown condition kind %q", cond.Kind)
	}
}

func compareScore(score float64, op string, threshold float64) (bool, error) {
	switch op {
	case ">", "gt":
		return score > threshold, nil
	case ">=", "gte":
		return score >= threshold, nil
	case "<", "lt":
		return score < threshold, nil
	case "<=", "lte":
		return score <= threshold, nil
	case "==", "eq", "":
		return score == threshold, nil
	default:
		return false, schema.NewErrorf(schema.ErrCodeDefinition, "unknown lead_score operator %q", op)
	}
}
