package actions

import (
	"context"

	"github.com/driprun/driprun/internal/dispatch"
	"github.com/driprun/driprun/internal/render"
	"github.com/driprun/driprun/pkg/schema"
)

// NotifyAction sends an internal notification, rendered against the contact,
// to a team recipient.
type NotifyAction struct{}

func (a *NotifyAction) Kind() schema.ActionKind { return schema.ActionNotify }

func (a *NotifyAction) Execute(ctx context.Context, inv *Invocation, cfg *schema.ActionConfig) error {
	if cfg.Notify == nil {
		return schema.NewError(schema.ErrCodeDefinition, "notify action config missing")
	}

	text, err := render.Render(cfg.Notify.Text, inv.Snapshot())
	if err != nil {
		return err
	}

	err = inv.Dispatcher.Send(ctx, dispatch.Message{
		Kind:      dispatch.KindNotify,
		To:        cfg.Notify.Recipient,
		Body:      text,
		ContactID: inv.Contact.ID,
		RunID:     inv.Run.ID,
	})
	if err != nil {
		return schema.NewError(schema.ErrCodeDispatch, "send notification").WithCause(err)
	}
	return nil
}
