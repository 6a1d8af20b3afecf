package actions

import (
	"context"

	"github.com/driprun/driprun/internal/dispatch"
	"github.com/driprun/driprun/internal/render"
	"github.com/driprun/driprun/pkg/schema"
)

// SendEmailAction renders the subject and body against the contact and hands
// the result to the dispatcher.
type SendEmailAction struct{}

func (a *SendEmailAction) Kind() schema.ActionKind { return schema.ActionSendEmail }

func (a *SendEmailAction) Execute(ctx context.Context, inv *Invocation, cfg *schema.ActionConfig) error {
	if cfg.Email == nil {
		return schema.NewError(schema.ErrCodeDefinition, "send_email action config missing")
	}
	snapshot := inv.Snapshot()

	subject, err := render.Render(cfg.Email.Subject, snapshot)
	if err != nil {
		return err
	}
	body, err := render.Render(cfg.Email.Body, snapshot)
	if err != nil {
		return err
	}

	err = inv.Dispatcher.Send(ctx, dispatch.Message{
		Kind:      dispatch.KindEmail,
		To:        inv.Contact.Email,
		Subject:   subject,
		Body:      body,
		ContactID: inv.Contact.ID,
		RunID:     inv.Run.ID,
	})
	if err != nil {
		return schema.NewError(schema.ErrCodeDispatch, "send email").WithCause(err)
	}
	return nil
}
