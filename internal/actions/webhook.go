package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/driprun/driprun/pkg/schema"
)

// HTTPDoer is the client surface the webhook action needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// WebhookAction POSTs the run context and contact snapshot to an external
// URL. Responses outside 2xx count as execution failures; 5xx and transport
// errors are retryable, 4xx is not.
type WebhookAction struct {
	client HTTPDoer
}

func NewWebhookAction(client HTTPDoer) *WebhookAction {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookAction{client: client}
}

func (a *WebhookAction) Kind() schema.ActionKind { return schema.ActionWebhook }

type webhookPayload struct {
	WorkspaceID  string         `json:"workspace_id"`
	RunID        string         `json:"run_id"`
	AutomationID string         `json:"automation_id"`
	Contact      map[string]any `json:"contact"`
	SentAt       time.Time      `json:"sent_at"`
}

func (a *WebhookAction) Execute(ctx context.Context, inv *Invocation, cfg *schema.ActionConfig) error {
	if cfg.Webhook == nil {
		return schema.NewError(schema.ErrCodeDefinition, "webhook action config missing")
	}
	if cfg.Webhook.URL == "" {
		return schema.NewError(schema.ErrCodeDefinition, "webhook action needs a url")
	}

	body, err := json.Marshal(webhookPayload{
		WorkspaceID:  inv.WorkspaceID,
		RunID:        inv.Run.ID,
		AutomationID: inv.Run.AutomationID,
		Contact:      inv.Snapshot(),
		SentAt:       time.Now().UTC(),
	})
	if err != nil {
		return schema.NewError(schema.ErrCodeInternal, "marshal webhook payload").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Webhook.URL, bytes.NewReader(body))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeDefinition, "build webhook request for %s", cfg.Webhook.URL).WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.Webhook.Secret != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Webhook.Secret)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeExecution, "deliver webhook to %s", cfg.Webhook.URL).WithCause(err)
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return schema.NewErrorf(schema.ErrCodeValidation, "webhook %s rejected with status %d", cfg.Webhook.URL, resp.StatusCode)
	default:
		return schema.NewErrorf(schema.ErrCodeExecution, "webhook %s returned status %d", cfg.Webhook.URL, resp.StatusCode)
	}
}
