// Package dispatch delivers outbound messages produced by action steps.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
)

// Kind distinguishes message channels.
type Kind string

const (
	KindEmail  Kind = "email"
	KindNotify Kind = "notify"
)

// Message is one outbound delivery.
type Message struct {
	Kind      Kind   `json:"kind"`
	To        string `json:"to"`
	Subject   string `json:"subject,omitempty"`
	Body      string `json:"body"`
	ContactID string `json:"contact_id"`
	RunID     string `json:"run_id"`
}

// Dispatcher sends outbound messages. Implementations must be safe for
// concurrent use.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

// LogDispatcher writes deliveries to the structured log. It is the default
// sink; a real ESP or chat integration replaces it in production wiring.
type LogDispatcher struct {
	logger *slog.Logger
}

func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Send(ctx context.Context, msg Message) error {
	d.logger.InfoContext(ctx, "message dispatched",
		slog.String("kind", string(msg.Kind)),
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("contact_id", msg.ContactID),
		slog.String("run_id", msg.RunID))
	return nil
}

// CaptureDispatcher records every message in memory. Test helper.
type CaptureDispatcher struct {
	mu   sync.Mutex
	sent []Message
	// Err, when set, is returned by every Send.
	Err error
}

func NewCaptureDispatcher() *CaptureDispatcher {
	return &CaptureDispatcher{}
}

func (d *CaptureDispatcher) Send(ctx context.Context, msg Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return d.Err
	}
	d.sent = append(d.sent, msg)
	return nil
}

// Sent returns a copy of all captured messages.
func (d *CaptureDispatcher) Sent() []Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Message(nil), d.sent...)
}
