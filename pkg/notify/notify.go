// Package notify delivers out-of-band messages to users, currently just
// invitation emails. The delivery mechanism is pluggable; the default sender
// logs the message instead of sending it, which is what development and test
// environments want.
package notify

import (
	"context"

	"github.com/civitashq/civitas/pkg/observability"
)

// Message is one outbound notification.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers messages. Implementations must not block indefinitely.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the structured log instead of delivering
// them.
type LogSender struct {
	logger *observability.Logger
}

// NewLogSender creates a sender backed by the given logger.
func NewLogSender(logger *observability.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the message and always succeeds.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.WithFields(map[string]interface{}{
		"to":      msg.To,
		"subject": msg.Subject,
		"body":    msg.Body,
	}).Info("notification (not delivered)")
	return nil
}
