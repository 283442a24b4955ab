package mail

import (
	"context"
	"log/slog"
	"sync"
)

// LogSender logs instead of sending. It is the default sender for local
// runs and records recipients for tests.
type LogSender struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []string
}

// NewLogSender creates a LogSender. A nil logger uses slog.Default.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

// SendWelcomeEmail logs the recipient.
func (s *LogSender) SendWelcomeEmail(ctx context.Context, recipient string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "sending welcome email", slog.String("recipient", recipient))

	s.mu.Lock()
	s.sent = append(s.sent, recipient)
	s.mu.Unlock()
	return nil
}

// Sent returns the recipients seen so far, in order.
func (s *LogSender) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}
