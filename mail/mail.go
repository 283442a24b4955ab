package mail

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/xraph/courier"
	"github.com/xraph/courier/job"
)

// Sender delivers the welcome email. Implementations may be called more
// than once for the same recipient when a job is redelivered.
type Sender interface {
	SendWelcomeEmail(ctx context.Context, recipient string) error
}

// WelcomePayload is the body of a welcome-email job.
type WelcomePayload struct {
	Email string `json:"email"`
}

// Validate reports whether the payload names a deliverable address.
func (p WelcomePayload) Validate() error {
	if strings.TrimSpace(p.Email) == "" {
		return errors.New("welcome payload: empty email")
	}
	if _, err := mail.ParseAddress(p.Email); err != nil {
		return fmt.Errorf("welcome payload: %w", err)
	}
	return nil
}

// WelcomeDefinition returns the handler for the email topic. A payload
// without a valid address fails permanently; sender errors are transient.
func WelcomeDefinition(sender Sender) *job.Definition[WelcomePayload] {
	return job.NewDefinition(courier.TopicEmail, func(ctx context.Context, p WelcomePayload) error {
		if err := p.Validate(); err != nil {
			return courier.Permanent(err)
		}
		if err := sender.SendWelcomeEmail(ctx, p.Email); err != nil {
			return courier.Transient(err)
		}
		return nil
	})
}
