package mail

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/smtp"
	"text/template"
	"time"
)

var welcomeTemplate = template.Must(template.New("welcome").Parse(
	"From: {{.From}}\r\n" +
		"To: {{.To}}\r\n" +
		"Subject: {{.Subject}}\r\n" +
		"Date: {{.Date}}\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=\"utf-8\"\r\n" +
		"\r\n" +
		"Welcome aboard! Your account is ready.\r\n",
))

// SMTPConfig configures an SMTPSender.
type SMTPConfig struct {
	// Addr is the relay address, host:port.
	Addr string
	// From is the envelope and header sender.
	From string
	// Username and Password enable PLAIN auth when Username is set.
	Username string
	Password string
	// Subject of the welcome email.
	Subject string
}

// SMTPSender delivers welcome emails through an SMTP relay.
type SMTPSender struct {
	cfg  SMTPConfig
	auth smtp.Auth
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender creates an SMTPSender.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	host, _, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("smtp addr: %w", err)
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("smtp: from address is required")
	}
	if cfg.Subject == "" {
		cfg.Subject = "Welcome"
	}
	s := &SMTPSender{cfg: cfg, send: smtp.SendMail}
	if cfg.Username != "" {
		s.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, host)
	}
	return s, nil
}

// SendWelcomeEmail renders and sends the welcome message. net/smtp has no
// context support, so ctx is honored by running the send in a goroutine;
// a send abandoned on cancel may still complete.
func (s *SMTPSender) SendWelcomeEmail(ctx context.Context, recipient string) error {
	msg, err := s.render(recipient)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- s.send(s.cfg.Addr, s.auth, s.cfg.From, []string{recipient}, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SMTPSender) render(recipient string) ([]byte, error) {
	var buf bytes.Buffer
	err := welcomeTemplate.Execute(&buf, map[string]string{
		"From":    s.cfg.From,
		"To":      recipient,
		"Subject": s.cfg.Subject,
		"Date":    time.Now().UTC().Format(time.RFC1123Z),
	})
	if err != nil {
		return nil, fmt.Errorf("render welcome email: %w", err)
	}
	return buf.Bytes(), nil
}
