package email

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"github.com/healthdesk/clinic-api/internal/config"
)

// Sender delivers a rendered notification to a recipient. The
// recipient id is resolved to an address by the implementation.
type Sender interface {
	Send(ctx context.Context, recipientID uuid.UUID, subject, body string) error
}

// AddressResolver maps a recipient reference to an email address.
type AddressResolver interface {
	EmailFor(ctx context.Context, recipientID uuid.UUID) (string, error)
}

type smtpSender struct {
	dialer   *gomail.Dialer
	from     string
	resolver AddressResolver
}

func NewSMTPSender(cfg config.EmailConfig, resolver AddressResolver) Sender {
	return &smtpSender{
		dialer:   gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:     cfg.From,
		resolver: resolver,
	}
}

func (s *smtpSender) Send(ctx context.Context, recipientID uuid.UUID, subject, body string) error {
	to, err := s.resolver.EmailFor(ctx, recipientID)
	if err != nil {
		return fmt.Errorf("failed to resolve recipient %s: %w", recipientID, err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}
	return nil
}
