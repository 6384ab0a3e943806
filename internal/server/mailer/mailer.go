// Package mailer delivers account notification emails over SMTP, or to the
// log when no SMTP relay is configured.
package mailer

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/leadcrm/internal/logging"
	"github.com/dmitrijs2005/leadcrm/internal/server/config"
	"gopkg.in/gomail.v2"
)

var ErrNoRecipients = errors.New("no recipients specified")

// Email is a plain-text message.
type Email struct {
	To      []string
	Subject string
	Body    string
}

type Sender interface {
	Send(ctx context.Context, email Email) error
}

var dialAndSend = func(d *gomail.Dialer, m ...*gomail.Message) error {
	return d.DialAndSend(m...)
}

// SMTPSender sends mail through an SMTP relay.
type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPSender(host string, port int, username, password, from string) *SMTPSender {
	return &SMTPSender{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}
}

func (s *SMTPSender) Send(ctx context.Context, email Email) error {
	if len(email.To) == 0 {
		return ErrNoRecipients
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", s.from)
	msg.SetHeader("To", email.To...)
	msg.SetHeader("Subject", email.Subject)
	msg.SetBody("text/plain", email.Body)

	return dialAndSend(s.dialer, msg)
}

// LogSender writes messages to the log instead of sending them.
type LogSender struct {
	logger logging.Logger
}

func NewLogSender(logger logging.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, email Email) error {
	if len(email.To) == 0 {
		return ErrNoRecipients
	}
	s.logger.Info(ctx, "email not sent, smtp is not configured",
		"to", email.To, "subject", email.Subject, "body", email.Body)
	return nil
}

// NewSender picks the SMTP sender when a relay is configured.
func NewSender(cfg *config.Config, logger logging.Logger) Sender {
	if cfg.SMTPEnabled() {
		return NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
	}
	return NewLogSender(logger.With("module", "mailer"))
}
