package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/jordan-wright/email"

	"github.com/tvcwb/boardbridge/internal/infrastructure/config"
)

// ErrNoRecipients is returned when a notification has nowhere to go.
var ErrNoRecipients = errors.New("notify: no recipients")

// Logger is the logging surface the notifiers need.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// sendFunc delivers a rendered message. Swapped out in tests.
type sendFunc func(e *email.Email, addr string, auth smtp.Auth, tlsConfig *tls.Config) error

func sendWithStartTLS(e *email.Email, addr string, auth smtp.Auth, tlsConfig *tls.Config) error {
	return e.SendWithStartTLS(addr, auth, tlsConfig)
}

// SMTPNotifier sends notifications as plain-text e-mail.
//
// Thread Safety:
//   - Notify is safe for concurrent use; each call opens its own connection.
type SMTPNotifier struct {
	cfg    config.SMTPConfig
	logger Logger
	send   sendFunc
}

// NewSMTPNotifier creates a notifier for the given mail server.
func NewSMTPNotifier(cfg config.SMTPConfig, logger Logger) *SMTPNotifier {
	return &SMTPNotifier{
		cfg:    cfg,
		logger: logger,
		send:   sendWithStartTLS,
	}
}

// Notify sends one message to all recipients.
//
// The mail library does not take a context; ctx is only checked before
// the connection is opened.
func (n *SMTPNotifier) Notify(ctx context.Context, subject, body string, recipients []string) error {
	if len(recipients) == 0 {
		return ErrNoRecipients
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e := n.message(subject, body, recipients)

	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))

	if err := n.send(e, addr, auth, &tls.Config{ServerName: n.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
		return fmt.Errorf("sending mail via %s: %w", addr, err)
	}

	if n.logger != nil {
		n.logger.Info("notification mailed",
			"subject", subject,
			"recipients", len(recipients),
		)
	}
	return nil
}

func (n *SMTPNotifier) message(subject, body string, recipients []string) *email.Email {
	e := email.NewEmail()
	e.From = n.cfg.From
	e.To = append([]string(nil), recipients...)
	e.Subject = subject
	e.Text = []byte(body)
	return e
}

// LogNotifier writes notifications to the log instead of sending them.
type LogNotifier struct {
	logger Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the notification at warn level.
func (n *LogNotifier) Notify(_ context.Context, subject, body string, recipients []string) error {
	n.logger.Warn("operator notification",
		"subject", subject,
		"body", strings.TrimSpace(body),
		"recipients", strings.Join(recipients, ","),
	)
	return nil
}
