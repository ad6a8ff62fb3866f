package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"sync"
	"testing"

	"github.com/jordan-wright/email"

	"github.com/tvcwb/boardbridge/internal/infrastructure/config"
)

type logEntry struct {
	level string
	msg   string
	args  []any
}

type captureLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *captureLogger) Info(msg string, args ...any) { l.add("info", msg, args) }
func (l *captureLogger) Warn(msg string, args ...any) { l.add("warn", msg, args) }

func (l *captureLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
}

type sentMail struct {
	email *email.Email
	addr  string
	auth  smtp.Auth
	tls   *tls.Config
}

func testSMTPConfig() config.SMTPConfig {
	return config.SMTPConfig{
		Enabled:  true,
		Host:     "smtp.example.com",
		Port:     587,
		Username: "bridge",
		Password: "secret",
		From:     "Board Bridge <bridge@example.com>",
	}
}

func newCapturingNotifier(cfg config.SMTPConfig, err error) (*SMTPNotifier, *[]sentMail) {
	var sent []sentMail
	n := NewSMTPNotifier(cfg, &captureLogger{})
	n.send = func(e *email.Email, addr string, auth smtp.Auth, t *tls.Config) error {
		sent = append(sent, sentMail{email: e, addr: addr, auth: auth, tls: t})
		return err
	}
	return n, &sent
}

func TestSMTPNotifier_Notify(t *testing.T) {
	n, sent := newCapturingNotifier(testSMTPConfig(), nil)
	recipients := []string{"ops@example.com", "alice@example.com"}

	err := n.Notify(context.Background(), "[boardbridge] MQTT broker down", "Broker: broker.local:1883\n", recipients)
	if err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if len(*sent) != 1 {
		t.Fatalf("sent %d mails, want 1", len(*sent))
	}

	m := (*sent)[0]
	if m.addr != "smtp.example.com:587" {
		t.Errorf("addr = %q, want smtp.example.com:587", m.addr)
	}
	if m.auth == nil {
		t.Error("auth = nil, want PLAIN auth when a username is set")
	}
	if m.tls == nil || m.tls.ServerName != "smtp.example.com" {
		t.Errorf("tls config = %+v, want ServerName smtp.example.com", m.tls)
	}
	if m.email.Subject != "[boardbridge] MQTT broker down" {
		t.Errorf("Subject = %q", m.email.Subject)
	}
	if strings.Join(m.email.To, ",") != "ops@example.com,alice@example.com" {
		t.Errorf("To = %v", m.email.To)
	}

	raw, err := m.email.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}
	for _, want := range []string{"Subject: [boardbridge] MQTT broker down", "broker.local:1883", "text/plain"} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("rendered mail missing %q", want)
		}
	}

	// The caller's slice is not retained.
	recipients[0] = "changed@example.com"
	if m.email.To[0] != "ops@example.com" {
		t.Error("notifier aliases the recipients slice")
	}
}

func TestSMTPNotifier_NoAuthWithoutUsername(t *testing.T) {
	cfg := testSMTPConfig()
	cfg.Username = ""
	n, sent := newCapturingNotifier(cfg, nil)

	if err := n.Notify(context.Background(), "s", "b", []string{"ops@example.com"}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if (*sent)[0].auth != nil {
		t.Error("auth set without a username")
	}
}

func TestSMTPNotifier_Errors(t *testing.T) {
	t.Run("no recipients", func(t *testing.T) {
		n, sent := newCapturingNotifier(testSMTPConfig(), nil)
		if err := n.Notify(context.Background(), "s", "b", nil); !errors.Is(err, ErrNoRecipients) {
			t.Errorf("Notify() error = %v, want ErrNoRecipients", err)
		}
		if len(*sent) != 0 {
			t.Error("mail sent without recipients")
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		n, sent := newCapturingNotifier(testSMTPConfig(), nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := n.Notify(ctx, "s", "b", []string{"ops@example.com"}); !errors.Is(err, context.Canceled) {
			t.Errorf("Notify() error = %v, want context.Canceled", err)
		}
		if len(*sent) != 0 {
			t.Error("mail sent after cancel")
		}
	})

	t.Run("server error", func(t *testing.T) {
		serverErr := fmt.Errorf("535 authentication failed")
		n, _ := newCapturingNotifier(testSMTPConfig(), serverErr)
		err := n.Notify(context.Background(), "s", "b", []string{"ops@example.com"})
		if !errors.Is(err, serverErr) {
			t.Errorf("Notify() error = %v, want wrapped server error", err)
		}
		if err != nil && !strings.Contains(err.Error(), "smtp.example.com:587") {
			t.Errorf("Notify() error = %q, want server address", err)
		}
	})
}

func TestLogNotifier(t *testing.T) {
	logger := &captureLogger{}
	n := NewLogNotifier(logger)

	err := n.Notify(context.Background(), "subject", "body\n", []string{"a@b", "c@d"})
	if err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if len(logger.entries) != 1 {
		t.Fatalf("logged %d entries, want 1", len(logger.entries))
	}
	e := logger.entries[0]
	if e.level != "warn" {
		t.Errorf("level = %q, want warn", e.level)
	}
	got := fmt.Sprint(e.args...)
	for _, want := range []string{"subject", "body", "a@b,c@d"} {
		if !strings.Contains(got, want) {
			t.Errorf("log args %v missing %q", e.args, want)
		}
	}
}
