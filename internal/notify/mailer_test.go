package notify

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/opsdesk/ticket-sync/internal/config"
)

func TestNewMailerSelectsTransport(t *testing.T) {
	if _, ok := NewMailer(config.MailConfig{}, zap.NewNop()).(*LogMailer); !ok {
		t.Fatal("expected log mailer without host")
	}
	if _, ok := NewMailer(config.MailConfig{Host: "smtp.test", Port: 25}, zap.NewNop()).(*SMTPMailer); !ok {
		t.Fatal("expected smtp mailer with host")
	}
}

func TestSMTPMailerHonoursContext(t *testing.T) {
	// 192.0.2.0/24 is reserved for documentation and never answers
	m := NewSMTPMailer(config.MailConfig{Host: "192.0.2.1", Port: 25})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Send(ctx, Message{From: "a@test", To: "b@test", Subject: "s", Body: "b"}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
