package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/opsdesk/ticket-sync/internal/config"
	"github.com/opsdesk/ticket-sync/internal/notify"
)

type captureMailer struct {
	msgs []notify.Message
	err  error
}

func (c *captureMailer) Send(ctx context.Context, msg notify.Message) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func TestSendTicketReply(t *testing.T) {
	mailer := &captureMailer{}
	cfg := config.MailConfig{From: "noreply@corp.test", Accounts: map[string]string{"infra": "infra@corp.test"}}
	svc := NewNotificationService(nil, mailer, zap.NewNop(), cfg, time.Second)
	number := "INC0010042"

	if err := svc.SendTicketReply(context.Background(), "infra", "alice@corp.test", "Disk full", &number); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := svc.SendTicketReply(context.Background(), "other", "bob@corp.test", "Re: VPN", nil); err != nil {
		t.Fatalf("send: %v", err)
	}

	first, second := mailer.msgs[0], mailer.msgs[1]
	if first.From != "infra@corp.test" || first.Subject != "Re: Disk full" || !strings.Contains(first.Body, number) {
		t.Fatalf("unexpected first message %+v", first)
	}
	if second.From != "noreply@corp.test" || second.Subject != "Re: VPN" || !strings.Contains(second.Body, "assigned shortly") {
		t.Fatalf("unexpected second message %+v", second)
	}
}

func TestSendTicketReplyErrors(t *testing.T) {
	svc := NewNotificationService(nil, &captureMailer{err: errBoom}, zap.NewNop(), config.MailConfig{}, 0)
	if err := svc.SendTicketReply(context.Background(), "", "a@test", "s", nil); err == nil {
		t.Fatal("mailer error must be returned")
	}
	if err := svc.SendTicketReply(context.Background(), "", " ", "s", nil); err == nil {
		t.Fatal("empty recipient must be rejected")
	}
}
