package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/opsdesk/ticket-sync/internal/config"
	"github.com/opsdesk/ticket-sync/internal/events"
	"github.com/opsdesk/ticket-sync/internal/notify"
)

// Notifier sends the acknowledgement for an ingested email.
type Notifier interface {
	SendTicketReply(ctx context.Context, channelKey, recipient, subject string, ticketNumber *string) error
}

// NotificationService formats ticket replies and logs sync outcomes.
type NotificationService struct {
	dispatcher events.Dispatcher
	mailer     notify.Mailer
	logger     *zap.Logger
	cfg        config.MailConfig
	timeout    time.Duration
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, mailer notify.Mailer, logger *zap.Logger, cfg config.MailConfig, timeout time.Duration) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		mailer:     mailer,
		logger:     logger,
		cfg:        cfg,
		timeout:    timeout,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketSynced, n.handleTicketSynced)
	n.dispatcher.Subscribe(events.EventTicketSyncFailed, n.handleTicketSyncFailed)
}

func (n *NotificationService) handleTicketSynced(ctx context.Context, event events.Event) error {
	n.logger.Info("TicketSynced", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	return nil
}

func (n *NotificationService) handleTicketSyncFailed(ctx context.Context, event events.Event) error {
	n.logger.Warn("TicketSyncFailed", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	return nil
}

// SendTicketReply implements Notifier.
func (n *NotificationService) SendTicketReply(ctx context.Context, channelKey, recipient, subject string, ticketNumber *string) error {
	if strings.TrimSpace(recipient) == "" {
		return fmt.Errorf("reply: empty recipient")
	}
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}
	msg := notify.Message{
		From:    n.cfg.FromFor(channelKey),
		To:      recipient,
		Subject: replySubject(subject),
		Body:    replyBody(subject, ticketNumber),
	}
	if err := n.mailer.Send(ctx, msg); err != nil {
		return err
	}
	n.logger.Debug("ticket reply sent",
		zap.String("channel", channelKey),
		zap.String("recipient", recipient))
	return nil
}

func replySubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "Re: your support request"
	}
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}

func replyBody(subject string, ticketNumber *string) string {
	var b strings.Builder
	b.WriteString("Hello,\n\n")
	fmt.Fprintf(&b, "We have received your request %q.\n", strings.TrimSpace(subject))
	if ticketNumber != nil && *ticketNumber != "" {
		fmt.Fprintf(&b, "Your ticket number is %s. Please quote it in any follow-up.\n", *ticketNumber)
	} else {
		b.WriteString("A ticket number will be assigned shortly.\n")
	}
	b.WriteString("\nIT Support\n")
	return b.String()
}
