package inbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/opsdesk/ticket-sync/internal/domain"
	"github.com/opsdesk/ticket-sync/internal/service"
	apperrors "github.com/opsdesk/ticket-sync/pkg/util/errorutil"
)

// Ingester turns one message into a ticket.
type Ingester interface {
	Ingest(ctx context.Context, in service.IngestInput) (service.IngestResult, error)
}

// SenderResolver maps a sender address to a registered user.
type SenderResolver interface {
	ResolveSender(ctx context.Context, sender string) *string
}

// Poller drains unseen messages from a mailbox into the ingestion service.
type Poller struct {
	dial       Dialer
	ingester   Ingester
	resolver   SenderResolver
	mailbox    string
	channelKey string
	batchSize  int
	logger     *zap.Logger
}

// PollerOptions configures a Poller.
type PollerOptions struct {
	Mailbox    string
	ChannelKey string
	BatchSize  int
}

// NewPoller builds a poller. resolver may be nil.
func NewPoller(dial Dialer, ingester Ingester, resolver SenderResolver, opts PollerOptions, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 25
	}
	return &Poller{
		dial:       dial,
		ingester:   ingester,
		resolver:   resolver,
		mailbox:    opts.Mailbox,
		channelKey: opts.ChannelKey,
		batchSize:  opts.BatchSize,
		logger:     logger.With(zap.String("mailbox", opts.Mailbox)),
	}
}

// Poll ingests one batch. Messages that were ingested, found to be duplicates, or can never
// be ingested (unparseable or rejected by validation) are marked seen. Messages that failed
// for any other reason stay unseen and are retried on the next poll.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	box, err := p.dial(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := box.Close(); err != nil {
			p.logger.Debug("mailbox close failed", zap.Error(err))
		}
	}()

	raws, err := box.Unseen(ctx, p.batchSize)
	if err != nil {
		return 0, err
	}

	var done []uint32
	ingested, rejected := 0, 0
	for _, raw := range raws {
		if ctx.Err() != nil {
			break
		}
		msg, err := ParseMessage(raw.Data)
		if err != nil {
			p.logger.Warn("unparseable message discarded", zap.Uint32("imap_uid", raw.UID), zap.Error(err))
			done = append(done, raw.UID)
			rejected++
			continue
		}
		in := service.IngestInput{
			UID:        p.messageKey(msg, raw.UID),
			Sender:     msg.From,
			Subject:    msg.Subject,
			Body:       msg.Body,
			Raw:        msg.Raw,
			ChannelKey: p.channelKey,
		}
		if p.resolver != nil {
			in.CreatorID = p.resolver.ResolveSender(ctx, msg.From)
		}
		res, err := p.ingester.Ingest(ctx, in)
		if apperrors.IsValidation(err) {
			p.logger.Warn("message rejected; marked seen",
				zap.Uint32("imap_uid", raw.UID),
				zap.String("uid", in.UID),
				zap.Error(err))
			done = append(done, raw.UID)
			rejected++
			continue
		}
		if err != nil {
			p.logger.Error("ingest failed; message left unseen",
				zap.Uint32("imap_uid", raw.UID),
				zap.String("uid", in.UID),
				zap.Error(err))
			continue
		}
		done = append(done, raw.UID)
		if !res.Duplicate {
			ingested++
		}
	}

	if err := box.MarkSeen(ctx, done); err != nil {
		return ingested, fmt.Errorf("mark seen: %w", err)
	}
	if len(raws) > 0 {
		p.logger.Info("inbox polled",
			zap.Int("fetched", len(raws)),
			zap.Int("ingested", ingested),
			zap.Int("rejected", rejected),
			zap.Int("marked_seen", len(done)))
	}
	return ingested, nil
}

// messageKey prefers the Message-ID header; IMAP uids are only unique per mailbox.
// Message-IDs too long to store are replaced by their digest.
func (p *Poller) messageKey(msg Message, uid uint32) string {
	if msg.MessageID == "" {
		return fmt.Sprintf("%s:%d", p.mailbox, uid)
	}
	if utf8.RuneCountInString(msg.MessageID) > domain.MaxEmailUIDLength {
		sum := sha256.Sum256([]byte(msg.MessageID))
		return "sha256:" + hex.EncodeToString(sum[:])
	}
	return msg.MessageID
}
