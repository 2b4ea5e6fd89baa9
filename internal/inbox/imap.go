package inbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/opsdesk/ticket-sync/internal/config"
)

// Mailbox is a selected mail folder.
type Mailbox interface {
	// Unseen returns up to limit messages without the \Seen flag. Messages are not marked.
	Unseen(ctx context.Context, limit int) ([]RawMessage, error)
	MarkSeen(ctx context.Context, uids []uint32) error
	Close() error
}

// Dialer opens a Mailbox for one poll.
type Dialer func(ctx context.Context) (Mailbox, error)

// RawMessage is an unparsed message and its IMAP uid.
type RawMessage struct {
	UID  uint32
	Data []byte
}

type imapMailbox struct {
	c *client.Client
}

// IMAPDialer logs in over TLS and selects the configured mailbox read-write.
func IMAPDialer(cfg config.InboxConfig) Dialer {
	return func(ctx context.Context) (Mailbox, error) {
		c, err := client.DialTLS(cfg.Addr, &tls.Config{MinVersion: tls.VersionTLS12})
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", cfg.Addr, err)
		}
		if deadline, ok := ctx.Deadline(); ok {
			c.Timeout = timeUntil(deadline)
		}
		if err := c.Login(cfg.Username, cfg.Password); err != nil {
			_ = c.Logout()
			return nil, fmt.Errorf("login: %w", err)
		}
		if _, err := c.Select(cfg.Mailbox, false); err != nil {
			_ = c.Logout()
			return nil, fmt.Errorf("select %s: %w", cfg.Mailbox, err)
		}
		return &imapMailbox{c: c}, nil
	}
}

func (m *imapMailbox) Unseen(ctx context.Context, limit int) ([]RawMessage, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := m.c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("search unseen: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}
	if limit > 0 && len(uids) > limit {
		uids = uids[:limit]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	// Peek keeps the server from setting \Seen on fetch.
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- m.c.UidFetch(seqset, items, messages)
	}()

	out := make([]RawMessage, 0, len(uids))
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("read message %d: %w", msg.Uid, err)
		}
		out = append(out, RawMessage{UID: msg.Uid, Data: data})
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *imapMailbox) MarkSeen(ctx context.Context, uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	op := imap.FormatFlagsOp(imap.AddFlags, true)
	return m.c.UidStore(seqset, op, []interface{}{imap.SeenFlag}, nil)
}

func (m *imapMailbox) Close() error {
	return m.c.Logout()
}

// timeUntil bounds IMAP commands by the poll deadline, with a floor of one second.
func timeUntil(deadline time.Time) time.Duration {
	d := time.Until(deadline)
	if d < time.Second {
		return time.Second
	}
	return d
}
