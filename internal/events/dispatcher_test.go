package events

import (
	"context"
	"errors"
	"testing"
)

func TestPublishInvokesAllHandlers(t *testing.T) {
	d := NewInMemoryDispatcher(nil)
	var calls []string
	d.Subscribe(EventTicketCreated, func(ctx context.Context, e Event) error {
		calls = append(calls, "first")
		return errors.New("boom")
	})
	d.Subscribe(EventTicketCreated, func(ctx context.Context, e Event) error {
		calls = append(calls, "second:"+e.TicketID)
		return nil
	})
	d.Subscribe(EventTicketSynced, func(ctx context.Context, e Event) error {
		calls = append(calls, "unexpected")
		return nil
	})

	if err := d.Publish(context.Background(), Event{Type: EventTicketCreated, TicketID: "t1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second:t1" {
		t.Fatalf("unexpected calls %v", calls)
	}
}
