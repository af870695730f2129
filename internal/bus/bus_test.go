package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribeAck(t *testing.T) {
	b := New()
	stream, err := b.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	id, err := b.Publish(Event{Kind: KindPollSnapshot, IssueID: "I-1", Project: "core"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case env := <-stream:
		if env.ID != id {
			t.Fatalf("expected id %s, got %s", id, env.ID)
		}
		if env.Event.IssueID != "I-1" {
			t.Fatalf("unexpected issue id: %s", env.Event.IssueID)
		}
		b.Ack(env.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
	}

	if n := b.PendingCount(); n != 0 {
		t.Fatalf("expected 0 pending after ack, got %d", n)
	}
}

func TestSecondSubscriberRejected(t *testing.T) {
	b := New()
	if _, err := b.Subscribe(); err != nil {
		t.Fatalf("first Subscribe: %v", err)
	}
	if _, err := b.Subscribe(); err != ErrAlreadySubscribed {
		t.Fatalf("expected ErrAlreadySubscribed, got %v", err)
	}
}

func TestPublishAfterCloseFails(t *testing.T) {
	b := New()
	b.Close()
	if _, err := b.Publish(Event{Kind: KindPollSnapshot}); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestOrderingWithinSubscriber(t *testing.T) {
	b := New()
	stream, _ := b.Subscribe()

	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		id, _ := b.Publish(Event{Kind: KindPollSnapshot, IssueID: "I-x"})
		ids = append(ids, id)
	}

	for _, want := range ids {
		select {
		case env := <-stream:
			if env.ID != want {
				t.Fatalf("expected %s, got %s", want, env.ID)
			}
			b.Ack(env.ID)
		case <-time.After(time.Second):
			t.Fatal("timed out")
		}
	}
}
