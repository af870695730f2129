package bus

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrClosed is returned by Publish once the bus has been closed.
var ErrClosed = errors.New("bus: closed")

// ErrAlreadySubscribed is returned by Subscribe if a subscriber is
// already attached; the bus supports exactly one long-running
// subscriber per spec §4.1.
var ErrAlreadySubscribed = errors.New("bus: already subscribed")

// Bus is a single logical FIFO of EventEnvelopes. It guarantees
// at-least-once delivery to its one subscriber; ordering across events
// is not guaranteed to survive process restarts (the reference
// implementation is in-memory), matching spec §4.1/§5.
//
// Mirrors control_plane/scheduler/queue.go's mutex-guarded slice queue,
// generalized from a priority heap (not needed here — the bus has no
// notion of priority, only arrival order) to a plain FIFO, with a
// condition variable standing in for the scheduler's polling ticker.
type Bus struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*EventEnvelope
	pending map[string]*EventEnvelope
	closed  bool
	subbed  bool
}

// New creates an empty Bus.
func New() *Bus {
	b := &Bus{pending: make(map[string]*EventEnvelope)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Publish enqueues event and returns its envelope id. Fails only if the
// bus is closed.
func (b *Bus) Publish(event Event) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", ErrClosed
	}

	env := &EventEnvelope{ID: uuid.NewString(), Event: event, AckPending: true}
	b.queue = append(b.queue, env)
	b.cond.Signal()
	return env.ID, nil
}

// Subscribe returns a channel yielding envelopes one at a time. The
// caller must call Ack(id) after processing each envelope (even if
// processing was a no-op) — the bus tracks pending envelopes so a crash
// mid-process is visible via PendingCount for diagnostics, though redelivery
// across process restarts is not attempted by this in-memory reference.
//
// Only one subscriber is supported per Bus instance.
func (b *Bus) Subscribe() (<-chan *EventEnvelope, error) {
	b.mu.Lock()
	if b.subbed {
		b.mu.Unlock()
		return nil, ErrAlreadySubscribed
	}
	b.subbed = true
	b.mu.Unlock()

	out := make(chan *EventEnvelope)
	go b.pump(out)
	return out, nil
}

func (b *Bus) pump(out chan<- *EventEnvelope) {
	defer close(out)
	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.closed {
			b.cond.Wait()
		}
		if len(b.queue) == 0 && b.closed {
			b.mu.Unlock()
			return
		}
		env := b.queue[0]
		b.queue = b.queue[1:]
		b.pending[env.ID] = env
		b.mu.Unlock()

		out <- env
	}
}

// Ack marks an envelope as processed. Acking an unknown or already-acked
// id is a no-op — callers ack unconditionally after processing, including
// when evaluation itself failed (spec §4.2 failure handling).
func (b *Bus) Ack(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if env, ok := b.pending[id]; ok {
		env.AckPending = false
		delete(b.pending, id)
	}
}

// Close rejects further Publish calls and ends the subscriber stream.
// Envelopes still queued at close time are delivered to the subscriber
// first; the stream closes once the queue is empty.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.cond.Broadcast()
	return nil
}

// Depth returns the number of envelopes not yet delivered to the subscriber.
func (b *Bus) Depth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// PendingCount returns the number of envelopes delivered but not yet acked.
func (b *Bus) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
