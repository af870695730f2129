// Package governor owns the top-level event loop: the single long-running
// Event Bus subscriber (spec §4.1, §5) that hands each envelope to the
// evaluator and acks it regardless of outcome, alongside the poll sweep
// and stale-claim reaper background loops.
package governor

import (
	"context"
	"log"

	"github.com/agentgovernor/governor/internal/bus"
	"github.com/agentgovernor/governor/internal/evaluator"
	"github.com/agentgovernor/governor/internal/reaper"
	"github.com/agentgovernor/governor/internal/sweep"
)

// Governor wires the event loop to its background workers.
type Governor struct {
	bus       *bus.Bus
	evaluator *evaluator.Evaluator
	sweeper   *sweep.Sweeper
	reaper    *reaper.Reaper

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Governor. sweeper/reaper may be nil to run without them
// (e.g. in tests that only care about the evaluation loop).
func New(b *bus.Bus, ev *evaluator.Evaluator, sw *sweep.Sweeper, rp *reaper.Reaper) *Governor {
	return &Governor{bus: b, evaluator: ev, sweeper: sw, reaper: rp}
}

// Run subscribes to the bus and processes envelopes sequentially until
// ctx is canceled or the bus is closed. It blocks; callers typically run
// it in its own goroutine.
func (g *Governor) Run(ctx context.Context) error {
	stream, err := g.bus.Subscribe()
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.done = make(chan struct{})
	defer close(g.done)

	if g.sweeper != nil {
		go g.sweeper.Run(runCtx)
	}
	if g.reaper != nil {
		go g.reaper.Run(runCtx)
	}

	log.Println("governor: event loop started")
	for {
		select {
		case <-runCtx.Done():
			return nil
		case env, ok := <-stream:
			if !ok {
				return nil
			}
			g.evaluator.Evaluate(runCtx, env.Event)
			g.bus.Ack(env.ID)
		}
	}
}

// Stop cancels the background workers and closes the bus, unblocking Run.
func (g *Governor) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	if err := g.bus.Close(); err != nil {
		log.Printf("governor: bus close failed: %v", err)
	}
	if g.done != nil {
		<-g.done
	}
}
