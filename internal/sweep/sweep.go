// Package sweep implements the poll sweep (spec §4.10): a periodic
// timer that, for each configured project, scans all non-terminal
// issues and re-injects a synthetic poll-snapshot event per issue,
// closing any gap left by a missed webhook. Exactly one governor
// instance runs the sweep at a time, elected via a store-backed lease,
// adapted from control_plane/coordination/leader.go's acquire/renew/
// release loop.
package sweep

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/agentgovernor/governor/internal/bus"
	"github.com/agentgovernor/governor/internal/platform"
	"github.com/agentgovernor/governor/internal/store"
	"github.com/agentgovernor/governor/internal/telemetry"
)

// DefaultInterval is the poll-sweep tick period when none is configured.
const DefaultInterval = 5 * time.Minute

// LeaseTTL is how long a sweep-owner lease lasts between renewals.
const LeaseTTL = 30 * time.Second

// Sweeper owns the sweep-owner lease and the periodic scan/publish loop
// described in spec §4.10.
type Sweeper struct {
	store    store.Store
	bus      *bus.Bus
	adapter  platform.Adapter
	ownerID  string
	interval time.Duration
	projects []string

	epoch int64
}

// New builds a Sweeper over the given projects. A zero interval defaults
// to DefaultInterval.
func New(s store.Store, b *bus.Bus, adapter platform.Adapter, projects []string, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{
		store:    s,
		bus:      b,
		adapter:  adapter,
		ownerID:  "governor-" + uuid.NewString(),
		interval: interval,
		projects: projects,
	}
}

// Run drives the lease-renewal and sweep-tick loop until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	renewTicker := time.NewTicker(LeaseTTL / 3)
	defer renewTicker.Stop()

	sweepTicker := time.NewTicker(s.interval)
	defer sweepTicker.Stop()

	s.renewOrAcquire(ctx)

	for {
		select {
		case <-ctx.Done():
			if s.isOwner() {
				if err := s.store.ReleaseSweepLease(context.Background(), s.ownerID, s.epoch); err != nil {
					log.Printf("sweep: release lease failed: %v", err)
				}
			}
			return
		case <-renewTicker.C:
			s.renewOrAcquire(ctx)
		case <-sweepTicker.C:
			if s.isOwner() {
				s.tick(ctx)
			}
		}
	}
}

func (s *Sweeper) isOwner() bool { return s.epoch != 0 }

func (s *Sweeper) renewOrAcquire(ctx context.Context) {
	if s.isOwner() {
		ok, err := s.store.RenewSweepLease(ctx, s.ownerID, s.epoch, LeaseTTL.Milliseconds())
		if err != nil {
			log.Printf("sweep: renew lease failed: %v", err)
			return
		}
		if !ok {
			log.Printf("sweep: lost sweep lease, stepping down")
			s.epoch = 0
			telemetry.SweepOwner.Set(0)
		}
		return
	}

	ok, epoch, err := s.store.AcquireSweepLease(ctx, s.ownerID, LeaseTTL.Milliseconds())
	if err != nil {
		log.Printf("sweep: acquire lease failed: %v", err)
		return
	}
	if ok {
		s.epoch = epoch
		telemetry.SweepOwner.Set(1)
		log.Printf("sweep: acquired sweep lease, owner=%s epoch=%d", s.ownerID, epoch)
	}
}

// tick implements spec §4.10's per-tick behavior: for each configured
// project, scan its issues and publish one poll-snapshot event per
// issue. A scan failure for one project is logged and does not affect
// the others.
func (s *Sweeper) tick(ctx context.Context) {
	for _, project := range s.projects {
		scan, err := s.adapter.ScanProjectIssuesWithParents(ctx, project)
		if err != nil {
			log.Printf("sweep: scan failed for project=%s: %v", project, err)
			continue
		}
		s.publishSnapshot(project, scan)
	}
}

func (s *Sweeper) publishSnapshot(project string, scan platform.ProjectScan) {
	for _, iss := range scan.Issues {
		ev := bus.Event{
			Kind:      bus.KindPollSnapshot,
			IssueID:   iss.ID,
			Issue:     iss,
			Timestamp: time.Now(),
			Source:    bus.SourcePoll,
			Project:   project,
			IsParent:  scan.ParentIDs[iss.ID],
		}
		if _, err := s.bus.Publish(ev); err != nil {
			log.Printf("sweep: publish failed for issue=%s: %v", iss.ID, err)
		}
	}
}
