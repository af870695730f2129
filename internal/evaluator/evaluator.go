// Package evaluator implements the Issue Evaluator (spec §4.2, component
// B): the per-event pipeline that turns a bus event into at most one
// dispatched (or parked) unit of work, consulting the override engine,
// the top-of-funnel policy, and the work-type derivation tables along
// the way.
package evaluator

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentgovernor/governor/internal/bus"
	"github.com/agentgovernor/governor/internal/dedup"
	"github.com/agentgovernor/governor/internal/dispatch"
	"github.com/agentgovernor/governor/internal/issue"
	"github.com/agentgovernor/governor/internal/override"
	"github.com/agentgovernor/governor/internal/store"
	"github.com/agentgovernor/governor/internal/topfunnel"
)

// Config is the evaluator's closed set of tunables (spec §6.1).
type Config struct {
	WorkTypePriority map[issue.WorkType]int
	CooldownMs       int64
	TopOfFunnel      topfunnel.Config
	DedupWindow      time.Duration
}

// DefaultConfig returns reasonable defaults; lower priority values are
// dispatched earlier (spec §3.1 "priority asc").
func DefaultConfig() Config {
	return Config{
		WorkTypePriority: map[issue.WorkType]int{
			issue.WorkInflight:               0,
			issue.WorkQA:                     10,
			issue.WorkAcceptance:              10,
			issue.WorkQACoordination:          10,
			issue.WorkAcceptanceCoordination:  10,
			issue.WorkRefinement:              20,
			issue.WorkDevelopment:             30,
			issue.WorkCoordination:            30,
			issue.WorkBacklogCreation:         40,
			issue.WorkResearch:                50,
		},
		CooldownMs:  5 * time.Minute.Milliseconds(),
		TopOfFunnel: topfunnel.DefaultConfig(),
		DedupWindow: dedup.DefaultWindow,
	}
}

// priorityByOverride maps the PRIORITY override directive's closed value
// set onto the same int scale as cfg.WorkTypePriority (lower = earlier).
var priorityByOverride = map[store.OverridePriority]int{
	store.PriorityHigh:   0,
	store.PriorityMedium: 15,
	store.PriorityLow:    30,
}

// Evaluator consumes one bus.Event at a time and drives it through to a
// dispatch decision or a logged drop.
type Evaluator struct {
	store      store.Store
	dispatcher *dispatch.Dispatcher
	overrides  *override.Parser
	dedup      *dedup.Deduplicator
	cfg        Config
}

// New builds an Evaluator.
func New(s store.Store, d *dispatch.Dispatcher, cfg Config) *Evaluator {
	return &Evaluator{
		store:      s,
		dispatcher: d,
		overrides:  override.New(),
		dedup:      dedup.New(s, cfg.DedupWindow),
		cfg:        cfg,
	}
}

// Evaluate runs the full §4.2 pipeline for one event. Failures are
// logged with the issue id and swallowed: the event is not re-queued,
// and the caller should ack it and move on to the next one regardless.
func (e *Evaluator) Evaluate(ctx context.Context, ev bus.Event) {
	if err := e.evaluate(ctx, ev); err != nil {
		log.Printf("evaluator: dropping event issueId=%s kind=%s: %v", ev.IssueID, ev.Kind, err)
	}
}

func (e *Evaluator) evaluate(ctx context.Context, ev bus.Event) error {
	dup, err := e.dedup.IsDuplicate(ctx, dedupKey(ev))
	if err != nil {
		return err
	}
	if dup {
		return nil
	}

	if ev.Kind == bus.KindCommentAdded {
		e.recordOverrideIfRecognized(ctx, ev)
	}

	ov, err := e.store.GetOverride(ctx, ev.IssueID)
	if err != nil && err != store.ErrNotFound {
		return err
	}
	if ov != nil && ov.Directive == store.DirectiveHold {
		log.Printf("evaluator: issueId=%s held since %d, dropping", ev.IssueID, ov.Timestamp)
		return nil
	}

	if ev.Issue.Status.IsTerminal() {
		return nil
	}

	hasActiveSession, err := e.hasActiveSession(ctx, ev.IssueID)
	if err != nil {
		return err
	}
	isWithinCooldown, err := e.isWithinCooldown(ctx, ev.IssueID)
	if err != nil {
		return err
	}
	researchCompleted, err := e.store.IsPhaseComplete(ctx, ev.IssueID, store.PhaseResearch)
	if err != nil {
		return err
	}
	backlogCreationCompleted, err := e.store.IsPhaseComplete(ctx, ev.IssueID, store.PhaseBacklogCreation)
	if err != nil {
		return err
	}
	isHeld := ov != nil && ov.Directive == store.DirectiveHold

	var workType issue.WorkType
	if ev.Issue.Status == issue.StatusIcebox {
		action := topfunnel.Determine(e.cfg.TopOfFunnel, ev.Issue, ev.IsParent, topfunnel.Context{
			HasActiveSession:         hasActiveSession,
			IsHeld:                   isHeld,
			IsParent:                 ev.IsParent,
			ResearchCompleted:        researchCompleted,
			BacklogCreationCompleted: backlogCreationCompleted,
			NowMs:                    nowMs(),
		})
		switch action.Type {
		case topfunnel.ActionTriggerResearch:
			workType = issue.WorkResearch
		case topfunnel.ActionTriggerBacklogCreation:
			workType = issue.WorkBacklogCreation
		default:
			log.Printf("evaluator: issueId=%s top-of-funnel action=none reason=%q", ev.IssueID, action.Reason)
			return nil
		}
	} else {
		hint := keywordHint(ev.Issue.Labels)
		wt, ok := issue.DeriveWorkType(ev.Issue.Status, ev.IsParent, hint)
		if !ok {
			log.Printf("evaluator: issueId=%s status=%s has no work-type mapping, dropping", ev.IssueID, ev.Issue.Status)
			return nil
		}
		workType = wt

		if hasActiveSession || isWithinCooldown {
			return nil
		}
	}

	if override.SuppressesDispatch(ov, string(workType)) {
		log.Printf("evaluator: issueId=%s workType=%s suppressed by override directive=%s", ev.IssueID, workType, ov.Directive)
		return nil
	}

	priority := e.cfg.WorkTypePriority[workType]
	if ov != nil && ov.Directive == store.DirectivePriority {
		if p, ok := priorityByOverride[ov.Priority]; ok {
			priority = p
		}
	}

	work := &store.QueuedWork{
		SessionID:       store.SyntheticSessionPrefix + uuid.NewString(),
		IssueID:         ev.IssueID,
		IssueIdentifier: ev.Issue.Identifier,
		Priority:        priority,
		QueuedAt:        nowMs(),
		WorkType:        workType,
		ProjectName:     ev.Issue.ProjectName,
	}

	_, err = e.dispatcher.Dispatch(ctx, work)
	return err
}

func (e *Evaluator) hasActiveSession(ctx context.Context, issueID string) (bool, error) {
	_, err := e.store.GetIssueLock(ctx, issueID)
	if err == store.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (e *Evaluator) isWithinCooldown(ctx context.Context, issueID string) (bool, error) {
	last, ok, err := e.store.GetLastIssueActivity(ctx, issueID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return nowMs()-last < e.cfg.CooldownMs, nil
}

// recordOverrideIfRecognized parses a comment-added event's body and, if
// it encodes a recognized directive newer than the one on file,
// persists it (spec §4.3's findLatestOverride applied incrementally,
// one comment at a time, rather than re-scanning full history per event).
func (e *Evaluator) recordOverrideIfRecognized(ctx context.Context, ev bus.Event) {
	rec := e.overrides.Parse(ev.IssueID, override.Comment{
		ID:        ev.CommentID,
		Body:      ev.CommentBody,
		UserID:    ev.UserID,
		UserName:  ev.UserName,
		IsBot:     isBotUser(ev.UserName),
		CreatedAt: ev.Timestamp.UnixMilli(),
	})
	if rec == nil {
		return
	}

	cur, err := e.store.GetOverride(ctx, ev.IssueID)
	if err != nil && err != store.ErrNotFound {
		log.Printf("evaluator: GetOverride failed issueId=%s: %v", ev.IssueID, err)
		return
	}
	if cur != nil && cur.Timestamp > rec.Timestamp {
		return
	}
	if err := e.store.PutOverride(ctx, rec); err != nil {
		log.Printf("evaluator: PutOverride failed issueId=%s: %v", ev.IssueID, err)
	}
}

// isBotUser applies the tracker-agnostic bot-account convention (GitHub's
// "<name>[bot]" suffix). It is the only bot check applied to comment
// events: bus.Event carries no separate bot flag.
func isBotUser(userName string) bool {
	return strings.HasSuffix(strings.ToLower(userName), "[bot]")
}

// keywordHint looks for a label that names one of the known work types,
// honored by issue.DeriveWorkType only if it is valid for the issue's
// current status (spec §4.2 step 6).
func keywordHint(labels []string) issue.WorkType {
	candidates := []issue.WorkType{
		issue.WorkResearch, issue.WorkBacklogCreation, issue.WorkDevelopment,
		issue.WorkInflight, issue.WorkQA, issue.WorkAcceptance, issue.WorkRefinement,
		issue.WorkCoordination, issue.WorkQACoordination, issue.WorkAcceptanceCoordination,
	}
	for _, l := range labels {
		for _, wt := range candidates {
			if strings.EqualFold(l, string(wt)) {
				return wt
			}
		}
	}
	return ""
}

func dedupKey(ev bus.Event) string {
	switch ev.Kind {
	case bus.KindCommentAdded:
		return dedup.CommentKey(ev.IssueID, ev.CommentID)
	case bus.KindSessionCompleted:
		return dedup.SessionEventKey(ev.SessionID, string(ev.Kind), ev.Timestamp.UnixMilli())
	default: // issue-status-changed, poll-snapshot
		return dedup.StatusKey(ev.IssueID, string(ev.Issue.Status))
	}
}

func nowMs() int64 { return time.Now().UnixMilli() }
