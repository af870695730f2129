// Package topfunnel decides whether a new-born (Icebox) issue needs
// research, is ready for backlog decomposition, or should be left alone
// (spec §4.4).
package topfunnel

import (
	"strings"

	"github.com/agentgovernor/governor/internal/issue"
)

// Config tunes the thresholds the policy evaluates against (spec §4.4).
type Config struct {
	MinResearchedLength  int
	RequiredHeaders      []string
	ResearchRequestLabels []string
	IceboxResearchDelayMs int64
	EnableAutoResearch    bool
	EnableAutoBacklogCreation bool
}

// DefaultConfig matches spec §4.4's stated defaults.
func DefaultConfig() Config {
	return Config{
		MinResearchedLength: 200,
		RequiredHeaders: []string{
			"## Acceptance Criteria",
			"## Technical Approach",
			"## Summary",
		},
		IceboxResearchDelayMs:     3600_000,
		EnableAutoResearch:        true,
		EnableAutoBacklogCreation: true,
	}
}

// Context carries the per-issue flags the decision needs that aren't
// derivable from the Issue struct alone.
type Context struct {
	HasActiveSession         bool
	IsHeld                   bool
	IsParent                 bool
	ResearchCompleted        bool
	BacklogCreationCompleted bool
	NowMs                    int64
}

// IsWellResearched reports whether description is long enough and
// contains at least one of cfg's required headers.
func IsWellResearched(cfg Config, description string) bool {
	if len(description) < cfg.MinResearchedLength {
		return false
	}
	for _, h := range cfg.RequiredHeaders {
		if strings.Contains(description, h) {
			return true
		}
	}
	return false
}

// NeedsResearch implements spec §4.4's `needsResearch`.
func NeedsResearch(cfg Config, iss issue.Issue, isParent bool, nowMs int64) bool {
	if iss.Status != issue.StatusIcebox || isParent {
		return false
	}
	if nowMs-iss.CreatedAt < cfg.IceboxResearchDelayMs {
		return false
	}
	if !IsWellResearched(cfg, iss.Description) {
		return true
	}
	for _, label := range cfg.ResearchRequestLabels {
		if iss.HasLabel(label) {
			return true
		}
	}
	return false
}

// IsReadyForBacklogCreation implements spec §4.4's `isReadyForBacklogCreation`.
func IsReadyForBacklogCreation(cfg Config, iss issue.Issue, isParent bool) bool {
	return iss.Status == issue.StatusIcebox && !isParent && IsWellResearched(cfg, iss.Description)
}

// ActionType is the closed set of top-of-funnel decisions.
type ActionType string

const (
	ActionNone                    ActionType = "none"
	ActionTriggerResearch         ActionType = "trigger-research"
	ActionTriggerBacklogCreation  ActionType = "trigger-backlog-creation"
)

// Action is the decision plus a human-readable reason (spec §4.4 step 4;
// tests assert on reason substrings).
type Action struct {
	Type   ActionType
	Reason string
}

// Determine implements `determineTopOfFunnelAction` (spec §4.4).
func Determine(cfg Config, iss issue.Issue, isParent bool, ctx Context) Action {
	if iss.Status != issue.StatusIcebox {
		return Action{Type: ActionNone, Reason: "issue is not in Icebox"}
	}
	if ctx.HasActiveSession {
		return Action{Type: ActionNone, Reason: "issue already has an active session"}
	}
	if ctx.IsHeld {
		return Action{Type: ActionNone, Reason: "issue is held by an override"}
	}
	if isParent {
		return Action{Type: ActionNone, Reason: "issue is a parent (coordinated) issue"}
	}

	if NeedsResearch(cfg, iss, isParent, ctx.NowMs) && cfg.EnableAutoResearch && !ctx.ResearchCompleted {
		return Action{Type: ActionTriggerResearch, Reason: "description lacks sufficient detail and auto-research is enabled"}
	}
	if IsReadyForBacklogCreation(cfg, iss, isParent) && cfg.EnableAutoBacklogCreation && !ctx.BacklogCreationCompleted {
		return Action{Type: ActionTriggerBacklogCreation, Reason: "description is well-researched and auto-backlog-creation is enabled"}
	}
	return Action{Type: ActionNone, Reason: "no top-of-funnel action applies"}
}
