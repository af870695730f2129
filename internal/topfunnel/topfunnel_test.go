package topfunnel

import (
	"strings"
	"testing"

	"github.com/agentgovernor/governor/internal/issue"
)

func wellResearchedBody() string {
	return strings.Repeat("x", 250) + "\n## Acceptance Criteria\n- must work"
}

func TestIsWellResearchedRequiresLengthAndHeader(t *testing.T) {
	cfg := DefaultConfig()
	if IsWellResearched(cfg, "short") {
		t.Fatal("expected short description to fail")
	}
	if IsWellResearched(cfg, strings.Repeat("x", 300)) {
		t.Fatal("expected long description without a header to fail")
	}
	if !IsWellResearched(cfg, wellResearchedBody()) {
		t.Fatal("expected long description with a required header to pass")
	}
}

func TestNeedsResearchRespectsIceboxDelay(t *testing.T) {
	cfg := DefaultConfig()
	iss := issue.Issue{Status: issue.StatusIcebox, Description: "short", CreatedAt: 1000}
	if NeedsResearch(cfg, iss, false, 1000+cfg.IceboxResearchDelayMs-1) {
		t.Fatal("expected too-young issue to not need research yet")
	}
	if !NeedsResearch(cfg, iss, false, 1000+cfg.IceboxResearchDelayMs+1) {
		t.Fatal("expected aged, underspecified issue to need research")
	}
}

func TestNeedsResearchFalseForParentOrNonIcebox(t *testing.T) {
	cfg := DefaultConfig()
	iss := issue.Issue{Status: issue.StatusIcebox, Description: "short", CreatedAt: 0}
	if NeedsResearch(cfg, iss, true, cfg.IceboxResearchDelayMs+1) {
		t.Fatal("expected parent issue to never need research")
	}
	started := issue.Issue{Status: issue.StatusStarted, Description: "short", CreatedAt: 0}
	if NeedsResearch(cfg, started, false, cfg.IceboxResearchDelayMs+1) {
		t.Fatal("expected non-Icebox issue to never need research")
	}
}

func TestNeedsResearchTrueForLabelEvenIfWellResearched(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ResearchRequestLabels = []string{"needs-research"}
	iss := issue.Issue{
		Status:      issue.StatusIcebox,
		Description: wellResearchedBody(),
		CreatedAt:   0,
		Labels:      []string{"needs-research"},
	}
	if !NeedsResearch(cfg, iss, false, cfg.IceboxResearchDelayMs+1) {
		t.Fatal("expected research-request label to force research even when well-researched")
	}
}

func TestIsReadyForBacklogCreation(t *testing.T) {
	cfg := DefaultConfig()
	iss := issue.Issue{Status: issue.StatusIcebox, Description: wellResearchedBody()}
	if !IsReadyForBacklogCreation(cfg, iss, false) {
		t.Fatal("expected well-researched non-parent Icebox issue to be ready")
	}
	if IsReadyForBacklogCreation(cfg, iss, true) {
		t.Fatal("expected parent issue to never be ready for backlog creation")
	}
}

func TestDetermineTriggersResearchThenBacklog(t *testing.T) {
	cfg := DefaultConfig()
	underspecified := issue.Issue{Status: issue.StatusIcebox, Description: "short", CreatedAt: 0}
	action := Determine(cfg, underspecified, false, Context{NowMs: cfg.IceboxResearchDelayMs + 1})
	if action.Type != ActionTriggerResearch {
		t.Fatalf("expected trigger-research, got %+v", action)
	}

	researched := issue.Issue{Status: issue.StatusIcebox, Description: wellResearchedBody(), CreatedAt: 0}
	action = Determine(cfg, researched, false, Context{NowMs: cfg.IceboxResearchDelayMs + 1})
	if action.Type != ActionTriggerBacklogCreation {
		t.Fatalf("expected trigger-backlog-creation, got %+v", action)
	}
}

func TestDetermineNoneCases(t *testing.T) {
	cfg := DefaultConfig()
	iss := issue.Issue{Status: issue.StatusIcebox, Description: "short", CreatedAt: 0}

	if a := Determine(cfg, iss, false, Context{HasActiveSession: true}); a.Type != ActionNone {
		t.Fatalf("expected none for active session, got %+v", a)
	}
	if a := Determine(cfg, iss, false, Context{IsHeld: true}); a.Type != ActionNone {
		t.Fatalf("expected none when held, got %+v", a)
	}
	if a := Determine(cfg, iss, true, Context{}); a.Type != ActionNone {
		t.Fatalf("expected none for parent issue, got %+v", a)
	}

	started := issue.Issue{Status: issue.StatusStarted}
	if a := Determine(cfg, started, false, Context{}); a.Type != ActionNone {
		t.Fatalf("expected none for non-Icebox issue, got %+v", a)
	}
}

func TestDetermineRespectsFeatureFlags(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableAutoResearch = false
	underspecified := issue.Issue{Status: issue.StatusIcebox, Description: "short", CreatedAt: 0}
	action := Determine(cfg, underspecified, false, Context{NowMs: cfg.IceboxResearchDelayMs + 1})
	if action.Type != ActionNone {
		t.Fatalf("expected research disabled by flag to yield none, got %+v", action)
	}
}

func TestDetermineRespectsCompletedPhases(t *testing.T) {
	cfg := DefaultConfig()
	researched := issue.Issue{Status: issue.StatusIcebox, Description: wellResearchedBody(), CreatedAt: 0}
	action := Determine(cfg, researched, false, Context{BacklogCreationCompleted: true})
	if action.Type != ActionNone {
		t.Fatalf("expected already-completed backlog creation to yield none, got %+v", action)
	}
}
