package store

import "github.com/agentgovernor/governor/internal/issue"

// SessionStatus is the position of a SessionRecord in the lattice
// pending -> claimed -> running -> finalizing -> {completed|failed|stopped}
// (spec §3.1, invariant P2).
type SessionStatus string

const (
	SessionPending    SessionStatus = "pending"
	SessionClaimed    SessionStatus = "claimed"
	SessionRunning    SessionStatus = "running"
	SessionFinalizing SessionStatus = "finalizing"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
	SessionStopped    SessionStatus = "stopped"
)

// IsTerminal reports whether status is absorbing.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionCompleted, SessionFailed, SessionStopped:
		return true
	default:
		return false
	}
}

// nextAllowed is the strict forward lattice; transitioning to any status
// not listed for the current one is rejected (spec §4.5, invariant P2).
var nextAllowed = map[SessionStatus]map[SessionStatus]bool{
	SessionPending:    {SessionClaimed: true, SessionStopped: true},
	SessionClaimed:    {SessionRunning: true, SessionFailed: true, SessionStopped: true},
	SessionRunning:    {SessionFinalizing: true, SessionCompleted: true, SessionFailed: true, SessionStopped: true},
	SessionFinalizing: {SessionCompleted: true, SessionFailed: true, SessionStopped: true},
}

// CanTransition reports whether a session may move from `from` to `to`.
func CanTransition(from, to SessionStatus) bool {
	if from.IsTerminal() {
		return false
	}
	return nextAllowed[from][to]
}

// SessionRecord is the governor's record of one agent run (spec §3.1).
type SessionRecord struct {
	SessionID          string `json:"session_id"`
	IssueID            string `json:"issue_id"`
	IssueIdentifier    string `json:"issue_identifier"`
	WorkerID           string `json:"worker_id,omitempty"`
	WorkType           issue.WorkType `json:"work_type"`
	Status             SessionStatus  `json:"status"`
	CreatedAt          int64          `json:"created_at"`
	UpdatedAt          int64          `json:"updated_at"`
	QueuedAt           int64          `json:"queued_at,omitempty"`
	ClaimedAt          int64          `json:"claimed_at,omitempty"`
	WorktreePath       string         `json:"worktree_path,omitempty"`
	ProviderSessionID  string         `json:"provider_session_id,omitempty"`
	OrganizationID     string         `json:"organization_id,omitempty"`
	Priority           int            `json:"priority"`
	PromptContext      string         `json:"prompt_context,omitempty"`
	TotalCostUSD       float64        `json:"total_cost_usd,omitempty"`
	InputTokens        int64          `json:"input_tokens,omitempty"`
	OutputTokens       int64          `json:"output_tokens,omitempty"`
	ProjectName        string         `json:"project_name,omitempty"`
	LastError          string         `json:"error,omitempty"`
}

// IsSynthetic reports whether this session id was minted locally by the
// governor rather than assigned by the tracker (GLOSSARY: "Synthetic
// session"); worker operations on synthetic sessions are acked locally
// and never forwarded upstream.
func (s *SessionRecord) IsSynthetic() bool {
	return IsSyntheticSessionID(s.SessionID)
}

// IsSyntheticSessionID reports whether id carries the governor-minted prefix.
func IsSyntheticSessionID(id string) bool {
	return len(id) >= len(SyntheticSessionPrefix) && id[:len(SyntheticSessionPrefix)] == SyntheticSessionPrefix
}

// SyntheticSessionPrefix marks a governor-synthesized session id (GLOSSARY).
const SyntheticSessionPrefix = "governor-"

// QueuedWork is one entry in the global priority queue (spec §3.1).
type QueuedWork struct {
	SessionID         string         `json:"session_id"`
	IssueID           string         `json:"issue_id"`
	IssueIdentifier   string         `json:"issue_identifier"`
	Priority          int            `json:"priority"` // lower = earlier
	QueuedAt          int64          `json:"queued_at"`
	Prompt            string         `json:"prompt"`
	ProviderSessionID string         `json:"provider_session_id,omitempty"`
	WorkType          issue.WorkType `json:"work_type"`
	ProjectName       string         `json:"project_name,omitempty"`
}

// IssueLock is a keyed lease on an issue (spec §3.1, invariant P1).
type IssueLock struct {
	IssueID    string         `json:"issue_id"`
	SessionID  string         `json:"session_id"`
	WorkType   issue.WorkType `json:"work_type"`
	AcquiredAt int64          `json:"acquired_at"`
	TTLMs      int64          `json:"ttl_ms"`
}

// OverrideDirective is the closed set of recognized comment directives (spec §4.3).
type OverrideDirective string

const (
	DirectiveHold      OverrideDirective = "hold"
	DirectiveResume    OverrideDirective = "resume"
	DirectiveSkipQA    OverrideDirective = "skip-qa"
	DirectiveDecompose OverrideDirective = "decompose"
	DirectiveReassign  OverrideDirective = "reassign"
	DirectivePriority  OverrideDirective = "priority"
)

// OverridePriority is the closed set of values accepted by the `priority` directive.
type OverridePriority string

const (
	PriorityHigh   OverridePriority = "high"
	PriorityMedium OverridePriority = "medium"
	PriorityLow    OverridePriority = "low"
)

// OverrideRecord is the parsed, persisted effect of the latest directive
// comment on an issue (spec §3.1, §4.3).
type OverrideRecord struct {
	IssueID   string            `json:"issue_id"`
	Directive OverrideDirective `json:"directive"`
	CommentID string            `json:"comment_id"`
	UserID    string            `json:"user_id"`
	Timestamp int64             `json:"timestamp"`
	Reason    string            `json:"reason,omitempty"`
	Priority  OverridePriority  `json:"priority,omitempty"`
}

// ProcessingPhase marks a top-of-funnel stage (spec §3.1).
type ProcessingPhase string

const (
	PhaseResearch        ProcessingPhase = "research"
	PhaseBacklogCreation ProcessingPhase = "backlog-creation"
)

// ProcessingPhaseRecord marks a phase as completed for an issue.
type ProcessingPhaseRecord struct {
	IssueID     string          `json:"issue_id"`
	Phase       ProcessingPhase `json:"phase"`
	CompletedAt int64           `json:"completed_at"`
	SessionID   string          `json:"session_id,omitempty"`
}

// PendingPrompt is additional user input queued for injection into a
// running session (spec §3.1, §4.9).
type PendingPrompt struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	IssueID   string `json:"issue_id"`
	Prompt    string `json:"prompt"`
	User      string `json:"user,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// WorkerRecord is what the governor knows about a registered worker.
type WorkerRecord struct {
	WorkerID     string   `json:"worker_id"`
	Hostname     string   `json:"hostname"`
	Capacity     int      `json:"capacity"`
	Version      string   `json:"version,omitempty"`
	Projects     []string `json:"projects,omitempty"`
	RegisteredAt int64    `json:"registered_at"`
	LastSeenAt   int64    `json:"last_seen_at"`
	ActiveCount  int      `json:"active_count"`
	Load         float64  `json:"load,omitempty"`
}
