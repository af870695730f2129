// Package bus implements the governor's Event Bus (spec §4.1): a single
// logical FIFO of normalized events with at-least-once delivery to
// exactly one long-running subscriber. The reference implementation is
// an in-memory queue; a production deployment can swap in Redis Streams
// behind the same Bus interface.
package bus

import (
	"time"

	"github.com/agentgovernor/governor/internal/issue"
)

// Source identifies where an event originated.
type Source string

const (
	SourceWebhook Source = "webhook"
	SourcePoll    Source = "poll"
	SourceManual  Source = "manual"
)

// Kind tags the EventEnvelope's variant (spec §4.1).
type Kind string

const (
	KindIssueStatusChanged Kind = "issue-status-changed"
	KindCommentAdded       Kind = "comment-added"
	KindSessionCompleted   Kind = "session-completed"
	KindPollSnapshot       Kind = "poll-snapshot"
)

// SessionOutcome is the outcome carried by a session-completed event.
type SessionOutcome string

const (
	OutcomeSuccess SessionOutcome = "success"
	OutcomeFailure SessionOutcome = "failure"
)

// Event is the tagged-union payload of an EventEnvelope. Exactly the
// fields relevant to Kind are populated; this mirrors the teacher's
// preference for plain structs with a discriminant over an interface
// hierarchy (control_plane/scheduler/types.go's SchedulingDecision).
type Event struct {
	Kind      Kind
	IssueID   string
	Issue     issue.Issue
	Timestamp time.Time
	Source    Source

	// IsParent reports whether the issue has children (spec §4.8
	// scanProjectIssuesWithParents). Only the poll sweep currently knows
	// this; webhook-sourced events leave it false (spec §9 open question).
	IsParent bool

	// issue-status-changed
	PreviousStatus *issue.Status // nil for webhook-sourced events (spec §9 open question)
	NewStatus      issue.Status

	// comment-added
	CommentID   string
	CommentBody string
	UserID      string
	UserName    string

	// session-completed
	SessionID string
	Outcome   SessionOutcome

	// poll-snapshot
	Project string
}

// EventEnvelope wraps an Event with a bus-assigned id and ack state.
type EventEnvelope struct {
	ID         string
	Event      Event
	AckPending bool
}
