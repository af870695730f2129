// Package issue holds the governor's view of a tracker issue and the
// pure derivation rules that turn (status, parent-ness, keyword hints)
// into a WorkType.
package issue

import "strings"

// Status is opaque text from the tracker's own workflow. The governor
// only special-cases the values named in STATUS_VALID_WORK_TYPES (see
// ValidWorkTypesFor) and the terminal set below; anything else is
// treated as active-but-unrecognized and dropped upstream by the
// evaluator.
type Status string

const (
	StatusIcebox    Status = "Icebox"
	StatusBacklog   Status = "Backlog"
	StatusStarted   Status = "Started"
	StatusFinished  Status = "Finished"
	StatusDelivered Status = "Delivered"
	StatusAccepted  Status = "Accepted"
	StatusRejected  Status = "Rejected"
	StatusCanceled  Status = "Canceled"
	StatusDuplicate Status = "Duplicate"
)

// IsTerminal reports whether no further governor action is appropriate
// for an issue in this status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusAccepted, StatusCanceled, StatusDuplicate:
		return true
	default:
		return false
	}
}

// Issue is the governor's normalized view of a tracker issue (spec §3.1).
type Issue struct {
	ID          string
	Identifier  string
	Title       string
	Description string
	Status      Status
	Labels      []string
	CreatedAt   int64 // ms epoch
	ParentID    string
	ProjectName string
}

// HasLabel reports whether the issue carries label (case-insensitive).
//
// Whether an issue has children (coordinated work) is not part of the
// Issue struct: the governor learns it from the platform adapter scan
// (ScanProjectIssuesWithParents) and callers thread it through
// separately as a bool; Issue.ParentID (when set) identifies this
// issue's own parent, a different relationship.
func (i Issue) HasLabel(label string) bool {
	for _, l := range i.Labels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}

// WorkType is the semantic role of an agent run on an issue (GLOSSARY).
type WorkType string

const (
	WorkResearch               WorkType = "research"
	WorkBacklogCreation        WorkType = "backlog-creation"
	WorkDevelopment            WorkType = "development"
	WorkInflight               WorkType = "inflight"
	WorkQA                     WorkType = "qa"
	WorkAcceptance             WorkType = "acceptance"
	WorkRefinement             WorkType = "refinement"
	WorkCoordination           WorkType = "coordination"
	WorkQACoordination         WorkType = "qa-coordination"
	WorkAcceptanceCoordination WorkType = "acceptance-coordination"
)

// baseWorkTypeByStatus is the non-parent column of the §4.2 table.
var baseWorkTypeByStatus = map[Status]WorkType{
	StatusBacklog:   WorkDevelopment,
	StatusStarted:   WorkInflight,
	StatusFinished:  WorkQA,
	StatusDelivered: WorkAcceptance,
	StatusRejected:  WorkRefinement,
}

// parentWorkTypeByStatus is the "if parent" column of the §4.2 table.
var parentWorkTypeByStatus = map[Status]WorkType{
	StatusBacklog:   WorkCoordination,
	StatusStarted:   WorkInflight, // no distinct coordination variant
	StatusFinished:  WorkQACoordination,
	StatusDelivered: WorkAcceptanceCoordination,
	StatusRejected:  WorkRefinement, // no distinct coordination variant
}

// DeriveWorkType implements the total function (status, isParent, promptHint) -> WorkType
// from spec §3.1 / §4.2. promptHint is a work-type keyword (e.g. "qa",
// "refinement"; the evaluator takes it from the issue's labels); it is honored only if it names a
// work type in STATUS_VALID_WORK_TYPES for the current status, otherwise it
// is ignored and the base/parent derivation stands.
func DeriveWorkType(status Status, isParent bool, promptHint WorkType) (WorkType, bool) {
	table := baseWorkTypeByStatus
	if isParent {
		table = parentWorkTypeByStatus
	}
	base, ok := table[status]
	if !ok {
		return "", false
	}
	if promptHint == "" {
		return base, true
	}
	if ValidWorkTypesFor(status)[promptHint] {
		return promptHint, true
	}
	return base, true
}

// ValidWorkTypesFor is STATUS_VALID_WORK_TYPES (spec §6.4), the allowed
// set of work types for a given status, used both for keyword-refinement
// validation and for the evaluator's allowed-status check.
func ValidWorkTypesFor(status Status) map[WorkType]bool {
	switch status {
	case StatusIcebox:
		return map[WorkType]bool{WorkResearch: true, WorkBacklogCreation: true}
	case StatusBacklog:
		return map[WorkType]bool{WorkDevelopment: true, WorkCoordination: true}
	case StatusStarted:
		return map[WorkType]bool{WorkInflight: true}
	case StatusFinished:
		return map[WorkType]bool{WorkQA: true, WorkQACoordination: true}
	case StatusDelivered:
		return map[WorkType]bool{WorkAcceptance: true, WorkAcceptanceCoordination: true}
	case StatusRejected:
		return map[WorkType]bool{WorkRefinement: true}
	default:
		return nil
	}
}

// CompletionStatus is the "completion-status transitions on success" table
// (spec §6.4): the tracker status the governor moves an issue to after a
// session of this work type completes successfully.
func CompletionStatus(wt WorkType) (Status, bool) {
	switch wt {
	case WorkDevelopment:
		return StatusFinished, true
	case WorkInflight:
		return StatusFinished, true
	case WorkQA:
		return StatusDelivered, true
	case WorkAcceptance:
		return StatusAccepted, true
	case WorkRefinement:
		return StatusBacklog, true
	case WorkCoordination:
		return StatusFinished, true
	case WorkQACoordination:
		return StatusDelivered, true
	case WorkAcceptanceCoordination:
		return StatusAccepted, true
	default:
		return "", false
	}
}

// FailureStatus is the "on failure" row of the same table: qa/acceptance/
// qa-coordination/acceptance-coordination revert to Rejected on failure.
// Other work types have no defined failure transition (status is left alone).
func FailureStatus(wt WorkType) (Status, bool) {
	switch wt {
	case WorkQA, WorkAcceptance, WorkQACoordination, WorkAcceptanceCoordination:
		return StatusRejected, true
	default:
		return "", false
	}
}
