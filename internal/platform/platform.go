// Package platform defines the contract external issue-tracker
// collaborators must implement (spec §4.8): webhook normalization and
// project scanning. The governor core depends only on this interface,
// never on a concrete tracker client.
package platform

import (
	"context"
	"errors"

	"github.com/agentgovernor/governor/internal/bus"
	"github.com/agentgovernor/governor/internal/issue"
)

var errNotAnIssue = errors.New("platform: native value is not an issue.Issue")

// ProjectScan is the result of scanning a project for its current,
// non-terminal issues plus which of them are parents (spec §4.8
// scanProjectIssuesWithParents).
type ProjectScan struct {
	Issues    []issue.Issue
	ParentIDs map[string]bool
}

// Adapter is implemented by each tracker integration (Linear, Jira, ...).
// The governor core treats every tracker the same way through this
// narrow surface (spec §1's explicit non-goal: the REST/GraphQL client
// itself is out of scope, specified only by this contract).
type Adapter interface {
	// NormalizeWebhookEvent maps a raw webhook payload into zero or more
	// core events. Returns (nil, nil) for a recognized-but-irrelevant
	// payload and a non-nil error only for a malformed one.
	NormalizeWebhookEvent(ctx context.Context, rawPayload []byte) ([]bus.Event, error)

	// ScanProjectIssues returns all non-terminal issues for project in a
	// single round trip (spec: "no N+1").
	ScanProjectIssues(ctx context.Context, project string) ([]issue.Issue, error)

	// ScanProjectIssuesWithParents is ScanProjectIssues plus which issues
	// have children, needed by the top-of-funnel and work-type derivation.
	ScanProjectIssuesWithParents(ctx context.Context, project string) (ProjectScan, error)

	// ToGovernorIssue converts a tracker-native issue representation
	// (passed as any since each adapter's native type differs) into the
	// governor's normalized Issue.
	ToGovernorIssue(native any) (issue.Issue, error)
}

// Fake is an in-memory Adapter used by tests and local development. It
// never calls out to a real tracker; ScanProjectIssues and
// ScanProjectIssuesWithParents read from the Issues field, and
// NormalizeWebhookEvent is driven by a caller-supplied function so tests
// can exercise arbitrary payload shapes without a real webhook format.
type Fake struct {
	Issues       []issue.Issue
	ParentIDs    map[string]bool
	NormalizeFn  func(ctx context.Context, rawPayload []byte) ([]bus.Event, error)
}

var _ Adapter = (*Fake)(nil)

// NewFake returns an empty Fake adapter.
func NewFake() *Fake {
	return &Fake{ParentIDs: make(map[string]bool)}
}

func (f *Fake) NormalizeWebhookEvent(ctx context.Context, rawPayload []byte) ([]bus.Event, error) {
	if f.NormalizeFn == nil {
		return nil, nil
	}
	return f.NormalizeFn(ctx, rawPayload)
}

func (f *Fake) ScanProjectIssues(_ context.Context, project string) ([]issue.Issue, error) {
	var out []issue.Issue
	for _, iss := range f.Issues {
		if iss.ProjectName == project && !iss.Status.IsTerminal() {
			out = append(out, iss)
		}
	}
	return out, nil
}

func (f *Fake) ScanProjectIssuesWithParents(ctx context.Context, project string) (ProjectScan, error) {
	issues, err := f.ScanProjectIssues(ctx, project)
	if err != nil {
		return ProjectScan{}, err
	}
	parents := make(map[string]bool)
	for _, iss := range issues {
		if f.ParentIDs[iss.ID] {
			parents[iss.ID] = true
		}
	}
	return ProjectScan{Issues: issues, ParentIDs: parents}, nil
}

func (f *Fake) ToGovernorIssue(native any) (issue.Issue, error) {
	iss, ok := native.(issue.Issue)
	if !ok {
		return issue.Issue{}, errNotAnIssue
	}
	return iss, nil
}
