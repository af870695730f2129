// Package override implements the human-touchpoint directive parser (spec
// §4.3): the first non-empty line of an issue comment, if it matches a
// recognized token, suppresses or redirects dispatch decisions for that
// issue.
package override

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/agentgovernor/governor/internal/store"
)

// Comment is the minimal shape the parser needs from a tracker comment;
// platform adapters translate their own comment type into this.
type Comment struct {
	ID        string
	Body      string
	UserID    string
	UserName  string
	IsBot     bool
	CreatedAt int64 // ms epoch
}

var (
	holdRe     = regexp.MustCompile(`(?i)^HOLD(?:\s*[-\x{2013}\x{2014}]\s*(.*))?$`)
	resumeRe   = regexp.MustCompile(`(?i)^RESUME\s*$`)
	skipQARe   = regexp.MustCompile(`(?i)^SKIP[\s-]*QA\s*$`)
	decomposeRe = regexp.MustCompile(`(?i)^DECOMPOSE\s*$`)
	reassignRe  = regexp.MustCompile(`(?i)^REASSIGN\s*$`)
	priorityRe  = regexp.MustCompile(`(?i)^PRIORITY\s*:\s*(\S+)\s*$`)
)

// Parser reads the first non-empty line of a comment and turns it into an
// OverrideRecord, or nil if the comment carries no recognized directive.
type Parser struct {
	logger *slog.Logger
}

// Option configures a Parser.
type Option func(*Parser)

// WithLogger overrides the parser's logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Parser) { p.logger = l }
}

// New returns a Parser with the given options applied.
func New(opts ...Option) *Parser {
	p := &Parser{logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func firstNonEmptyLine(body string) string {
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// Parse inspects c's first non-empty line and returns the directive it
// encodes, if any. Bot comments are never parsed. An unrecognized
// `priority` value makes the whole directive invalid (spec §4.3).
func (p *Parser) Parse(issueID string, c Comment) *store.OverrideRecord {
	if c.IsBot {
		return nil
	}
	line := firstNonEmptyLine(c.Body)
	if line == "" {
		return nil
	}

	rec := &store.OverrideRecord{
		IssueID:   issueID,
		CommentID: c.ID,
		UserID:    c.UserID,
		Timestamp: c.CreatedAt,
	}

	switch {
	case holdRe.MatchString(line):
		m := holdRe.FindStringSubmatch(line)
		rec.Directive = store.DirectiveHold
		if len(m) > 1 {
			rec.Reason = strings.TrimSpace(m[1])
		}
	case resumeRe.MatchString(line):
		rec.Directive = store.DirectiveResume
	case skipQARe.MatchString(line):
		rec.Directive = store.DirectiveSkipQA
	case decomposeRe.MatchString(line):
		rec.Directive = store.DirectiveDecompose
	case reassignRe.MatchString(line):
		rec.Directive = store.DirectiveReassign
	case priorityRe.MatchString(line):
		m := priorityRe.FindStringSubmatch(line)
		val := store.OverridePriority(strings.ToLower(m[1]))
		if val != store.PriorityHigh && val != store.PriorityMedium && val != store.PriorityLow {
			p.logger.Warn("ignoring priority directive with unrecognized value",
				slog.String("issueId", issueID),
				slog.String("commentId", c.ID),
				slog.String("value", m[1]),
			)
			return nil
		}
		rec.Directive = store.DirectivePriority
		rec.Priority = val
	default:
		return nil
	}

	return rec
}

// FindLatest scans comments for the latest recognized directive by
// createdAt, skipping bot comments and unrecognized lines (spec §4.3).
// Ties on createdAt are broken by the greater comment id (P4).
func (p *Parser) FindLatest(issueID string, comments []Comment) *store.OverrideRecord {
	var latest *store.OverrideRecord
	for _, c := range comments {
		rec := p.Parse(issueID, c)
		if rec == nil {
			continue
		}
		switch {
		case latest == nil:
			latest = rec
		case rec.Timestamp > latest.Timestamp:
			latest = rec
		case rec.Timestamp == latest.Timestamp && rec.CommentID > latest.CommentID:
			latest = rec
		}
	}
	return latest
}

// SuppressesDispatch reports whether the current override record blocks
// dispatch of workType entirely (spec §4.2 step 1, §4.3): `hold` blocks
// everything; `skip-qa` blocks only qa/qa-coordination work.
func SuppressesDispatch(o *store.OverrideRecord, workType string) bool {
	if o == nil {
		return false
	}
	switch o.Directive {
	case store.DirectiveHold:
		return true
	case store.DirectiveSkipQA:
		return workType == "qa" || workType == "qa-coordination"
	default:
		return false
	}
}
