package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LedgerEntry is one durable record of a finished session, kept past the
// Redis TTL window for cost accounting and audit (spec §4.2 Completion
// handling produces these as a side effect; SPEC_FULL §4 "quota ledger").
type LedgerEntry struct {
	SessionID    string
	IssueID      string
	WorkType     string
	Status       string
	ProjectName  string
	TotalCostUSD float64
	InputTokens  int64
	OutputTokens int64
	StartedAt    time.Time
	FinishedAt   time.Time
}

// QuotaUsage is the aggregate spend for a project over a window.
type QuotaUsage struct {
	ProjectName  string
	SessionCount int64
	TotalCostUSD float64
}

// Ledger is the durable tail beyond Redis's TTL'd session keys: every
// finished session is archived here so cost/usage queries don't depend
// on a key still being alive. Grounded on
// control_plane/store/postgres.go's pgxpool wiring, repurposed from
// Agent/Job/DesiredState rows onto session archival.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger opens a pool against connString and verifies connectivity.
func NewLedger(ctx context.Context, connString string) (*Ledger, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	return &Ledger{pool: pool}, nil
}

// Close releases the pool.
func (l *Ledger) Close() {
	l.pool.Close()
}

// schema is applied by the operator via migration tooling in production;
// kept here so a fresh dev database can be bootstrapped with one call.
const schema = `
CREATE TABLE IF NOT EXISTS session_ledger (
	session_id     TEXT PRIMARY KEY,
	issue_id       TEXT NOT NULL,
	work_type      TEXT NOT NULL,
	status         TEXT NOT NULL,
	project_name   TEXT NOT NULL,
	total_cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
	input_tokens   BIGINT NOT NULL DEFAULT 0,
	output_tokens  BIGINT NOT NULL DEFAULT 0,
	started_at     TIMESTAMPTZ NOT NULL,
	finished_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS session_ledger_project_idx ON session_ledger (project_name, finished_at);
`

// EnsureSchema creates the ledger table if it does not already exist.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, schema)
	return err
}

// Record archives one finished session.
func (l *Ledger) Record(ctx context.Context, e *LedgerEntry) error {
	query := `
		INSERT INTO session_ledger (session_id, issue_id, work_type, status, project_name, total_cost_usd, input_tokens, output_tokens, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (session_id) DO UPDATE SET
			status = EXCLUDED.status,
			total_cost_usd = EXCLUDED.total_cost_usd,
			input_tokens = EXCLUDED.input_tokens,
			output_tokens = EXCLUDED.output_tokens,
			finished_at = EXCLUDED.finished_at
	`
	_, err := l.pool.Exec(ctx, query,
		e.SessionID, e.IssueID, e.WorkType, e.Status, e.ProjectName,
		e.TotalCostUSD, e.InputTokens, e.OutputTokens, e.StartedAt, e.FinishedAt,
	)
	return err
}

// Get returns the archived entry for a session, or ErrNotFound.
func (l *Ledger) Get(ctx context.Context, sessionID string) (*LedgerEntry, error) {
	query := `
		SELECT session_id, issue_id, work_type, status, project_name, total_cost_usd, input_tokens, output_tokens, started_at, finished_at
		FROM session_ledger WHERE session_id = $1
	`
	var e LedgerEntry
	err := l.pool.QueryRow(ctx, query, sessionID).Scan(
		&e.SessionID, &e.IssueID, &e.WorkType, &e.Status, &e.ProjectName,
		&e.TotalCostUSD, &e.InputTokens, &e.OutputTokens, &e.StartedAt, &e.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// UsageSince aggregates spend per project for sessions finished at or
// after since, ordered by project name.
func (l *Ledger) UsageSince(ctx context.Context, since time.Time) ([]*QuotaUsage, error) {
	query := `
		SELECT project_name, COUNT(*), COALESCE(SUM(total_cost_usd), 0)
		FROM session_ledger
		WHERE finished_at >= $1
		GROUP BY project_name
		ORDER BY project_name
	`
	rows, err := l.pool.Query(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*QuotaUsage
	for rows.Next() {
		var u QuotaUsage
		if err := rows.Scan(&u.ProjectName, &u.SessionCount, &u.TotalCostUSD); err != nil {
			return nil, err
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}
