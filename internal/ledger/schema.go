package ledger

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS pipeline_runs (
		run_id        TEXT PRIMARY KEY,
		entry_point   TEXT NOT NULL,
		params        JSONB NOT NULL DEFAULT '{}'::jsonb,
		input_run_ids JSONB NOT NULL DEFAULT '[]'::jsonb,
		status        TEXT NOT NULL,
		error         TEXT,
		metrics       JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at    TIMESTAMPTZ NOT NULL,
		ended_at      TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS pipeline_runs_entry_point_idx ON pipeline_runs (entry_point)`,
	`CREATE INDEX IF NOT EXISTS pipeline_runs_status_idx ON pipeline_runs (status)`,
	`CREATE TABLE IF NOT EXISTS run_artifacts (
		run_id      TEXT NOT NULL REFERENCES pipeline_runs (run_id),
		tar_name    TEXT NOT NULL,
		folder_name TEXT NOT NULL,
		sha256      TEXT NOT NULL,
		size_bytes  BIGINT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (run_id, tar_name, folder_name)
	)`,
}

// EnsureSchema creates the ledger tables when they do not exist yet.
func (l *PostgresLedger) EnsureSchema(ctx context.Context) error {
	if l == nil || l.db == nil {
		return fmt.Errorf("ledger not initialized")
	}
	for _, stmt := range schemaStatements {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
