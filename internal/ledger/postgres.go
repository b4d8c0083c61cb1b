package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/patchlab-ai/patchlab-go/internal/domain"
)

// DB is the subset of *sql.DB the ledger needs.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresLedger persists runs and artifact records in Postgres.
type PostgresLedger struct {
	db DB
}

func NewPostgresLedger(db DB) *PostgresLedger {
	if db == nil {
		return nil
	}
	return &PostgresLedger{db: db}
}

func (l *PostgresLedger) CreateRun(ctx context.Context, run domain.Run) error {
	if l == nil || l.db == nil {
		return fmt.Errorf("ledger not initialized")
	}
	if err := run.Validate(); err != nil {
		return err
	}
	paramsJSON, err := encodeMetadata(run.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	metricsJSON, err := encodeMetadata(run.Metrics)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	inputsJSON, err := json.Marshal(nonNil(run.InputRunIDs))
	if err != nil {
		return fmt.Errorf("encode input run ids: %w", err)
	}
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	var endedAt sql.NullTime
	if run.EndedAt != nil {
		endedAt = sql.NullTime{Time: run.EndedAt.UTC(), Valid: true}
	}
	_, err = l.db.ExecContext(
		ctx,
		`INSERT INTO pipeline_runs (
			run_id,
			entry_point,
			params,
			input_run_ids,
			status,
			error,
			metrics,
			created_at,
			ended_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		strings.TrimSpace(run.ID),
		strings.TrimSpace(run.EntryPoint),
		paramsJSON,
		inputsJSON,
		string(run.Status),
		nullIfEmpty(run.Error),
		metricsJSON,
		createdAt.UTC(),
		endedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (l *PostgresLedger) GetRun(ctx context.Context, id string) (domain.Run, error) {
	if l == nil || l.db == nil {
		return domain.Run{}, fmt.Errorf("ledger not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Run{}, fmt.Errorf("run id is required")
	}
	row := l.db.QueryRowContext(
		ctx,
		`SELECT run_id, entry_point, params, input_run_ids, status, error, metrics, created_at, ended_at
		 FROM pipeline_runs
		 WHERE run_id = $1`,
		id,
	)
	return scanRun(row.Scan)
}

func (l *PostgresLedger) ListRuns(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	if l == nil || l.db == nil {
		return nil, fmt.Errorf("ledger not initialized")
	}
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if strings.TrimSpace(filter.EntryPoint) != "" {
		args = append(args, strings.TrimSpace(filter.EntryPoint))
		clauses = append(clauses, fmt.Sprintf("entry_point = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT run_id, entry_point, params, input_run_ids, status, error, metrics, created_at, ended_at
		FROM pipeline_runs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]domain.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func (l *PostgresLedger) UpdateRunStatus(ctx context.Context, id string, status domain.RunStatus, runErr string, endedAt *time.Time) error {
	if l == nil || l.db == nil {
		return fmt.Errorf("ledger not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("run id is required")
	}
	if !status.Valid() {
		return fmt.Errorf("invalid run status %q", status)
	}
	var ended sql.NullTime
	if endedAt != nil {
		ended = sql.NullTime{Time: endedAt.UTC(), Valid: true}
	}
	res, err := l.db.ExecContext(
		ctx,
		`UPDATE pipeline_runs SET status = $1, error = $2, ended_at = $3
		 WHERE run_id = $4 AND status NOT IN ('SUCCEEDED','FAILED')`,
		string(status),
		nullIfEmpty(runErr),
		ended,
		id,
	)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if rows == 0 {
		if _, getErr := l.GetRun(ctx, id); getErr != nil {
			return getErr
		}
		return ErrImmutable
	}
	return nil
}

func (l *PostgresLedger) SetRunMetrics(ctx context.Context, id string, metrics domain.Metadata) error {
	if l == nil || l.db == nil {
		return fmt.Errorf("ledger not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("run id is required")
	}
	metricsJSON, err := encodeMetadata(metrics)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	res, err := l.db.ExecContext(
		ctx,
		`UPDATE pipeline_runs SET metrics = $1
		 WHERE run_id = $2 AND status NOT IN ('SUCCEEDED','FAILED')`,
		metricsJSON,
		id,
	)
	if err != nil {
		return fmt.Errorf("set run metrics: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set run metrics: %w", err)
	}
	if rows == 0 {
		if _, getErr := l.GetRun(ctx, id); getErr != nil {
			return getErr
		}
		return ErrImmutable
	}
	return nil
}

func (l *PostgresLedger) AppendArtifact(ctx context.Context, artifact domain.Artifact) error {
	if l == nil || l.db == nil {
		return fmt.Errorf("ledger not initialized")
	}
	if err := artifact.Validate(); err != nil {
		return err
	}
	_, err := l.db.ExecContext(
		ctx,
		`INSERT INTO run_artifacts (run_id, tar_name, folder_name, sha256, size_bytes, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (run_id, tar_name, folder_name) DO NOTHING`,
		strings.TrimSpace(artifact.RunID),
		strings.TrimSpace(artifact.TarName),
		strings.TrimSpace(artifact.FolderName),
		strings.TrimSpace(artifact.SHA256),
		artifact.SizeBytes,
		artifact.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append artifact: %w", err)
	}
	return nil
}

func (l *PostgresLedger) GetArtifact(ctx context.Context, runID, tarName, folderName string) (domain.Artifact, error) {
	if l == nil || l.db == nil {
		return domain.Artifact{}, fmt.Errorf("ledger not initialized")
	}
	var artifact domain.Artifact
	row := l.db.QueryRowContext(
		ctx,
		`SELECT run_id, tar_name, folder_name, sha256, size_bytes, created_at
		 FROM run_artifacts
		 WHERE run_id = $1 AND tar_name = $2 AND folder_name = $3`,
		strings.TrimSpace(runID),
		strings.TrimSpace(tarName),
		strings.TrimSpace(folderName),
	)
	err := row.Scan(&artifact.RunID, &artifact.TarName, &artifact.FolderName, &artifact.SHA256, &artifact.SizeBytes, &artifact.CreatedAt)
	if err != nil {
		return domain.Artifact{}, handleNotFound(err)
	}
	return artifact, nil
}

func (l *PostgresLedger) ListArtifacts(ctx context.Context, runID string) ([]domain.Artifact, error) {
	if l == nil || l.db == nil {
		return nil, fmt.Errorf("ledger not initialized")
	}
	rows, err := l.db.QueryContext(
		ctx,
		`SELECT run_id, tar_name, folder_name, sha256, size_bytes, created_at
		 FROM run_artifacts
		 WHERE run_id = $1
		 ORDER BY tar_name, folder_name`,
		strings.TrimSpace(runID),
	)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Artifact, 0)
	for rows.Next() {
		var artifact domain.Artifact
		if err := rows.Scan(&artifact.RunID, &artifact.TarName, &artifact.FolderName, &artifact.SHA256, &artifact.SizeBytes, &artifact.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		out = append(out, artifact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	return out, nil
}

func scanRun(scan func(dest ...any) error) (domain.Run, error) {
	var (
		run         domain.Run
		status      string
		runErr      sql.NullString
		paramsJSON  []byte
		inputsJSON  []byte
		metricsJSON []byte
		endedAt     sql.NullTime
	)
	if err := scan(&run.ID, &run.EntryPoint, &paramsJSON, &inputsJSON, &status, &runErr, &metricsJSON, &run.CreatedAt, &endedAt); err != nil {
		return domain.Run{}, handleNotFound(err)
	}
	run.Status = domain.RunStatus(status)
	run.Error = strings.TrimSpace(runErr.String)
	if endedAt.Valid {
		ended := endedAt.Time.UTC()
		run.EndedAt = &ended
	}
	params, err := decodeMetadata(paramsJSON)
	if err != nil {
		return domain.Run{}, fmt.Errorf("decode params: %w", err)
	}
	metrics, err := decodeMetadata(metricsJSON)
	if err != nil {
		return domain.Run{}, fmt.Errorf("decode metrics: %w", err)
	}
	run.Params = params
	run.Metrics = metrics
	if len(inputsJSON) > 0 {
		var inputs []string
		if err := json.Unmarshal(inputsJSON, &inputs); err != nil {
			return domain.Run{}, fmt.Errorf("decode input run ids: %w", err)
		}
		run.InputRunIDs = inputs
	}
	return run, nil
}

func encodeMetadata(meta domain.Metadata) ([]byte, error) {
	if meta == nil {
		meta = domain.Metadata{}
	}
	return json.Marshal(meta)
}

func decodeMetadata(raw []byte) (domain.Metadata, error) {
	if len(raw) == 0 {
		return domain.Metadata{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return domain.Metadata(out), nil
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func nullIfEmpty(value string) sql.NullString {
	value = strings.TrimSpace(value)
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func handleNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
