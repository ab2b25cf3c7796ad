package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/mohammad-safakhou/newsletter/config"
	"github.com/mohammad-safakhou/newsletter/internal/artifact"
	"github.com/mohammad-safakhou/newsletter/internal/capability"
	"github.com/mohammad-safakhou/newsletter/internal/executor"
	"github.com/mohammad-safakhou/newsletter/internal/planner"
)

// PostgresStore persists runs in the newsletter_runs tables.
type PostgresStore struct {
	DB *sql.DB
}

func NewPostgresStore(ctx context.Context, cfg config.PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, err
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &PostgresStore{DB: db}, nil
}

// NewPostgresStoreWithDB wraps an existing connection.
func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{DB: db}
}

func (s *PostgresStore) StartRun(ctx context.Context, rc artifact.RunContext, plan planner.Plan) error {
	rec, err := newRunRecord(rc, plan)
	if err != nil {
		return err
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO newsletter_runs (run_id, topic, base_filename, status, plan, warnings, started_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (run_id) DO UPDATE SET
  status = EXCLUDED.status,
  plan = EXCLUDED.plan,
  warnings = EXCLUDED.warnings;
`, rec.RunID, rec.Topic, rec.BaseFilename, rec.Status, []byte(rec.Plan), pq.Array(rec.Warnings), rec.StartedAt); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	for i, n := range rec.Nodes {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO newsletter_run_nodes (run_id, node_id, position, kind, status)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (run_id, node_id) DO NOTHING;
`, rec.RunID, n.NodeID, i, string(n.Kind), string(n.Status)); err != nil {
			return fmt.Errorf("insert node %s: %w", n.NodeID, err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) NodeStarted(ctx context.Context, runID string, node planner.TaskNode, attempt int) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE newsletter_run_nodes SET status=$3, attempts=$4, started_at=COALESCE(started_at, $5) WHERE run_id=$1 AND node_id=$2`,
		runID, node.ID, string(planner.StatusRunning), attempt+1, time.Now().UTC())
	return err
}

func (s *PostgresStore) NodeFinished(ctx context.Context, runID string, entry executor.LogEntry) error {
	art, err := json.Marshal(entry.Artifact)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
UPDATE newsletter_run_nodes
SET status=$3, attempts=$4, artifact=$5, error=$6, notes=$7, started_at=$8, duration_ms=$9
WHERE run_id=$1 AND node_id=$2
`, runID, entry.NodeID, string(entry.Outcome), entry.Attempts, art, entry.Error, pq.Array(entry.Notes), entry.StartedAt.UTC(), entry.Duration.Milliseconds())
	return err
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, result executor.Result) error {
	final, err := json.Marshal(result.Final)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `UPDATE newsletter_runs SET status=$2, final=$3, final_error=$4, finished_at=NOW() WHERE run_id=$1`,
		runID, RunStatus(result), final, result.FinalErr)
	return err
}

const runColumns = `run_id, topic, base_filename, status, plan, warnings, final, final_error, started_at, finished_at`

func scanRun(row interface{ Scan(...any) error }) (RunRecord, error) {
	var (
		rec      RunRecord
		plan     []byte
		final    []byte
		warnings pq.StringArray
		finished sql.NullTime
	)
	if err := row.Scan(&rec.RunID, &rec.Topic, &rec.BaseFilename, &rec.Status, &plan, &warnings, &final, &rec.FinalError, &rec.StartedAt, &finished); err != nil {
		return RunRecord{}, err
	}
	if len(plan) > 0 {
		rec.Plan = append(json.RawMessage{}, plan...)
	}
	rec.Warnings = []string(warnings)
	if len(final) > 0 {
		var art capability.Artifact
		if err := json.Unmarshal(final, &art); err != nil {
			return RunRecord{}, fmt.Errorf("decode final artifact: %w", err)
		}
		rec.Final = &art
	}
	if finished.Valid {
		t := finished.Time
		rec.FinishedAt = &t
	}
	return rec, nil
}

func (s *PostgresStore) Get(ctx context.Context, runID string) (RunRecord, error) {
	rec, err := scanRun(s.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM newsletter_runs WHERE run_id=$1`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, ErrNotFound
	}
	if err != nil {
		return RunRecord{}, err
	}

	rows, err := s.DB.QueryContext(ctx, `
SELECT node_id, kind, status, attempts, artifact, error, notes, started_at, duration_ms
FROM newsletter_run_nodes
WHERE run_id=$1
ORDER BY position
`, runID)
	if err != nil {
		return RunRecord{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			n        NodeRecord
			kind     string
			status   string
			art      []byte
			notes    pq.StringArray
			started  sql.NullTime
			duration int64
		)
		if err := rows.Scan(&n.NodeID, &kind, &status, &n.Attempts, &art, &n.Error, &notes, &started, &duration); err != nil {
			return RunRecord{}, err
		}
		n.Kind = capability.Kind(kind)
		n.Status = planner.Status(status)
		n.Notes = []string(notes)
		n.Duration = time.Duration(duration) * time.Millisecond
		if started.Valid {
			t := started.Time
			n.StartedAt = &t
		}
		if len(art) > 0 {
			if err := json.Unmarshal(art, &n.Artifact); err != nil {
				return RunRecord{}, fmt.Errorf("decode artifact of %s: %w", n.NodeID, err)
			}
		}
		rec.Nodes = append(rec.Nodes, n)
	}
	return rec, rows.Err()
}

// List returns the most recent runs first without their node records.
func (s *PostgresStore) List(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT `+runColumns+` FROM newsletter_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error { return s.DB.Close() }

var _ Store = (*PostgresStore)(nil)
