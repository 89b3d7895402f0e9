// Package litestore is the single-node backend: the job queue and variety
// history in one SQLite file. The API and worker processes may share the
// file; WAL mode and a busy timeout arbitrate between them.
package litestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"farmhands/internal/decision"
	"farmhands/internal/queue"
	"farmhands/internal/variety"
)

var (
	_ queue.Store     = (*Store)(nil)
	_ variety.Tracker = (*Store)(nil)
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
  id TEXT PRIMARY KEY,
  queue TEXT NOT NULL,
  type TEXT NOT NULL,
  payload TEXT NOT NULL,
  state TEXT NOT NULL,
  attempts INTEGER NOT NULL DEFAULT 0,
  max_attempts INTEGER NOT NULL,
  backoff_ms INTEGER NOT NULL,
  run_at INTEGER NOT NULL,
  created_at INTEGER NOT NULL,
  processed_at INTEGER,
  finished_at INTEGER,
  result TEXT,
  failed_reason TEXT NOT NULL DEFAULT '',
  worker_id TEXT NOT NULL DEFAULT '',
  locked_until INTEGER
);
CREATE INDEX IF NOT EXISTS idx_jobs_runnable ON jobs (queue, state, run_at);
CREATE TABLE IF NOT EXISTS agent_recent_actions (
  agent_id TEXT PRIMARY KEY,
  actions TEXT NOT NULL,
  updated_at INTEGER NOT NULL
);
`

type Store struct {
	db *sql.DB
	// VarietyWindow caps the per-agent history kept by Record.
	VarietyWindow int
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", "PRAGMA synchronous=NORMAL"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s on %s: %w", pragma, path, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

const jobColumns = `id, queue, type, payload, state, attempts, max_attempts, backoff_ms, run_at, created_at,
	processed_at, finished_at, result, failed_reason, worker_id, locked_until`

func (s *Store) Enqueue(ctx context.Context, job queue.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, queue, type, payload, state, attempts, max_attempts, backoff_ms, run_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Queue, string(job.Type), string(job.Payload), string(job.State), job.Attempts,
		job.MaxAttempts, job.BackoffBase.Milliseconds(), ms(job.RunAt), ms(job.CreatedAt))
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

func (s *Store) Claim(ctx context.Context, queueName, workerID string, now time.Time, lease time.Duration) (queue.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs SET
			state = 'active',
			attempts = attempts + 1,
			worker_id = ?,
			processed_at = ?,
			locked_until = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE queue = ?
			  AND ((state = 'queued' AND run_at <= ?) OR (state = 'active' AND locked_until <= ?))
			ORDER BY run_at, id
			LIMIT 1
		)
		RETURNING `+jobColumns,
		workerID, ms(now), ms(now.Add(lease)), queueName, ms(now), ms(now))
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return queue.Job{}, queue.ErrEmpty
	}
	return job, err
}

func (s *Store) Complete(ctx context.Context, l queue.Lease, result json.RawMessage, now time.Time) error {
	var res any
	if len(result) > 0 {
		res = string(result)
	}
	return s.execLeased(ctx, l, `UPDATE jobs SET state = 'completed', result = ?, finished_at = ?, locked_until = NULL
		WHERE id = ? AND state = 'active' AND worker_id = ? AND attempts = ?`,
		res, ms(now), l.JobID, l.WorkerID, l.Attempt)
}

func (s *Store) Retry(ctx context.Context, l queue.Lease, reason string, runAt time.Time) error {
	return s.execLeased(ctx, l, `UPDATE jobs SET state = 'queued', failed_reason = ?, run_at = ?, locked_until = NULL
		WHERE id = ? AND state = 'active' AND worker_id = ? AND attempts = ?`,
		reason, ms(runAt), l.JobID, l.WorkerID, l.Attempt)
}

func (s *Store) Fail(ctx context.Context, l queue.Lease, reason string, now time.Time) error {
	return s.execLeased(ctx, l, `UPDATE jobs SET state = 'failed', failed_reason = ?, finished_at = ?, locked_until = NULL
		WHERE id = ? AND state = 'active' AND worker_id = ? AND attempts = ?`,
		reason, ms(now), l.JobID, l.WorkerID, l.Attempt)
}

func (s *Store) Get(ctx context.Context, id string) (queue.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return queue.Job{}, queue.ErrNotFound
	}
	return job, err
}

func (s *Store) CountWaiting(ctx context.Context, queueName string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM jobs WHERE queue = ? AND state = 'queued'`, queueName).Scan(&n)
	return n, err
}

func (s *Store) execLeased(ctx context.Context, l queue.Lease, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = ?)`, l.JobID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return queue.ErrNotFound
	}
	return queue.ErrLeaseLost
}

func scanJob(row *sql.Row) (queue.Job, error) {
	var (
		j                                    queue.Job
		typ, state, payload                  string
		result                               sql.NullString
		backoffMS, runAt, createdAt          int64
		processedAt, finishedAt, lockedUntil sql.NullInt64
	)
	err := row.Scan(&j.ID, &j.Queue, &typ, &payload, &state, &j.Attempts, &j.MaxAttempts, &backoffMS,
		&runAt, &createdAt, &processedAt, &finishedAt, &result, &j.FailedReason, &j.WorkerID, &lockedUntil)
	if err != nil {
		return queue.Job{}, err
	}
	j.Type = queue.Type(typ)
	j.State = queue.State(state)
	j.Payload = json.RawMessage(payload)
	if result.Valid {
		j.Result = json.RawMessage(result.String)
	}
	j.BackoffBase = time.Duration(backoffMS) * time.Millisecond
	j.RunAt = fromMS(runAt)
	j.CreatedAt = fromMS(createdAt)
	j.ProcessedAt = fromNullMS(processedAt)
	j.FinishedAt = fromNullMS(finishedAt)
	j.LockedUntil = fromNullMS(lockedUntil)
	return j, nil
}

func (s *Store) Recent(ctx context.Context, agentID string) ([]decision.Animation, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT actions FROM agent_recent_actions WHERE agent_id = ?`, agentID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []decision.Animation
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode recent actions for %s: %w", agentID, err)
	}
	return out, nil
}

func (s *Store) Record(ctx context.Context, agentID string, used []decision.Animation) error {
	if len(used) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var prev []decision.Animation
	var raw string
	err = tx.QueryRowContext(ctx, `SELECT actions FROM agent_recent_actions WHERE agent_id = ?`, agentID).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return err
	default:
		if err := json.Unmarshal([]byte(raw), &prev); err != nil {
			return fmt.Errorf("decode recent actions for %s: %w", agentID, err)
		}
	}
	next, err := json.Marshal(variety.Append(prev, used, s.VarietyWindow))
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO agent_recent_actions (agent_id, actions, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (agent_id) DO UPDATE SET actions = excluded.actions, updated_at = excluded.updated_at`,
		agentID, string(next), ms(time.Now()))
	if err != nil {
		return err
	}
	return tx.Commit()
}

func ms(t time.Time) int64 { return t.UnixMilli() }

func fromMS(v int64) time.Time { return time.UnixMilli(v).UTC() }

func fromNullMS(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return fromMS(v.Int64)
}
