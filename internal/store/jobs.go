package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"farmhands/internal/queue"
)

var _ queue.Store = (*Store)(nil)

const jobColumns = `id, queue, type, payload, state, attempts, max_attempts, backoff_ms, run_at, created_at,
	processed_at, finished_at, result, failed_reason, worker_id, locked_until`

func (s *Store) Enqueue(ctx context.Context, job queue.Job) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO jobs (id, queue, type, payload, state, attempts, max_attempts, backoff_ms, run_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.Queue, string(job.Type), []byte(job.Payload), string(job.State), job.Attempts,
		job.MaxAttempts, job.BackoffBase.Milliseconds(), job.RunAt, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// Claim leases the oldest runnable job. SKIP LOCKED lets concurrent workers
// claim different rows without blocking on each other.
func (s *Store) Claim(ctx context.Context, queueName, workerID string, now time.Time, lease time.Duration) (queue.Job, error) {
	row := s.Pool.QueryRow(ctx, `
		UPDATE jobs SET
			state = 'active',
			attempts = attempts + 1,
			worker_id = $2,
			processed_at = $3,
			locked_until = $4
		WHERE id = (
			SELECT id FROM jobs
			WHERE queue = $1
			  AND ((state = 'queued' AND run_at <= $3) OR (state = 'active' AND locked_until <= $3))
			ORDER BY run_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		queueName, workerID, now, now.Add(lease))
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return queue.Job{}, queue.ErrEmpty
	}
	return job, err
}

func (s *Store) Complete(ctx context.Context, l queue.Lease, result json.RawMessage, now time.Time) error {
	return s.execLeased(ctx, l, `
		UPDATE jobs SET state = 'completed', result = $4, finished_at = $5, locked_until = NULL
		WHERE id = $1 AND state = 'active' AND worker_id = $2 AND attempts = $3`,
		l.JobID, l.WorkerID, l.Attempt, nullJSON(result), now)
}

func (s *Store) Retry(ctx context.Context, l queue.Lease, reason string, runAt time.Time) error {
	return s.execLeased(ctx, l, `
		UPDATE jobs SET state = 'queued', failed_reason = $4, run_at = $5, locked_until = NULL
		WHERE id = $1 AND state = 'active' AND worker_id = $2 AND attempts = $3`,
		l.JobID, l.WorkerID, l.Attempt, reason, runAt)
}

func (s *Store) Fail(ctx context.Context, l queue.Lease, reason string, now time.Time) error {
	return s.execLeased(ctx, l, `
		UPDATE jobs SET state = 'failed', failed_reason = $4, finished_at = $5, locked_until = NULL
		WHERE id = $1 AND state = 'active' AND worker_id = $2 AND attempts = $3`,
		l.JobID, l.WorkerID, l.Attempt, reason, now)
}

func (s *Store) Get(ctx context.Context, id string) (queue.Job, error) {
	job, err := scanJob(s.Pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return queue.Job{}, queue.ErrNotFound
	}
	return job, err
}

func (s *Store) CountWaiting(ctx context.Context, queueName string) (int, error) {
	var n int
	err := s.Pool.QueryRow(ctx, `SELECT count(*) FROM jobs WHERE queue = $1 AND state = 'queued'`, queueName).Scan(&n)
	return n, err
}

func (s *Store) execLeased(ctx context.Context, l queue.Lease, sql string, args ...any) error {
	tag, err := s.Pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := s.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, l.JobID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return queue.ErrNotFound
	}
	return queue.ErrLeaseLost
}

func scanJob(row pgx.Row) (queue.Job, error) {
	var (
		j                                    queue.Job
		typ, state                           string
		payload, result                      []byte
		backoffMS                            int64
		processedAt, finishedAt, lockedUntil pgtype.Timestamptz
	)
	err := row.Scan(&j.ID, &j.Queue, &typ, &payload, &state, &j.Attempts, &j.MaxAttempts, &backoffMS,
		&j.RunAt, &j.CreatedAt, &processedAt, &finishedAt, &result, &j.FailedReason, &j.WorkerID, &lockedUntil)
	if err != nil {
		return queue.Job{}, err
	}
	j.Type = queue.Type(typ)
	j.State = queue.State(state)
	j.Payload = payload
	j.Result = result
	j.BackoffBase = time.Duration(backoffMS) * time.Millisecond
	j.ProcessedAt = tsOrZero(processedAt)
	j.FinishedAt = tsOrZero(finishedAt)
	j.LockedUntil = tsOrZero(lockedUntil)
	return j, nil
}

func tsOrZero(ts pgtype.Timestamptz) time.Time {
	if !ts.Valid {
		return time.Time{}
	}
	return ts.Time
}

func nullJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}
