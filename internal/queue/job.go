// Package queue is a durable job queue with per-job retry and exponential
// backoff. Storage is pluggable; see internal/store and internal/litestore.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("job_not_found")
	// ErrEmpty is returned by Store.Claim when nothing is runnable.
	ErrEmpty = errors.New("queue_empty")
	// ErrLeaseLost is returned when a job was reclaimed by another worker, or
	// already finished, before the holder reported back.
	ErrLeaseLost = errors.New("job_lease_lost")
)

type Type string

const (
	TypeDecision Type = "AIDecision"
	TypeChat     Type = "ChatResponse"
)

type State string

const (
	StateQueued    State = "queued"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

type Job struct {
	ID           string
	Queue        string
	Type         Type
	Payload      json.RawMessage
	State        State
	Attempts     int
	MaxAttempts  int
	BackoffBase  time.Duration
	RunAt        time.Time
	CreatedAt    time.Time
	ProcessedAt  time.Time
	FinishedAt   time.Time
	Result       json.RawMessage
	FailedReason string
	WorkerID     string
	LockedUntil  time.Time
}

// Exhausted reports whether the attempt just made was the last one allowed.
func (j Job) Exhausted() bool {
	return j.Attempts >= j.MaxAttempts
}

// Lease names one claim of a job. Complete, Retry and Fail only apply while
// the job is still active under the same worker and attempt.
type Lease struct {
	JobID    string
	WorkerID string
	Attempt  int
}

func (j Job) Lease() Lease {
	return Lease{JobID: j.ID, WorkerID: j.WorkerID, Attempt: j.Attempts}
}

// Store persists jobs. Claim must hand a job to at most one caller at a time:
// it moves a runnable job to active, bumps Attempts, and leases it until
// now+lease. An active job whose lease expired is runnable again. Complete,
// Retry and Fail return ErrNotFound for an unknown job and ErrLeaseLost when
// the lease no longer matches.
type Store interface {
	Enqueue(ctx context.Context, job Job) error
	Claim(ctx context.Context, queue, workerID string, now time.Time, lease time.Duration) (Job, error)
	Complete(ctx context.Context, lease Lease, result json.RawMessage, now time.Time) error
	Retry(ctx context.Context, lease Lease, reason string, runAt time.Time) error
	Fail(ctx context.Context, lease Lease, reason string, now time.Time) error
	Get(ctx context.Context, id string) (Job, error)
	CountWaiting(ctx context.Context, queue string) (int, error)
	Ping(ctx context.Context) error
}
