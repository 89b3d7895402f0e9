package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"farmhands/internal/ids"
)

// Queue is the producer side.
type Queue struct {
	store  Store
	policy Policy
	now    func() time.Time
}

func New(store Store, policy Policy) *Queue {
	return &Queue{store: store, policy: policy.normalized(), now: time.Now}
}

func (q *Queue) Name() string { return q.policy.Queue }

// Submit stores a new job that is runnable immediately.
func (q *Queue) Submit(ctx context.Context, typ Type, payload any) (Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("encode payload: %w", err)
	}
	now := q.now().UTC()
	job := Job{
		ID:          ids.New(),
		Queue:       q.policy.Queue,
		Type:        typ,
		Payload:     raw,
		State:       StateQueued,
		MaxAttempts: q.policy.MaxAttempts,
		BackoffBase: q.policy.BackoffBase,
		RunAt:       now,
		CreatedAt:   now,
	}
	if err := q.store.Enqueue(ctx, job); err != nil {
		return Job{}, err
	}
	metricSubmittedTotal.Add(1)
	return job, nil
}

func (q *Queue) Get(ctx context.Context, id string) (Job, error) {
	return q.store.Get(ctx, id)
}

// Waiting counts queued jobs, including ones delayed for retry.
func (q *Queue) Waiting(ctx context.Context) (int, error) {
	return q.store.CountWaiting(ctx, q.policy.Queue)
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.store.Ping(ctx)
}
