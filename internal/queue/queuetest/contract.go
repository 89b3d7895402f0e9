// Package queuetest holds the behaviour every queue.Store backend must share.
package queuetest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"farmhands/internal/ids"
	"farmhands/internal/queue"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newJob(queueName string, runAt time.Time) queue.Job {
	return queue.Job{
		ID:          ids.New(),
		Queue:       queueName,
		Type:        queue.TypeDecision,
		Payload:     json.RawMessage(`{"aiAgentId":"Agent_A"}`),
		State:       queue.StateQueued,
		MaxAttempts: 3,
		BackoffBase: 2 * time.Second,
		RunAt:       runAt,
		CreatedAt:   runAt,
	}
}

// RunStoreContract exercises st. open must return an empty store.
func RunStoreContract(t *testing.T, open func(t *testing.T) queue.Store) {
	t.Run("EnqueueGet", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()
		job := newJob("GameAI", base)
		if err := st.Enqueue(ctx, job); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		got, err := st.Get(ctx, job.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Type != job.Type || got.State != queue.StateQueued || got.MaxAttempts != 3 || got.BackoffBase != 2*time.Second {
			t.Fatalf("unexpected job %+v", got)
		}
		var payload map[string]string
		if err := json.Unmarshal(got.Payload, &payload); err != nil || payload["aiAgentId"] != "Agent_A" {
			t.Fatalf("payload round trip: %s (%v)", got.Payload, err)
		}
		if !got.RunAt.Equal(base) {
			t.Fatalf("run_at round trip: %s", got.RunAt)
		}
		if _, err := st.Get(ctx, ids.New()); !errors.Is(err, queue.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ClaimRespectsRunAtAndQueue", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()
		later := newJob("GameAI", base.Add(time.Minute))
		other := newJob("Other", base)
		_ = st.Enqueue(ctx, later)
		_ = st.Enqueue(ctx, other)
		if _, err := st.Claim(ctx, "GameAI", "w", base, time.Minute); !errors.Is(err, queue.ErrEmpty) {
			t.Fatalf("expected ErrEmpty, got %v", err)
		}
		got, err := st.Claim(ctx, "GameAI", "w", base.Add(time.Minute), time.Minute)
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		if got.ID != later.ID || got.State != queue.StateActive || got.Attempts != 1 || got.WorkerID != "w" {
			t.Fatalf("unexpected claim %+v", got)
		}
	})

	t.Run("CompleteRetryFail", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()
		job := newJob("GameAI", base)
		_ = st.Enqueue(ctx, job)
		claimed, err := st.Claim(ctx, "GameAI", "w", base, time.Minute)
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		if err := st.Retry(ctx, claimed.Lease(), "boom", base.Add(2*time.Second)); err != nil {
			t.Fatalf("retry: %v", err)
		}
		n, _ := st.CountWaiting(ctx, "GameAI")
		if n != 1 {
			t.Fatalf("expected retried job to count as waiting, got %d", n)
		}
		got, err := st.Claim(ctx, "GameAI", "w", base.Add(2*time.Second), time.Minute)
		if err != nil || got.Attempts != 2 || got.FailedReason != "boom" {
			t.Fatalf("reclaim: %+v %v", got, err)
		}
		if err := st.Complete(ctx, got.Lease(), json.RawMessage(`{"success":true}`), base.Add(3*time.Second)); err != nil {
			t.Fatalf("complete: %v", err)
		}
		got, _ = st.Get(ctx, job.ID)
		if got.State != queue.StateCompleted || string(compact(t, got.Result)) != `{"success":true}` || got.FinishedAt.IsZero() {
			t.Fatalf("unexpected completed job %+v", got)
		}

		failed := newJob("GameAI", base)
		_ = st.Enqueue(ctx, failed)
		claimed, err = st.Claim(ctx, "GameAI", "w", base, time.Minute)
		if err != nil || claimed.ID != failed.ID {
			t.Fatalf("claim: %+v %v", claimed, err)
		}
		if err := st.Fail(ctx, claimed.Lease(), "gave up", base); err != nil {
			t.Fatalf("fail: %v", err)
		}
		got, _ = st.Get(ctx, failed.ID)
		if got.State != queue.StateFailed || got.FailedReason != "gave up" {
			t.Fatalf("unexpected failed job %+v", got)
		}
		unknown := queue.Lease{JobID: ids.New(), WorkerID: "w", Attempt: 1}
		if err := st.Complete(ctx, unknown, nil, base); !errors.Is(err, queue.ErrNotFound) {
			t.Fatalf("expected ErrNotFound completing unknown job, got %v", err)
		}
	})

	t.Run("StaleLeaseCannotFinishJob", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()
		job := newJob("GameAI", base)
		_ = st.Enqueue(ctx, job)
		first, err := st.Claim(ctx, "GameAI", "worker-a", base, time.Second)
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		second, err := st.Claim(ctx, "GameAI", "worker-b", base.Add(2*time.Second), time.Minute)
		if err != nil || second.ID != job.ID {
			t.Fatalf("reclaim: %+v %v", second, err)
		}

		stale := first.Lease()
		if err := st.Complete(ctx, stale, json.RawMessage(`{"success":true}`), base.Add(3*time.Second)); !errors.Is(err, queue.ErrLeaseLost) {
			t.Fatalf("stale Complete = %v, want ErrLeaseLost", err)
		}
		if err := st.Retry(ctx, stale, "late", base.Add(3*time.Second)); !errors.Is(err, queue.ErrLeaseLost) {
			t.Fatalf("stale Retry = %v, want ErrLeaseLost", err)
		}
		if err := st.Fail(ctx, stale, "late", base.Add(3*time.Second)); !errors.Is(err, queue.ErrLeaseLost) {
			t.Fatalf("stale Fail = %v, want ErrLeaseLost", err)
		}
		got, _ := st.Get(ctx, job.ID)
		if got.State != queue.StateActive || got.WorkerID != "worker-b" || got.Attempts != 2 {
			t.Fatalf("stale lease changed the job: %+v", got)
		}

		if err := st.Complete(ctx, second.Lease(), nil, base.Add(4*time.Second)); err != nil {
			t.Fatalf("complete: %v", err)
		}
		if err := st.Retry(ctx, second.Lease(), "again", base.Add(5*time.Second)); !errors.Is(err, queue.ErrLeaseLost) {
			t.Fatalf("completed job re-queued: %v", err)
		}
		got, _ = st.Get(ctx, job.ID)
		if got.State != queue.StateCompleted {
			t.Fatalf("state = %s, want completed", got.State)
		}
	})

	t.Run("ExpiredLeaseIsReclaimable", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()
		job := newJob("GameAI", base)
		_ = st.Enqueue(ctx, job)
		if _, err := st.Claim(ctx, "GameAI", "dead", base, 30*time.Second); err != nil {
			t.Fatalf("claim: %v", err)
		}
		if _, err := st.Claim(ctx, "GameAI", "w", base.Add(29*time.Second), time.Minute); !errors.Is(err, queue.ErrEmpty) {
			t.Fatalf("leased job claimed early: %v", err)
		}
		got, err := st.Claim(ctx, "GameAI", "w", base.Add(30*time.Second), time.Minute)
		if err != nil || got.ID != job.ID || got.Attempts != 2 || got.WorkerID != "w" {
			t.Fatalf("reclaim after lease: %+v %v", got, err)
		}
	})

	t.Run("ConcurrentClaimsAreExclusive", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()
		const jobs = 20
		for i := 0; i < jobs; i++ {
			_ = st.Enqueue(ctx, newJob("GameAI", base))
		}
		var (
			mu   sync.Mutex
			seen = map[string]int{}
			wg   sync.WaitGroup
		)
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					job, err := st.Claim(ctx, "GameAI", "w", base, time.Minute)
					if errors.Is(err, queue.ErrEmpty) {
						return
					}
					if err != nil {
						t.Errorf("claim: %v", err)
						return
					}
					mu.Lock()
					seen[job.ID]++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		if len(seen) != jobs {
			t.Fatalf("claimed %d distinct jobs, want %d", len(seen), jobs)
		}
		for id, n := range seen {
			if n != 1 {
				t.Fatalf("job %s claimed %d times", id, n)
			}
		}
	})
}

func compact(t *testing.T, raw json.RawMessage) []byte {
	t.Helper()
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	b, _ := json.Marshal(v)
	return b
}
