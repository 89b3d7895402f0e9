package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"
)

type memStore struct {
	mu   sync.Mutex
	jobs map[string]Job
	err  error
}

func newMemStore() *memStore { return &memStore{jobs: map[string]Job{}} }

func (m *memStore) Enqueue(_ context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.jobs[job.ID] = job
	return nil
}

func (m *memStore) Claim(_ context.Context, queue, workerID string, now time.Time, lease time.Duration) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, j := range m.jobs {
		runnable := (j.State == StateQueued && !j.RunAt.After(now)) || (j.State == StateActive && !j.LockedUntil.After(now))
		if j.Queue == queue && runnable {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return Job{}, ErrEmpty
	}
	sort.Strings(ids)
	j := m.jobs[ids[0]]
	j.State = StateActive
	j.Attempts++
	j.WorkerID = workerID
	j.ProcessedAt = now
	j.LockedUntil = now.Add(lease)
	m.jobs[j.ID] = j
	return j, nil
}

func (m *memStore) update(l Lease, fn func(*Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[l.JobID]
	if !ok {
		return ErrNotFound
	}
	if j.State != StateActive || j.WorkerID != l.WorkerID || j.Attempts != l.Attempt {
		return ErrLeaseLost
	}
	fn(&j)
	m.jobs[l.JobID] = j
	return nil
}

func (m *memStore) Complete(_ context.Context, l Lease, result json.RawMessage, now time.Time) error {
	return m.update(l, func(j *Job) { j.State, j.Result, j.FinishedAt = StateCompleted, result, now })
}

func (m *memStore) Retry(_ context.Context, l Lease, reason string, runAt time.Time) error {
	return m.update(l, func(j *Job) { j.State, j.FailedReason, j.RunAt = StateQueued, reason, runAt })
}

func (m *memStore) Fail(_ context.Context, l Lease, reason string, now time.Time) error {
	return m.update(l, func(j *Job) { j.State, j.FailedReason, j.FinishedAt = StateFailed, reason, now })
}

func (m *memStore) Get(_ context.Context, id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return j, nil
}

func (m *memStore) CountWaiting(_ context.Context, queue string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	n := 0
	for _, j := range m.jobs {
		if j.Queue == queue && j.State == StateQueued {
			n++
		}
	}
	return n, nil
}

func (m *memStore) Ping(context.Context) error { return m.err }

type recordingHandler struct {
	mu        sync.Mutex
	calls     int
	errs      []error
	result    json.RawMessage
	exhausted []error
}

func (h *recordingHandler) Handle(_ context.Context, _ Job) (json.RawMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if len(h.errs) > 0 {
		err := h.errs[0]
		h.errs = h.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return h.result, nil
}

func (h *recordingHandler) OnExhausted(_ context.Context, _ Job, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exhausted = append(h.exhausted, err)
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func setup(t *testing.T, h *recordingHandler) (*Queue, *Runner, *memStore, *fakeClock) {
	t.Helper()
	st := newMemStore()
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	q := New(st, DefaultPolicy())
	q.now = clock.now
	r := NewRunner(st, RunnerConfig{WorkerID: "w1", Lease: time.Minute})
	r.now = clock.now
	r.Register(TypeDecision, h)
	return q, r, st, clock
}

func TestSubmitAppliesPolicy(t *testing.T) {
	q, _, _, _ := setup(t, &recordingHandler{})
	job, err := q.Submit(context.Background(), TypeDecision, map[string]string{"aiAgentId": "Agent_A"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.ID == "" || job.Queue != "GameAI" || job.State != StateQueued {
		t.Fatalf("unexpected job %+v", job)
	}
	if job.MaxAttempts != 3 || job.BackoffBase != 2*time.Second {
		t.Fatalf("unexpected policy on job: attempts=%d backoff=%s", job.MaxAttempts, job.BackoffBase)
	}
	n, _ := q.Waiting(context.Background())
	if n != 1 {
		t.Fatalf("expected 1 waiting job, got %d", n)
	}
}

func TestSubmitPropagatesStoreError(t *testing.T) {
	q, _, st, _ := setup(t, &recordingHandler{})
	st.err = errors.New("connection refused")
	if _, err := q.Submit(context.Background(), TypeDecision, struct{}{}); err == nil {
		t.Fatalf("expected enqueue error")
	}
}

func TestRunnerCompletesJob(t *testing.T) {
	h := &recordingHandler{result: json.RawMessage(`{"success":true}`)}
	q, r, _, _ := setup(t, h)
	ctx := context.Background()
	job, _ := q.Submit(ctx, TypeDecision, struct{}{})

	ran, err := r.RunOnce(ctx, "w1/0")
	if err != nil || !ran {
		t.Fatalf("run once: ran=%v err=%v", ran, err)
	}
	got, _ := q.Get(ctx, job.ID)
	if got.State != StateCompleted || string(got.Result) != `{"success":true}` || got.Attempts != 1 {
		t.Fatalf("unexpected job after run: %+v", got)
	}
	if ran, _ := r.RunOnce(ctx, "w1/0"); ran {
		t.Fatalf("expected empty queue")
	}
}

func TestRunnerRetriesWithBackoffThenExhausts(t *testing.T) {
	boom := errors.New("publish failed")
	h := &recordingHandler{errs: []error{boom, boom, boom}}
	q, r, _, clock := setup(t, h)
	ctx := context.Background()
	job, _ := q.Submit(ctx, TypeDecision, struct{}{})

	if ran, _ := r.RunOnce(ctx, "w"); !ran {
		t.Fatalf("expected first attempt")
	}
	got, _ := q.Get(ctx, job.ID)
	if got.State != StateQueued || !got.RunAt.Equal(clock.t.Add(2*time.Second)) {
		t.Fatalf("expected retry in 2s, got %+v", got)
	}
	if ran, _ := r.RunOnce(ctx, "w"); ran {
		t.Fatalf("job ran before its backoff elapsed")
	}

	clock.t = clock.t.Add(2 * time.Second)
	r.RunOnce(ctx, "w")
	got, _ = q.Get(ctx, job.ID)
	if !got.RunAt.Equal(clock.t.Add(4 * time.Second)) {
		t.Fatalf("expected second backoff of 4s, run at %s", got.RunAt)
	}

	clock.t = clock.t.Add(4 * time.Second)
	r.RunOnce(ctx, "w")
	got, _ = q.Get(ctx, job.ID)
	if got.State != StateFailed || got.FailedReason != "publish failed" || got.Attempts != 3 {
		t.Fatalf("expected exhausted job, got %+v", got)
	}
	if h.calls != 3 || len(h.exhausted) != 1 {
		t.Fatalf("calls=%d exhausted=%d", h.calls, len(h.exhausted))
	}
}

func TestRunnerReclaimsStalledJob(t *testing.T) {
	h := &recordingHandler{}
	q, r, st, clock := setup(t, h)
	ctx := context.Background()
	job, _ := q.Submit(ctx, TypeDecision, struct{}{})

	// A worker claims the job and dies without reporting back.
	if _, err := st.Claim(ctx, "GameAI", "dead", clock.t, time.Minute); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if ran, _ := r.RunOnce(ctx, "w"); ran {
		t.Fatalf("leased job must not be claimable")
	}
	clock.t = clock.t.Add(time.Minute)
	if ran, _ := r.RunOnce(ctx, "w"); !ran {
		t.Fatalf("expected stalled job to be reclaimed")
	}
	got, _ := q.Get(ctx, job.ID)
	if got.State != StateCompleted || got.Attempts != 2 {
		t.Fatalf("unexpected job %+v", got)
	}
}

func TestRunnerFailsStalledJobPastCeiling(t *testing.T) {
	h := &recordingHandler{}
	q, r, st, clock := setup(t, h)
	ctx := context.Background()
	job, _ := q.Submit(ctx, TypeDecision, struct{}{})
	for i := 0; i < 3; i++ {
		if _, err := st.Claim(ctx, "GameAI", "dead", clock.t, time.Second); err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		clock.t = clock.t.Add(time.Second)
	}
	r.RunOnce(ctx, "w")
	got, _ := q.Get(ctx, job.ID)
	if got.State != StateFailed || h.calls != 0 || len(h.exhausted) != 1 {
		t.Fatalf("state=%s calls=%d exhausted=%d", got.State, h.calls, len(h.exhausted))
	}
}

// takeoverHandler lets another worker reclaim the job while Handle runs.
type takeoverHandler struct {
	recordingHandler
	st    *memStore
	clock *fakeClock
	err   error
}

func (h *takeoverHandler) Handle(ctx context.Context, job Job) (json.RawMessage, error) {
	h.clock.t = h.clock.t.Add(2 * time.Minute)
	if _, err := h.st.Claim(ctx, job.Queue, "w2/0", h.clock.t, time.Minute); err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()
	return json.RawMessage(`{"success":true}`), h.err
}

func TestRunnerDropsOutcomeAfterLeaseLost(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		maxAttempts int
	}{
		{"complete", nil, 3},
		{"retry", errors.New("publish failed"), 3},
		{"fail", errors.New("publish failed"), 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := newMemStore()
			clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
			q := New(st, Policy{MaxAttempts: tc.maxAttempts})
			q.now = clock.now
			h := &takeoverHandler{st: st, clock: clock, err: tc.err}
			r := NewRunner(st, RunnerConfig{WorkerID: "w1", Lease: time.Minute})
			r.now = clock.now
			r.Register(TypeDecision, h)
			ctx := context.Background()
			job, _ := q.Submit(ctx, TypeDecision, struct{}{})

			if ran, err := r.RunOnce(ctx, "w1/0"); !ran || err != nil {
				t.Fatalf("run once: ran=%v err=%v", ran, err)
			}
			got, _ := q.Get(ctx, job.ID)
			if got.State != StateActive || got.WorkerID != "w2/0" || got.Attempts != 2 {
				t.Fatalf("stale worker overwrote the new claim: %+v", got)
			}
			if len(h.exhausted) != 0 {
				t.Fatalf("OnExhausted ran for a job owned by another worker")
			}
		})
	}
}

func TestHandlerDeadlineEndsBeforeLease(t *testing.T) {
	if d := handlerDeadline(time.Minute); d != 48*time.Second {
		t.Fatalf("deadline = %s", d)
	}
}

func TestRunnerFailsUnknownType(t *testing.T) {
	q, r, _, _ := setup(t, &recordingHandler{})
	ctx := context.Background()
	job, _ := q.Submit(ctx, Type("Mystery"), struct{}{})
	r.RunOnce(ctx, "w")
	got, _ := q.Get(ctx, job.ID)
	if got.State != StateFailed {
		t.Fatalf("expected failed job, got %s", got.State)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	_, r, _, _ := setup(t, &recordingHandler{})
	r.cfg.PollInterval = 5 * time.Millisecond
	r.cfg.Concurrency = 3
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("runner did not stop")
	}
}

func TestBackoff(t *testing.T) {
	base := 2 * time.Second
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got := Backoff(base, i+1); got != w {
			t.Fatalf("attempt %d: got %s want %s", i+1, got, w)
		}
	}
}
