package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Handler processes one job type. Handle returns an error only for failures
// worth retrying; the job's result is stored on success. OnExhausted runs once
// when the last allowed attempt has failed.
type Handler interface {
	Handle(ctx context.Context, job Job) (json.RawMessage, error)
	OnExhausted(ctx context.Context, job Job, err error)
}

type RunnerConfig struct {
	Queue        string
	WorkerID     string
	Concurrency  int
	PollInterval time.Duration
	Lease        time.Duration
}

var errStalled = errors.New("job stalled past its attempt ceiling")

// Runner is the consumer side: a fixed pool of goroutines claiming jobs from
// a Store and dispatching them by type.
type Runner struct {
	store    Store
	cfg      RunnerConfig
	handlers map[Type]Handler
	now      func() time.Time
}

func NewRunner(store Store, cfg RunnerConfig) *Runner {
	if cfg.Queue == "" {
		cfg.Queue = DefaultPolicy().Queue
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 2 * time.Minute
	}
	return &Runner{store: store, cfg: cfg, handlers: map[Type]Handler{}, now: time.Now}
}

func (r *Runner) Register(t Type, h Handler) {
	r.handlers[t] = h
}

// Run blocks until ctx is done and all in-flight jobs have returned.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			r.loop(ctx, slot)
		}(i)
	}
	wg.Wait()
}

func (r *Runner) loop(ctx context.Context, slot int) {
	workerID := fmt.Sprintf("%s/%d", r.cfg.WorkerID, slot)
	for {
		if ctx.Err() != nil {
			return
		}
		ran, err := r.RunOnce(ctx, workerID)
		if err != nil && ctx.Err() == nil {
			metricStoreErrorsTotal.Add(1)
			log.Error().Err(err).Str("worker_id", workerID).Msg("queue claim failed")
		}
		if ran {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.cfg.PollInterval):
		}
	}
}

// RunOnce claims and processes at most one job. It reports whether a job was
// processed.
func (r *Runner) RunOnce(ctx context.Context, workerID string) (bool, error) {
	job, err := r.store.Claim(ctx, r.cfg.Queue, workerID, r.now().UTC(), r.cfg.Lease)
	if errors.Is(err, ErrEmpty) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	metricClaimedTotal.Add(1)
	r.process(ctx, job)
	return true, nil
}

func (r *Runner) process(ctx context.Context, job Job) {
	logger := log.With().
		Str("job_id", job.ID).
		Str("job_type", string(job.Type)).
		Int("attempt", job.Attempts).
		Logger()

	h := r.handlers[job.Type]
	if h == nil {
		_ = r.fail(ctx, job, fmt.Errorf("no handler for job type %q", job.Type))
		return
	}
	if job.Attempts > job.MaxAttempts {
		// The previous holder's lease ran out after its last attempt.
		metricStalledTotal.Add(1)
		if r.fail(ctx, job, errStalled) {
			h.OnExhausted(ctx, job, errStalled)
		}
		return
	}

	metricInFlight.Add(1)
	jobCtx, cancel := context.WithTimeout(ctx, handlerDeadline(r.cfg.Lease))
	result, err := h.Handle(jobCtx, job)
	cancel()
	metricInFlight.Add(-1)

	if err == nil {
		if cerr := r.store.Complete(ctx, job.Lease(), result, r.now().UTC()); cerr != nil {
			r.storeError(logger, cerr, "mark job completed failed")
			return
		}
		metricCompletedTotal.Add(1)
		logger.Info().Msg("job completed")
		return
	}

	if job.Exhausted() {
		if r.fail(ctx, job, err) {
			h.OnExhausted(ctx, job, err)
		}
		return
	}
	delay := Backoff(job.BackoffBase, job.Attempts)
	if rerr := r.store.Retry(ctx, job.Lease(), err.Error(), r.now().UTC().Add(delay)); rerr != nil {
		r.storeError(logger, rerr, "schedule job retry failed")
		return
	}
	metricRetryTotal.Add(1)
	logger.Warn().Err(err).Dur("backoff", delay).Msg("job failed, retry scheduled")
}

// fail marks the job failed. It returns false only when the lease was lost,
// in which case the job belongs to another worker and is not exhausted here.
func (r *Runner) fail(ctx context.Context, job Job, cause error) bool {
	logger := log.With().
		Str("job_id", job.ID).
		Str("job_type", string(job.Type)).
		Int("attempt", job.Attempts).
		Logger()
	if err := r.store.Fail(ctx, job.Lease(), cause.Error(), r.now().UTC()); err != nil {
		r.storeError(logger, err, "mark job failed failed")
		return !errors.Is(err, ErrLeaseLost)
	}
	metricFailedTotal.Add(1)
	logger.Error().Err(cause).Msg("job failed permanently")
	return true
}

func (r *Runner) storeError(logger zerolog.Logger, err error, msg string) {
	if errors.Is(err, ErrLeaseLost) {
		metricLeaseLostTotal.Add(1)
		logger.Warn().Err(err).Msg("job reclaimed by another worker, dropping outcome")
		return
	}
	metricStoreErrorsTotal.Add(1)
	logger.Error().Err(err).Msg(msg)
}

// handlerDeadline leaves a fifth of the lease to report the outcome before
// the job becomes claimable again.
func handlerDeadline(lease time.Duration) time.Duration {
	return lease - lease/5
}
