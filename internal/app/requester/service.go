// Package requester accepts decision requests from game clients and puts them
// on the job queue.
package requester

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"farmhands/internal/decision"
	"farmhands/internal/ids"
	"farmhands/internal/queue"
)

const (
	StatusQueued    = "queued"
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

type Service struct {
	queue *queue.Queue
	now   func() time.Time
}

func NewService(q *queue.Queue) *Service {
	return &Service{queue: q, now: time.Now}
}

// SubmitDecision queues one decision job. It does not deduplicate; clients
// gate their own requests.
func (s *Service) SubmitDecision(ctx context.Context, req decision.Request) (*JobHandle, error) {
	req.AIAgentID = strings.TrimSpace(req.AIAgentID)
	if req.AIAgentID == "" {
		return nil, ErrInvalidRequest
	}
	b := req.GameState.MapBounds
	if b.Width <= 0 || b.Height <= 0 {
		return nil, ErrInvalidRequest
	}
	job, err := s.queue.Submit(ctx, queue.TypeDecision, req)
	if err != nil {
		return nil, &EnqueueError{Err: err}
	}
	return &JobHandle{JobID: job.ID, Status: StatusQueued, Message: "AI decision job queued"}, nil
}

func (s *Service) JobStatus(ctx context.Context, id string) (*JobStatus, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrInvalidRequest
	}
	if !ids.Valid(id) {
		return nil, ErrJobNotFound
	}
	job, err := s.queue.Get(ctx, id)
	if errors.Is(err, queue.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	out := &JobStatus{
		ID:           job.ID,
		Name:         string(job.Type),
		Data:         job.Payload,
		State:        string(job.State),
		AttemptsMade: job.Attempts,
		ReturnValue:  job.Result,
		FailedReason: job.FailedReason,
		Timestamp:    millis(job.CreatedAt),
		ProcessedOn:  millis(job.ProcessedAt),
		FinishedOn:   millis(job.FinishedAt),
	}
	if len(out.ReturnValue) == 0 {
		out.ReturnValue = json.RawMessage("null")
	}
	return out, nil
}

// Health reports queue reachability. The returned Health is always usable;
// err is set when the backend could not be queried.
func (s *Service) Health(ctx context.Context) (*Health, error) {
	h := &Health{Status: StatusHealthy, QueueName: s.queue.Name(), Timestamp: s.now().UnixMilli()}
	waiting, err := s.queue.Waiting(ctx)
	if err != nil {
		h.Status = StatusUnhealthy
		h.Error = err.Error()
		return h, err
	}
	h.WaitingJobs = waiting
	return h, nil
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
