// Package aiworker turns queued decision requests into validated decisions
// and publishes them to clients.
package aiworker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"farmhands/internal/decision"
	"farmhands/internal/delivery"
	"farmhands/internal/llm"
	"farmhands/internal/profile"
	"farmhands/internal/queue"
	"farmhands/internal/variety"
)

var ErrInvalidPayload = errors.New("invalid_payload")

// Publisher is the slice of delivery.Publisher the worker needs.
type Publisher interface {
	PublishDecision(ctx context.Context, agentID string, d decision.Decision, meta delivery.DecisionMeta) error
	PublishError(ctx context.Context, agentID, message string, meta delivery.DecisionMeta) error
}

// Profiles returns the profile in effect for the next job.
type Profiles interface {
	Get() *profile.Profile
}

type Config struct {
	Temperature float64
	MaxTokens   int
	// ModelTimeout bounds one model call. Zero derives it from the active
	// schema's re-decision interval.
	ModelTimeout time.Duration
}

const (
	minModelTimeout     = 5 * time.Second
	defaultModelTimeout = 15 * time.Second
)

// Result is stored as the job's return value.
type Result struct {
	Success  bool               `json:"success"`
	Decision *decision.Decision `json:"decision,omitempty"`
	Source   decision.Source    `json:"source,omitempty"`
	Error    string             `json:"error,omitempty"`
}

type Worker struct {
	model    llm.Completer
	profiles Profiles
	tracker  variety.Tracker
	pub      Publisher
	cfg      Config

	rngMu sync.Mutex
	rng   *rand.Rand
}

func New(model llm.Completer, profiles Profiles, tracker variety.Tracker, pub Publisher, cfg Config) *Worker {
	return &Worker{
		model:    model,
		profiles: profiles,
		tracker:  tracker,
		pub:      pub,
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Handle runs one decision job. Model failures and bad model output end in a
// fallback decision; only a failed publish is returned as an error so the
// queue retries the job.
func (w *Worker) Handle(ctx context.Context, job queue.Job) (json.RawMessage, error) {
	metricJobsTotal.Add(1)
	var req decision.Request
	if err := json.Unmarshal(job.Payload, &req); err != nil || req.AIAgentID == "" {
		metricInvalidPayloadTotal.Add(1)
		log.Error().Err(err).Str("job_id", job.ID).Str("agent_id", req.AIAgentID).Msg("decision job has no usable payload")
		if req.AIAgentID != "" {
			// The agent is known, so release its client from waiting.
			meta := delivery.DecisionMeta{JobID: job.ID, RequestSeq: req.RequestSeq}
			if perr := w.pub.PublishError(ctx, req.AIAgentID, ErrInvalidPayload.Error(), meta); perr != nil {
				metricPublishErrorsTotal.Add(1)
				return nil, fmt.Errorf("publish decision error: %w", perr)
			}
		}
		return json.Marshal(Result{Error: ErrInvalidPayload.Error()})
	}
	logger := log.With().
		Str("job_id", job.ID).
		Str("job_type", string(job.Type)).
		Str("agent_id", req.AIAgentID).
		Int("attempt", job.Attempts).
		Logger()

	schema := w.profiles.Get().Active()
	d := w.decide(ctx, req, schema)
	logger.Info().
		Str("source", string(d.Source)).
		Str("schema", schema.Name).
		Int("steps", len(d.Sequence)).
		Msg("decision ready")

	if d.Source == decision.SourceModel && w.tracker != nil {
		if err := w.tracker.Record(ctx, req.AIAgentID, d.AnimationsUsed()); err != nil {
			logger.Warn().Err(err).Msg("record recent actions failed")
		}
	}

	meta := delivery.DecisionMeta{JobID: job.ID, RequestSeq: req.RequestSeq}
	if err := w.pub.PublishDecision(ctx, req.AIAgentID, d, meta); err != nil {
		metricPublishErrorsTotal.Add(1)
		return nil, fmt.Errorf("publish decision: %w", err)
	}
	return json.Marshal(Result{Success: true, Decision: &d, Source: d.Source})
}

// decide never fails: every path that does not yield a valid model decision
// falls back to a synthesized one.
func (w *Worker) decide(ctx context.Context, req decision.Request, schema decision.Schema) decision.Decision {
	p := w.profiles.Get()
	var recent []decision.Animation
	if schema.VarietyAware && w.tracker != nil {
		var err error
		recent, err = w.tracker.Recent(ctx, req.AIAgentID)
		if err != nil {
			log.Warn().Err(err).Str("agent_id", req.AIAgentID).Msg("load recent actions failed")
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, w.modelTimeout(schema))
	defer cancel()
	start := time.Now()
	raw, err := w.model.Complete(callCtx, llm.Request{
		Messages:    BuildPrompt(req.GameState, schema, p.Urgency, recent),
		Temperature: w.cfg.Temperature,
		MaxTokens:   w.cfg.MaxTokens,
	})
	metricModelLatencyMs.Set(time.Since(start).Milliseconds())
	if err != nil {
		metricModelErrorsTotal.Add(1)
		metricFallbackTotal.Add(1)
		log.Warn().Err(err).Str("agent_id", req.AIAgentID).Msg("model call failed, using fallback")
		return w.synthesize(req.GameState, schema, decision.CauseModelError)
	}

	d, err := decision.Validate([]byte(decision.StripFences(raw)), schema)
	if err != nil {
		metricInvalidOutputTotal.Add(1)
		metricFallbackTotal.Add(1)
		log.Warn().Err(err).Str("agent_id", req.AIAgentID).Msg("model output rejected, using fallback")
		return w.synthesize(req.GameState, schema, decision.CauseInvalidOutput)
	}
	metricModelDecisionsTotal.Add(1)
	d.Schema = schema.Name
	return d
}

func (w *Worker) synthesize(c decision.Context, s decision.Schema, cause decision.Cause) decision.Decision {
	w.rngMu.Lock()
	defer w.rngMu.Unlock()
	return decision.Synthesize(c, s, cause, w.rng)
}

func (w *Worker) modelTimeout(s decision.Schema) time.Duration {
	if w.cfg.ModelTimeout > 0 {
		return w.cfg.ModelTimeout
	}
	if s.RedecideInterval <= 0 {
		return defaultModelTimeout
	}
	if s.RedecideInterval < minModelTimeout {
		return minModelTimeout
	}
	return s.RedecideInterval
}

// OnExhausted tells the waiting client the request is over so it can clear
// its waiting state.
func (w *Worker) OnExhausted(ctx context.Context, job queue.Job, cause error) {
	metricExhaustedTotal.Add(1)
	var req decision.Request
	// A payload that only partly decodes still names the agent to notify.
	_ = json.Unmarshal(job.Payload, &req)
	if req.AIAgentID == "" {
		log.Error().Str("job_id", job.ID).Msg("exhausted decision job has no agent to notify")
		return
	}
	msg := fmt.Sprintf("decision failed after %d attempts", job.Attempts)
	meta := delivery.DecisionMeta{JobID: job.ID, RequestSeq: req.RequestSeq}
	if err := w.pub.PublishError(ctx, req.AIAgentID, msg, meta); err != nil {
		metricPublishErrorsTotal.Add(1)
		log.Error().Err(err).Str("job_id", job.ID).Str("agent_id", req.AIAgentID).Msg("publish decision error failed")
		return
	}
	log.Warn().Err(cause).Str("job_id", job.ID).Str("agent_id", req.AIAgentID).Msg("decision job exhausted, error published")
}
