package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"farmhands/internal/delivery"
	"farmhands/internal/llm"
	"farmhands/internal/profile"
	"farmhands/internal/queue"
)

// Publisher is the slice of delivery.Publisher the chat worker needs.
type Publisher interface {
	Unicast(ctx context.Context, connID, event string, payload any) error
	Now() int64
}

type Profiles interface {
	Get() *profile.Profile
}

type Config struct {
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

const defaultTimeout = 15 * time.Second

var defaultFallbacks = []string{"Hmm, let me think about that."}

// Result is stored as the job's return value.
type Result struct {
	Success bool   `json:"success"`
	Reply   string `json:"reply,omitempty"`
	Source  string `json:"source,omitempty"`
	Error   string `json:"error,omitempty"`
}

type Worker struct {
	model    llm.Completer
	profiles Profiles
	sessions *Sessions
	pub      Publisher
	cfg      Config

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewWorker(model llm.Completer, profiles Profiles, sessions *Sessions, pub Publisher, cfg Config) *Worker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Worker{
		model:    model,
		profiles: profiles,
		sessions: sessions,
		pub:      pub,
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Handle answers one player line. A model failure is answered with a canned
// line; only a failed unicast is returned for retry. Turns are stored after
// the reply is out so a retry does not duplicate them.
func (w *Worker) Handle(ctx context.Context, job queue.Job) (json.RawMessage, error) {
	var req Request
	if err := json.Unmarshal(job.Payload, &req); err != nil || req.ConnID == "" || req.AgentID == "" {
		log.Error().Err(err).Str("job_id", job.ID).Msg("chat job has no usable payload")
		return json.Marshal(Result{Error: "invalid_payload"})
	}
	logger := log.With().
		Str("job_id", job.ID).
		Str("job_type", string(job.Type)).
		Str("agent_id", req.AgentID).
		Str("conn_id", req.ConnID).
		Int("attempt", job.Attempts).
		Logger()

	p := w.profiles.Get()
	sess, ok := w.sessions.Ensure(req.ConnID, req.AgentID, req.AgentName, req.History)
	if !ok {
		logger.Info().Msg("chat closed before its reply was due, skipping")
		return json.Marshal(Result{Error: "session_closed"})
	}
	player := delivery.ChatTurn{Sender: delivery.SenderPlayer, Content: req.Message, Timestamp: w.pub.Now()}

	source := "model"
	reply, err := w.complete(ctx, p, sess, player)
	if err != nil {
		metricFallbackTotal.Add(1)
		logger.Warn().Err(err).Msg("chat model call failed, using fallback line")
		reply, source = w.fallbackLine(p), "fallback"
	}

	resp := delivery.ChatResponse{AgentID: req.AgentID, Message: reply, Timestamp: w.pub.Now()}
	if err := w.pub.Unicast(ctx, req.ConnID, delivery.EventChatResponse, resp); err != nil {
		metricPublishErrors.Add(1)
		return nil, fmt.Errorf("publish chat response: %w", err)
	}
	metricRepliesTotal.Add(1)
	n := w.sessions.Append(req.ConnID, req.AgentID, player,
		delivery.ChatTurn{Sender: delivery.SenderAI, Content: reply, Timestamp: resp.Timestamp})
	logger.Info().Str("source", source).Int("turns", n).Msg("chat reply sent")
	return json.Marshal(Result{Success: true, Reply: reply, Source: source})
}

func (w *Worker) complete(ctx context.Context, p *profile.Profile, sess Session, player delivery.ChatTurn) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()
	reply, err := w.model.Complete(callCtx, llm.Request{
		Messages:    BuildPrompt(p, sess, player),
		Temperature: w.cfg.Temperature,
		MaxTokens:   w.cfg.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", llm.ErrEmptyResponse
	}
	return reply, nil
}

func (w *Worker) fallbackLine(p *profile.Profile) string {
	lines := p.Chat.Fallbacks
	if len(lines) == 0 {
		lines = defaultFallbacks
	}
	w.rngMu.Lock()
	defer w.rngMu.Unlock()
	return lines[w.rng.Intn(len(lines))]
}

// OnExhausted tells the player the agent could not answer.
func (w *Worker) OnExhausted(ctx context.Context, job queue.Job, cause error) {
	metricExhaustedTotal.Add(1)
	var req Request
	if err := json.Unmarshal(job.Payload, &req); err != nil || req.ConnID == "" {
		log.Error().Str("job_id", job.ID).Msg("exhausted chat job has no connection to notify")
		return
	}
	msg := delivery.ChatError{AgentID: req.AgentID, Error: "chat_failed", Timestamp: w.pub.Now()}
	if err := w.pub.Unicast(ctx, req.ConnID, delivery.EventChatError, msg); err != nil {
		metricPublishErrors.Add(1)
		log.Error().Err(err).Str("job_id", job.ID).Msg("publish chat error failed")
		return
	}
	log.Warn().Err(cause).Str("job_id", job.ID).Str("agent_id", req.AgentID).Msg("chat job exhausted, error sent")
}

// BuildPrompt renders the persona and the last turns of the session ahead of
// the new player line.
func BuildPrompt(p *profile.Profile, sess Session, player delivery.ChatTurn) []llm.Message {
	persona := p.PersonaFor(sess.AgentID)
	name := sess.AgentName
	if name == "" {
		name = sess.AgentID
	}
	system := fmt.Sprintf("You are %s, a %s living on a small farm in a 2D game. Personality: %s. "+
		"Reply in one or two short sentences, stay in character, and never mention being an AI.",
		name, persona.Name, persona.Traits)

	turns := sess.Turns
	if n := p.Chat.HistoryTurns; n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	msgs := make([]llm.Message, 0, len(turns)+2)
	msgs = append(msgs, llm.System(system))
	for _, t := range turns {
		if t.Sender == delivery.SenderAI {
			msgs = append(msgs, llm.Assistant(t.Content))
		} else {
			msgs = append(msgs, llm.User(t.Content))
		}
	}
	return append(msgs, llm.User(player.Content))
}
