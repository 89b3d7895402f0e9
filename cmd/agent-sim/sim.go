package main

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"farmhands/internal/agentclient"
	"farmhands/internal/app/requester"
	"farmhands/internal/config"
	"farmhands/internal/decision"
	"farmhands/internal/delivery"
	"farmhands/internal/geo"
)

const (
	submitTimeout = 10 * time.Second
	// historySent is how many past turns accompany a chat line.
	historySent = 10
)

var chatLines = []string{
	"Hello there!",
	"What are you working on today?",
	"Seen anything strange around the farm?",
	"Any tips for a newcomer?",
}

type submitter interface {
	SubmitDecision(ctx context.Context, req decision.Request) (requester.JobHandle, error)
}

type channel interface {
	Subscribe(agentID string, h delivery.DecisionHandler)
	Unsubscribe(agentID string)
	StartChat(agentID, agentName string, h delivery.ChatHandler) error
	SendChat(agentID, message string, history []delivery.ChatTurn) error
	EndChat(agentID string) error
	Done() <-chan struct{}
}

type eventKind int

const (
	evDecision eventKind = iota
	evDecisionError
	evSubmitFailed
	evChatReply
	evChatError
)

type event struct {
	kind     eventKind
	agentID  string
	decision delivery.DecisionEvent
	seq      int64
	reply    string
	err      error
}

type agentStats struct {
	requests  int
	decisions int
	fallbacks int
	errors    int
	chats     int
}

type simulator struct {
	cfg    config.SimConfig
	api    submitter
	ch     channel
	bounds geo.Bounds
	player geo.Vec
	rng    *rand.Rand

	agents  map[string]*agentclient.Agent
	order   []string
	stats   map[string]*agentStats
	history map[string][]delivery.ChatTurn
	events  chan event
	ctx     context.Context
}

type dispatcher struct {
	s *simulator
}

func (d dispatcher) Dispatch(req decision.Request) {
	d.s.stats[req.AIAgentID].requests++
	go d.s.submit(req)
}

func newSimulator(cfg config.SimConfig, interval time.Duration, api submitter, ch channel) *simulator {
	bounds := geo.Bounds{Width: cfg.MapWidth, Height: cfg.MapHeight}
	s := &simulator{
		cfg:     cfg,
		api:     api,
		ch:      ch,
		bounds:  bounds,
		player:  geo.Center(bounds).Add(geo.Vec{X: 100}),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		agents:  map[string]*agentclient.Agent{},
		stats:   map[string]*agentStats{},
		history: map[string][]delivery.ChatTurn{},
		events:  make(chan event, 64),
		ctx:     context.Background(),
	}
	for _, id := range cfg.Agents {
		start := geo.Vec{X: s.rng.Float64() * bounds.Width, Y: s.rng.Float64() * bounds.Height}
		s.agents[id] = agentclient.NewAgent(agentclient.AgentConfig{
			ID:       id,
			Start:    start,
			Bounds:   bounds,
			Speed:    cfg.Speed,
			Interval: interval,
		}, dispatcher{s})
		s.order = append(s.order, id)
		s.stats[id] = &agentStats{}
	}
	return s
}

func (s *simulator) run(ctx context.Context) {
	s.ctx = ctx
	for _, id := range s.order {
		id := id
		s.ch.Subscribe(id, func(ev delivery.DecisionEvent, err error) {
			if err != nil {
				s.post(event{kind: evDecisionError, agentID: id, seq: ev.RequestSeq, err: err})
				return
			}
			s.post(event{kind: evDecision, agentID: id, decision: ev})
		})
	}
	defer func() {
		for _, id := range s.order {
			s.ch.Unsubscribe(id)
		}
	}()

	tick := time.NewTicker(time.Second / time.Duration(s.cfg.TickHz))
	defer tick.Stop()
	var chatC <-chan time.Time
	if s.cfg.ChatInterval > 0 {
		chatTick := time.NewTicker(s.cfg.ChatInterval)
		defer chatTick.Stop()
		chatC = chatTick.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ch.Done():
			log.Error().Msg("delivery connection closed")
			return
		case ev := <-s.events:
			s.apply(ev, time.Now())
		case now := <-tick.C:
			s.step(now)
		case <-chatC:
			s.startChat()
		}
	}
}

func (s *simulator) step(now time.Time) {
	for _, id := range s.order {
		a := s.agents[id]
		before := a.State()
		f := a.Update(now, s.player)
		if f.Trigger != "" {
			log.Debug().Str("agent_id", id).Str("animation", string(f.Trigger)).Int("step", f.Index).Msg("animation started")
		}
		if f.Finished {
			log.Debug().Str("agent_id", id).Float64("x", a.Position().X).Float64("y", a.Position().Y).Msg("sequence finished")
		}
		if after := a.State(); after != before {
			log.Debug().Str("agent_id", id).Str("from", before.String()).Str("to", after.String()).Msg("agent state changed")
		}
	}
}

func (s *simulator) apply(ev event, now time.Time) {
	a, ok := s.agents[ev.agentID]
	if !ok {
		return
	}
	st := s.stats[ev.agentID]
	switch ev.kind {
	case evDecision:
		if !a.OnDecision(ev.decision, now) {
			log.Debug().Str("agent_id", ev.agentID).Int64("request_seq", ev.decision.RequestSeq).Msg("decision discarded")
			return
		}
		st.decisions++
		if ev.decision.Decision.Source == decision.SourceFallback {
			st.fallbacks++
		}
		log.Info().
			Str("agent_id", ev.agentID).
			Str("source", string(ev.decision.Decision.Source)).
			Int("steps", len(ev.decision.Decision.Sequence)).
			Float64("duration_s", ev.decision.Decision.TotalDuration()).
			Str("reasoning", ev.decision.Decision.Reasoning).
			Msg("decision applied")
	case evDecisionError, evSubmitFailed:
		st.errors++
		a.OnError(ev.seq, now)
		log.Warn().Err(ev.err).Str("agent_id", ev.agentID).Int64("request_seq", ev.seq).Msg("decision request failed")
	case evChatReply:
		s.history[ev.agentID] = append(s.history[ev.agentID], delivery.ChatTurn{Sender: delivery.SenderAI, Content: ev.reply, Timestamp: now.UnixMilli()})
		log.Info().Str("agent_id", ev.agentID).Str("reply", ev.reply).Msg("chat reply")
		s.endChat(a)
	case evChatError:
		log.Warn().Err(ev.err).Str("agent_id", ev.agentID).Msg("chat failed")
		s.endChat(a)
	}
}

func (s *simulator) submit(req decision.Request) {
	ctx, cancel := context.WithTimeout(s.ctx, submitTimeout)
	defer cancel()
	handle, err := s.api.SubmitDecision(ctx, req)
	if err != nil {
		s.post(event{kind: evSubmitFailed, agentID: req.AIAgentID, seq: req.RequestSeq, err: err})
		return
	}
	log.Debug().Str("agent_id", req.AIAgentID).Str("job_id", handle.JobID).Int64("request_seq", req.RequestSeq).Msg("decision requested")
}

func (s *simulator) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *simulator) startChat() {
	var idle []*agentclient.Agent
	for _, id := range s.order {
		if a := s.agents[id]; a.State() != agentclient.StateInChat {
			idle = append(idle, a)
		}
	}
	if len(idle) == 0 {
		return
	}
	a := idle[s.rng.Intn(len(idle))]
	id := a.ID()
	err := s.ch.StartChat(id, id, func(resp delivery.ChatResponse, err error) {
		if err != nil {
			s.post(event{kind: evChatError, agentID: id, err: err})
			return
		}
		s.post(event{kind: evChatReply, agentID: id, reply: resp.Message})
	})
	if err != nil {
		log.Warn().Err(err).Str("agent_id", id).Msg("chat start failed")
		return
	}
	a.BeginChat()
	s.stats[id].chats++

	line := chatLines[s.rng.Intn(len(chatLines))]
	history := s.history[id]
	if len(history) > historySent {
		history = history[len(history)-historySent:]
	}
	if err := s.ch.SendChat(id, line, history); err != nil {
		log.Warn().Err(err).Str("agent_id", id).Msg("chat send failed")
		s.endChat(a)
		return
	}
	s.history[id] = append(history, delivery.ChatTurn{Sender: delivery.SenderPlayer, Content: line, Timestamp: time.Now().UnixMilli()})
	log.Info().Str("agent_id", id).Str("message", line).Msg("chat message sent")
}

func (s *simulator) endChat(a *agentclient.Agent) {
	if err := s.ch.EndChat(a.ID()); err != nil {
		log.Warn().Err(err).Str("agent_id", a.ID()).Msg("chat end failed")
	}
	a.EndChat()
}

func (s *simulator) report() {
	for _, id := range s.order {
		st := s.stats[id]
		a := s.agents[id]
		log.Info().
			Str("agent_id", id).
			Int("requests", st.requests).
			Int("decisions", st.decisions).
			Int("fallbacks", st.fallbacks).
			Int("errors", st.errors).
			Int("chats", st.chats).
			Float64("distance_to_center", geo.DistanceToCenter(a.Position(), s.bounds)).
			Msg("agent summary")
	}
}
