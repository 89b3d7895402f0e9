package agentclient

import (
	"time"

	"farmhands/internal/decision"
	"farmhands/internal/delivery"
	"farmhands/internal/geo"
)

type State int

const (
	StateIdle State = iota
	StateAwaitingDecision
	StateExecuting
	StateInChat
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingDecision:
		return "awaiting_decision"
	case StateExecuting:
		return "executing"
	case StateInChat:
		return "in_chat"
	default:
		return "unknown"
	}
}

// Dispatcher sends a decision request without blocking the caller. Failures
// come back through Agent.OnError.
type Dispatcher interface {
	Dispatch(req decision.Request)
}

type AgentConfig struct {
	ID       string
	Start    geo.Vec
	Bounds   geo.Bounds
	Speed    float64 // pixels per second
	Interval time.Duration
}

// Agent is the per-entity state machine. Every method must be called from the
// same loop.
type Agent struct {
	id     string
	pos    geo.Vec
	bounds geo.Bounds
	speed  float64

	state      State
	gate       *Gate
	exec       *Executor
	dispatcher Dispatcher
	applied    int64
	lastTick   time.Time
	animation  decision.Animation
}

func NewAgent(cfg AgentConfig, d Dispatcher) *Agent {
	return &Agent{
		id:         cfg.ID,
		pos:        cfg.Bounds.Clamp(cfg.Start),
		bounds:     cfg.Bounds,
		speed:      cfg.Speed,
		gate:       NewGate(cfg.Interval),
		exec:       NewExecutor(),
		dispatcher: d,
	}
}

func (a *Agent) ID() string { return a.id }
func (a *Agent) Position() geo.Vec { return a.pos }
func (a *Agent) State() State { return a.state }
func (a *Agent) Gate() *Gate { return a.gate }
func (a *Agent) Executor() *Executor { return a.exec }

// Animation is the animation started by the current step, empty while
// moving or idle.
func (a *Agent) Animation() decision.Animation { return a.animation }

// Update runs one frame: plays the loaded sequence, moves the agent and asks
// for a new decision when the gate allows it.
func (a *Agent) Update(now time.Time, player geo.Vec) Frame {
	var dt float64
	if !a.lastTick.IsZero() {
		dt = now.Sub(a.lastTick).Seconds()
	}
	a.lastTick = now
	if a.state == StateInChat {
		return Frame{Index: -1}
	}

	f := a.exec.Tick(now)
	if f.Trigger != "" {
		a.animation = f.Trigger
	}
	if !f.Move.IsZero() {
		a.animation = ""
		a.pos = a.bounds.Clamp(a.pos.Add(f.Move.Scale(a.speed * dt)))
	}
	if f.Finished {
		a.animation = ""
		a.settle()
		a.gate.SignalReady()
	}
	a.RequestDecision(now, player)
	return f
}

// RequestDecision dispatches a request when the gate allows one. It reports
// whether a request went out.
func (a *Agent) RequestDecision(now time.Time, player geo.Vec) bool {
	if a.state == StateInChat {
		return false
	}
	seq, ok := a.gate.TryBegin(now)
	if !ok {
		return false
	}
	if a.state == StateIdle {
		a.state = StateAwaitingDecision
	}
	a.dispatcher.Dispatch(decision.Request{
		AIAgentID: a.id,
		GameState: decision.Context{
			AIPosition:     a.pos,
			PlayerPosition: player,
			MapBounds:      a.bounds,
		},
		RequestSeq: seq,
	})
	return true
}

// OnDecision applies a delivered decision. Events older than the newest one
// already applied are dropped; events without a sequence number are always
// taken.
func (a *Agent) OnDecision(ev delivery.DecisionEvent, now time.Time) bool {
	if ev.RequestSeq != 0 {
		if ev.RequestSeq <= a.applied {
			return false
		}
		a.applied = ev.RequestSeq
		a.gate.Resolve(ev.RequestSeq, now)
	}
	if a.state == StateInChat || len(ev.Decision.Sequence) == 0 {
		return false
	}
	a.exec.Load(ev.Decision, now)
	a.animation = ""
	a.state = StateExecuting
	return true
}

// OnError clears the waiting flag for a failed submission or an error event.
func (a *Agent) OnError(seq int64, now time.Time) {
	if seq != 0 && !a.gate.Fail(seq, now) {
		return
	}
	if a.state == StateAwaitingDecision {
		a.state = StateIdle
	}
}

// BeginChat stops the agent where it stands until EndChat.
func (a *Agent) BeginChat() {
	a.exec.Preempt()
	a.animation = ""
	a.state = StateInChat
}

// EndChat resumes autonomous behaviour and asks for a decision on the next
// frame.
func (a *Agent) EndChat() {
	if a.state != StateInChat {
		return
	}
	a.settle()
	a.gate.SignalReady()
}

// UserAction abandons the current sequence so a fresh decision is requested
// on the next frame.
func (a *Agent) UserAction() {
	if a.state == StateInChat {
		return
	}
	a.exec.Preempt()
	a.animation = ""
	a.settle()
	a.gate.SignalReady()
}

func (a *Agent) settle() {
	if a.gate.Waiting() {
		a.state = StateAwaitingDecision
		return
	}
	a.state = StateIdle
}
