package agentclient

import (
	"testing"
	"time"

	"farmhands/internal/decision"
	"farmhands/internal/delivery"
	"farmhands/internal/geo"
)

type recordingDispatcher struct {
	reqs []decision.Request
}

func (d *recordingDispatcher) Dispatch(req decision.Request) {
	d.reqs = append(d.reqs, req)
}

func newTestAgent(interval time.Duration) (*Agent, *recordingDispatcher) {
	d := &recordingDispatcher{}
	a := NewAgent(AgentConfig{
		ID:       "Agent_A",
		Start:    geo.Vec{X: 1000, Y: 1000},
		Bounds:   geo.Bounds{Width: 2000, Height: 2000},
		Speed:    60,
		Interval: interval,
	}, d)
	return a, d
}

func deliver(a *Agent, seq int64, d decision.Decision, now time.Time) bool {
	return a.OnDecision(delivery.DecisionEvent{AIAgentID: a.ID(), Decision: d, RequestSeq: seq}, now)
}

func TestAgentSubmitsOnceWithinAMillisecond(t *testing.T) {
	a, d := newTestAgent(30 * time.Second)
	player := geo.Vec{X: 10, Y: 10}

	first := a.RequestDecision(at(0), player)
	second := a.RequestDecision(t0.Add(500*time.Microsecond), player)
	if !first || second || len(d.reqs) != 1 {
		t.Fatalf("submissions = %d (first=%v second=%v)", len(d.reqs), first, second)
	}
	if a.State() != StateAwaitingDecision {
		t.Fatalf("state = %s", a.State())
	}
	req := d.reqs[0]
	if req.AIAgentID != "Agent_A" || req.RequestSeq != 1 || req.GameState.PlayerPosition != player {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestAgentPlaysDecisionAndMoves(t *testing.T) {
	a, d := newTestAgent(30 * time.Second)
	a.Update(at(0), geo.Vec{})
	if len(d.reqs) != 1 {
		t.Fatalf("no request on first frame")
	}
	dec := decision.Decision{Sequence: []decision.ActionStep{decision.Move(1, geo.East)}}
	if !deliver(a, 1, dec, at(0)) || a.State() != StateExecuting {
		t.Fatalf("decision not applied, state %s", a.State())
	}
	a.Update(at(500), geo.Vec{})
	if got := a.Position(); got.X != 1030 || got.Y != 1000 {
		t.Fatalf("position = %+v", got)
	}
}

func TestAgentRequestsImmediatelyAfterFinishing(t *testing.T) {
	a, d := newTestAgent(time.Minute)
	a.Update(at(0), geo.Vec{})
	deliver(a, 1, decision.Decision{Sequence: []decision.ActionStep{decision.Animate(decision.Dig, 2)}}, at(10))

	f := a.Update(at(20), geo.Vec{})
	if f.Trigger != decision.Dig || a.Animation() != decision.Dig {
		t.Fatalf("animation not triggered: %+v", f)
	}
	if len(d.reqs) != 1 {
		t.Fatalf("requested again during the sequence")
	}
	a.Update(at(2100), geo.Vec{})
	if len(d.reqs) != 2 || d.reqs[1].RequestSeq != 2 {
		t.Fatalf("no early request after the sequence finished: %d", len(d.reqs))
	}
	if a.State() != StateAwaitingDecision {
		t.Fatalf("state = %s", a.State())
	}
}

func TestAgentDiscardsStaleDecision(t *testing.T) {
	a, _ := newTestAgent(0)
	newer := decision.Decision{Sequence: []decision.ActionStep{decision.Move(2, geo.West)}}
	older := decision.Decision{Sequence: []decision.ActionStep{decision.Move(2, geo.East)}}

	if !deliver(a, 2, newer, at(0)) {
		t.Fatalf("newer decision rejected")
	}
	if deliver(a, 1, older, at(10)) {
		t.Fatalf("older decision applied after a newer one")
	}
	f := a.Executor().Tick(at(20))
	if f.Move != geo.MovementFromDirection(geo.West) {
		t.Fatalf("playing the wrong sequence: %+v", f)
	}
}

func TestAgentErrorClearsWaiting(t *testing.T) {
	a, d := newTestAgent(5 * time.Second)
	a.RequestDecision(at(0), geo.Vec{})
	a.OnError(1, at(100))
	if a.Gate().Waiting() || a.State() != StateIdle {
		t.Fatalf("still waiting after error, state %s", a.State())
	}
	a.Update(at(5200), geo.Vec{})
	if len(d.reqs) != 2 {
		t.Fatalf("no retry after the interval: %d requests", len(d.reqs))
	}
}

func TestAgentChatPreemptsSequence(t *testing.T) {
	a, d := newTestAgent(time.Minute)
	a.Update(at(0), geo.Vec{})
	deliver(a, 1, decision.Decision{Sequence: []decision.ActionStep{decision.Move(10, geo.North)}}, at(0))
	a.Update(at(500), geo.Vec{})

	a.BeginChat()
	before := a.Position()
	a.Update(at(3000), geo.Vec{})
	if a.Position() != before || a.State() != StateInChat || len(d.reqs) != 1 {
		t.Fatalf("agent acted during chat: state %s, %d requests", a.State(), len(d.reqs))
	}
	if deliver(a, 2, decision.Decision{Sequence: []decision.ActionStep{decision.Move(2, geo.East)}}, at(3100)) {
		t.Fatalf("decision applied during chat")
	}

	a.EndChat()
	a.Update(at(3200), geo.Vec{})
	if len(d.reqs) != 2 {
		t.Fatalf("no request after chat ended: %d", len(d.reqs))
	}
}

func TestAgentUserActionDiscardsSequence(t *testing.T) {
	a, d := newTestAgent(time.Minute)
	a.Update(at(0), geo.Vec{})
	deliver(a, 1, decision.Decision{Sequence: []decision.ActionStep{decision.Move(10, geo.North)}}, at(0))

	a.UserAction()
	if a.Executor().Active() {
		t.Fatalf("sequence still active after user action")
	}
	a.Update(at(100), geo.Vec{})
	if len(d.reqs) != 2 || a.State() != StateAwaitingDecision {
		t.Fatalf("user action did not trigger a request: %d, %s", len(d.reqs), a.State())
	}
}
