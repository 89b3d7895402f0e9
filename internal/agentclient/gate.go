package agentclient

import (
	"sync"
	"time"
)

// Gate keeps an agent to one outstanding decision request and spaces request
// cycles by a minimum interval.
type Gate struct {
	mu       sync.Mutex
	interval time.Duration
	waiting  bool
	ready    bool
	lastDone time.Time
	seq      int64
}

func NewGate(interval time.Duration) *Gate {
	return &Gate{interval: interval}
}

// TryBegin starts a request cycle and returns its sequence number. It refuses
// while a request is in flight, and inside the interval after the previous
// cycle unless SignalReady was called since.
func (g *Gate) TryBegin(now time.Time) (int64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.waiting {
		return 0, false
	}
	if !g.ready && !g.lastDone.IsZero() && now.Sub(g.lastDone) < g.interval {
		return 0, false
	}
	g.waiting = true
	g.ready = false
	g.seq++
	return g.seq, true
}

// Resolve ends the cycle seq with a delivered decision. Stale sequence
// numbers are ignored.
func (g *Gate) Resolve(seq int64, now time.Time) bool {
	return g.finish(seq, now)
}

// Fail ends the cycle seq after a failed submission or an error event so the
// agent can ask again after the interval.
func (g *Gate) Fail(seq int64, now time.Time) bool {
	return g.finish(seq, now)
}

func (g *Gate) finish(seq int64, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.waiting || seq != g.seq {
		return false
	}
	g.waiting = false
	g.lastDone = now
	return true
}

// SignalReady lets the next TryBegin skip the interval.
func (g *Gate) SignalReady() {
	g.mu.Lock()
	g.ready = true
	g.mu.Unlock()
}

// SetInterval changes the spacing for later cycles.
func (g *Gate) SetInterval(d time.Duration) {
	g.mu.Lock()
	g.interval = d
	g.mu.Unlock()
}

func (g *Gate) Waiting() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waiting
}

// Seq is the number of the most recent cycle.
func (g *Gate) Seq() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seq
}
