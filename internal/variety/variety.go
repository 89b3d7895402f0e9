// Package variety keeps a short per-agent history of the animations an agent
// performed so prompts can steer the model away from repeats.
package variety

import (
	"context"
	"sync"

	"farmhands/internal/decision"
)

// DefaultWindow is how many recent animations are remembered per agent.
const DefaultWindow = 6

// Tracker is implemented by Memory and by the shared queue backends.
type Tracker interface {
	Recent(ctx context.Context, agentID string) ([]decision.Animation, error)
	Record(ctx context.Context, agentID string, used []decision.Animation) error
}

// Append adds used to prev and keeps the newest window entries.
func Append(prev, used []decision.Animation, window int) []decision.Animation {
	if window <= 0 {
		window = DefaultWindow
	}
	out := make([]decision.Animation, 0, len(prev)+len(used))
	out = append(out, prev...)
	out = append(out, used...)
	if len(out) > window {
		out = out[len(out)-window:]
	}
	return out
}

// Memory is a process-local Tracker. It is only authoritative when a single
// worker process serves all agents.
type Memory struct {
	mu     sync.Mutex
	window int
	recent map[string][]decision.Animation
}

func NewMemory(window int) *Memory {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Memory{window: window, recent: make(map[string][]decision.Animation)}
}

func (m *Memory) Recent(_ context.Context, agentID string) ([]decision.Animation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]decision.Animation(nil), m.recent[agentID]...), nil
}

func (m *Memory) Record(_ context.Context, agentID string, used []decision.Animation) error {
	if len(used) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recent[agentID] = Append(m.recent[agentID], used, m.window)
	return nil
}
