// Package bus carries delivery envelopes from the workers that produce them to
// every hub that holds client connections.
package bus

import (
	"context"
	"encoding/json"
	"sync"
)

type Kind string

const (
	// Broadcast goes to every connected client.
	Broadcast Kind = "broadcast"
	// Unicast goes to the one connection named by ConnID.
	Unicast Kind = "unicast"
	// Control goes to every hub and is not forwarded to clients.
	Control Kind = "control"
)

type Envelope struct {
	Kind    Kind            `json:"kind"`
	Event   string          `json:"event"`
	ConnID  string          `json:"connId,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Bus delivers at most once to the subscribers present at publish time.
// There is no replay.
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	Subscribe() chan Envelope
	Unsubscribe(ch chan Envelope)
}

const subscriberBuffer = 64

// Local fans envelopes out inside one process. A subscriber that falls more
// than subscriberBuffer envelopes behind misses the overflow.
type Local struct {
	mu       sync.Mutex
	watchers map[chan Envelope]struct{}
	closed   bool
}

func NewLocal() *Local {
	return &Local{watchers: map[chan Envelope]struct{}{}}
}

func (b *Local) Publish(_ context.Context, env Envelope) error {
	metricPublishedTotal.Add(1)
	b.fanOut(env)
	return nil
}

func (b *Local) fanOut(env Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for ch := range b.watchers {
		select {
		case ch <- env:
		default:
			metricDroppedTotal.Add(1)
		}
	}
}

func (b *Local) Subscribe() chan Envelope {
	ch := make(chan Envelope, subscriberBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.watchers[ch] = struct{}{}
	return ch
}

func (b *Local) Unsubscribe(ch chan Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.watchers[ch]; ok {
		delete(b.watchers, ch)
		close(ch)
	}
}

func (b *Local) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.watchers {
		close(ch)
		delete(b.watchers, ch)
	}
}
