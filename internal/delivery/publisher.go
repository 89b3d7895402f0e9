package delivery

import (
	"context"
	"encoding/json"
	"time"

	"farmhands/internal/bus"
	"farmhands/internal/decision"
)

// Publisher is what workers use to reach clients. It only talks to the bus,
// so it works the same whether or not the hub lives in the same process.
type Publisher struct {
	bus bus.Bus
	now func() time.Time
}

func NewPublisher(b bus.Bus) *Publisher {
	return &Publisher{bus: b, now: time.Now}
}

// DecisionMeta carries the request identifiers echoed back to the client.
type DecisionMeta struct {
	JobID      string
	RequestSeq int64
}

func (p *Publisher) PublishDecision(ctx context.Context, agentID string, d decision.Decision, meta DecisionMeta) error {
	return p.broadcast(ctx, EventDecision, DecisionEvent{
		AIAgentID:  agentID,
		Decision:   d,
		RequestSeq: meta.RequestSeq,
		JobID:      meta.JobID,
		Timestamp:  p.now().UnixMilli(),
	})
}

func (p *Publisher) PublishError(ctx context.Context, agentID, message string, meta DecisionMeta) error {
	return p.broadcast(ctx, EventError, ErrorEvent{
		AIAgentID:  agentID,
		Error:      message,
		RequestSeq: meta.RequestSeq,
		JobID:      meta.JobID,
		Timestamp:  p.now().UnixMilli(),
	})
}

// Unicast sends event to a single connection. It is not an error for the
// connection to be gone by the time the envelope arrives.
func (p *Publisher) Unicast(ctx context.Context, connID, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.bus.Publish(ctx, bus.Envelope{Kind: bus.Unicast, Event: event, ConnID: connID, Payload: raw})
}

// PublishChatClosed tells the hubs of every worker that a chat ended so none
// of them reopens it for a late job.
func (p *Publisher) PublishChatClosed(ctx context.Context, msg ChatClosed) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.bus.Publish(ctx, bus.Envelope{Kind: bus.Control, Event: EventChatClosed, Payload: raw})
}

func (p *Publisher) broadcast(ctx context.Context, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.bus.Publish(ctx, bus.Envelope{Kind: bus.Broadcast, Event: event, Payload: raw})
}

// Now is the publisher's clock in epoch milliseconds, for payloads built by
// callers.
func (p *Publisher) Now() int64 { return p.now().UnixMilli() }
