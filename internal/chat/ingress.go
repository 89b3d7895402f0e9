package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"farmhands/internal/delivery"
	"farmhands/internal/queue"
)

// Request is the payload of a ChatResponse job.
type Request struct {
	ConnID    string              `json:"connId"`
	AgentID   string              `json:"agentId"`
	AgentName string              `json:"agentName,omitempty"`
	Message   string              `json:"message"`
	History   []delivery.ChatTurn `json:"history,omitempty"`
}

// Submitter enqueues jobs; *queue.Queue satisfies it.
type Submitter interface {
	Submit(ctx context.Context, typ queue.Type, payload any) (queue.Job, error)
}

// Announcer spreads chat closes to the other workers; *delivery.Publisher
// satisfies it.
type Announcer interface {
	PublishChatClosed(ctx context.Context, msg delivery.ChatClosed) error
}

const announceTimeout = 2 * time.Second

// Ingress turns socket chat events into session changes and queued jobs. It
// implements delivery.ChatIngress.
type Ingress struct {
	sessions *Sessions
	queue    Submitter
	announce Announcer
}

// NewIngress builds an ingress. A nil announcer keeps closes local to this
// process.
func NewIngress(sessions *Sessions, q Submitter, announce Announcer) *Ingress {
	return &Ingress{sessions: sessions, queue: q, announce: announce}
}

func (in *Ingress) StartChat(_ context.Context, connID string, msg delivery.ChatStart) error {
	in.sessions.Start(connID, msg.AgentID, msg.AgentName)
	log.Debug().Str("conn_id", connID).Str("agent_id", msg.AgentID).Msg("chat started")
	return nil
}

func (in *Ingress) HandleMessage(ctx context.Context, connID string, msg delivery.ChatMessage) error {
	if msg.Message == "" {
		return fmt.Errorf("empty chat message for %s", msg.AgentID)
	}
	sess, ok := in.sessions.Get(connID, msg.AgentID)
	name := ""
	if ok {
		name = sess.AgentName
	}
	job, err := in.queue.Submit(ctx, queue.TypeChat, Request{
		ConnID:    connID,
		AgentID:   msg.AgentID,
		AgentName: name,
		Message:   msg.Message,
		History:   msg.ChatHistory,
	})
	if err != nil {
		metricEnqueueErrors.Add(1)
		return fmt.Errorf("enqueue chat reply: %w", err)
	}
	metricMessagesTotal.Add(1)
	log.Debug().Str("conn_id", connID).Str("agent_id", msg.AgentID).Str("job_id", job.ID).Msg("chat message queued")
	return nil
}

func (in *Ingress) EndChat(ctx context.Context, connID string, msg delivery.ChatEnd) error {
	in.sessions.End(connID, msg.AgentID)
	log.Debug().Str("conn_id", connID).Str("agent_id", msg.AgentID).Msg("chat ended")
	in.publishClosed(ctx, delivery.ChatClosed{ConnID: connID, AgentID: msg.AgentID})
	return nil
}

func (in *Ingress) DropConnection(connID string) {
	if n := in.sessions.DropConnection(connID); n > 0 {
		log.Debug().Str("conn_id", connID).Int("sessions", n).Msg("chat sessions dropped with connection")
	}
	in.publishClosed(context.Background(), delivery.ChatClosed{ConnID: connID})
}

// ChatClosed applies a close announced over the bus. The announcing process
// receives its own close too; ending twice is harmless.
func (in *Ingress) ChatClosed(msg delivery.ChatClosed) {
	if msg.AgentID == "" {
		in.sessions.DropConnection(msg.ConnID)
		return
	}
	in.sessions.End(msg.ConnID, msg.AgentID)
}

func (in *Ingress) publishClosed(ctx context.Context, msg delivery.ChatClosed) {
	if in.announce == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), announceTimeout)
	defer cancel()
	if err := in.announce.PublishChatClosed(ctx, msg); err != nil {
		log.Warn().Err(err).Str("conn_id", msg.ConnID).Str("agent_id", msg.AgentID).Msg("announce chat close failed")
	}
}
