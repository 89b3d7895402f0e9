// Package delivery is the real-time channel between workers and game clients:
// a WebSocket hub fed by the shared bus, the publisher workers use, and the
// client-side subscriber.
package delivery

import (
	"encoding/json"

	"farmhands/internal/decision"
)

const (
	EventDecision     = "ai.decision"
	EventError        = "ai.error"
	EventChatStart    = "chat.start"
	EventChatMessage  = "chat.message"
	EventChatEnd      = "chat.end"
	EventChatResponse = "chat.response"
	EventChatError    = "chat.error"
	// EventChatClosed travels between hubs only.
	EventChatClosed = "chat.closed"
)

// Message is the frame sent in both directions over the socket.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type DecisionEvent struct {
	AIAgentID  string            `json:"aiAgentId"`
	Decision   decision.Decision `json:"decision"`
	RequestSeq int64             `json:"requestSeq,omitempty"`
	JobID      string            `json:"jobId,omitempty"`
	Timestamp  int64             `json:"timestamp"`
}

type ErrorEvent struct {
	AIAgentID  string `json:"aiAgentId"`
	Error      string `json:"error"`
	RequestSeq int64  `json:"requestSeq,omitempty"`
	JobID      string `json:"jobId,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

type ChatStart struct {
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName"`
}

const (
	SenderPlayer = "player"
	SenderAI     = "ai"
)

type ChatTurn struct {
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type ChatMessage struct {
	AgentID     string     `json:"agentId"`
	Message     string     `json:"message"`
	ChatHistory []ChatTurn `json:"chatHistory,omitempty"`
}

type ChatEnd struct {
	AgentID string `json:"agentId"`
}

// ChatClosed tells every process a chat is over. An empty AgentID closes
// every chat on the connection.
type ChatClosed struct {
	ConnID  string `json:"connId"`
	AgentID string `json:"agentId,omitempty"`
}

type ChatResponse struct {
	AgentID   string `json:"agentId"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

type ChatError struct {
	AgentID   string `json:"agentId"`
	Error     string `json:"error"`
	Timestamp int64  `json:"timestamp"`
}
