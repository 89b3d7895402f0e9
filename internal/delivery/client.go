package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrNotConnected = errors.New("not_connected")

// RemoteError is an ai.error or chat.error event surfaced to a handler.
type RemoteError struct {
	AgentID string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.AgentID, e.Message)
}

// DecisionHandler receives either a decision or, for ai.error, a zero
// Decision with the request identifiers filled in and a *RemoteError.
type DecisionHandler func(ev DecisionEvent, err error)

// ChatHandler receives chat.response events, or a *RemoteError for
// chat.error.
type ChatHandler func(resp ChatResponse, err error)

// Client is the game-side end of the channel. Handlers run on the client's
// read goroutine and must not block.
type Client struct {
	url    string
	dialer *websocket.Dialer

	writeMu sync.Mutex
	mu      sync.Mutex
	ws      *websocket.Conn
	connID  string
	ready   chan struct{}
	done    chan struct{}

	decisions map[string]DecisionHandler
	chats     map[string]ChatHandler
}

func NewClient(url string) *Client {
	return &Client{
		url:       url,
		dialer:    &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		decisions: map[string]DecisionHandler{},
		chats:     map[string]ChatHandler{},
	}
}

// Connect dials the hub, retrying up to attempts times, and waits for the
// hub to assign a connection id.
func (c *Client) Connect(ctx context.Context, attempts int, delay time.Duration) error {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		ws, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err == nil {
			return c.start(ctx, ws)
		}
		lastErr = err
		log.Warn().Err(err).Str("url", c.url).Int("attempt", i+1).Msg("delivery connect failed")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("connect %s: %w", c.url, lastErr)
}

func (c *Client) start(ctx context.Context, ws *websocket.Conn) error {
	c.mu.Lock()
	c.ws = ws
	c.ready = make(chan struct{})
	c.done = make(chan struct{})
	ready, done := c.ready, c.done
	c.mu.Unlock()

	go c.readLoop(ws, ready, done)
	select {
	case <-ready:
		return nil
	case <-done:
		return ErrNotConnected
	case <-ctx.Done():
		_ = ws.Close()
		return ctx.Err()
	}
}

// ConnID is the id the hub assigned, empty before Connect succeeds.
func (c *Client) ConnID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID
}

// Done is closed when the connection drops.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *Client) Close() error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return ws.Close()
}

func (c *Client) Subscribe(agentID string, h DecisionHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decisions[agentID] = h
}

func (c *Client) Unsubscribe(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.decisions, agentID)
}

func (c *Client) StartChat(agentID, agentName string, h ChatHandler) error {
	c.mu.Lock()
	c.chats[agentID] = h
	c.mu.Unlock()
	return c.send(EventChatStart, ChatStart{AgentID: agentID, AgentName: agentName})
}

// SendChat sends a player line along with the client's recent history so any
// worker can pick up the conversation.
func (c *Client) SendChat(agentID, message string, history []ChatTurn) error {
	return c.send(EventChatMessage, ChatMessage{AgentID: agentID, Message: message, ChatHistory: history})
}

func (c *Client) EndChat(agentID string) error {
	c.mu.Lock()
	delete(c.chats, agentID)
	c.mu.Unlock()
	return c.send(EventChatEnd, ChatEnd{AgentID: agentID})
}

func (c *Client) send(event string, payload any) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(Message{Event: event, Data: data})
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *Client) readLoop(ws *websocket.Conn, ready, done chan struct{}) {
	defer close(done)
	readyOnce := sync.Once{}
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		switch msg.Event {
		case EventConnected:
			var m Connected
			if json.Unmarshal(msg.Data, &m) == nil {
				c.mu.Lock()
				c.connID = m.ConnID
				c.mu.Unlock()
				readyOnce.Do(func() { close(ready) })
			}
		case EventDecision:
			var ev DecisionEvent
			if json.Unmarshal(msg.Data, &ev) == nil {
				if h := c.decisionHandler(ev.AIAgentID); h != nil {
					h(ev, nil)
				}
			}
		case EventError:
			var ev ErrorEvent
			if json.Unmarshal(msg.Data, &ev) == nil {
				if h := c.decisionHandler(ev.AIAgentID); h != nil {
					h(DecisionEvent{AIAgentID: ev.AIAgentID, RequestSeq: ev.RequestSeq, JobID: ev.JobID, Timestamp: ev.Timestamp},
						&RemoteError{AgentID: ev.AIAgentID, Message: ev.Error})
				}
			}
		case EventChatResponse:
			var ev ChatResponse
			if json.Unmarshal(msg.Data, &ev) == nil {
				if h := c.chatHandler(ev.AgentID); h != nil {
					h(ev, nil)
				}
			}
		case EventChatError:
			var ev ChatError
			if json.Unmarshal(msg.Data, &ev) == nil {
				if h := c.chatHandler(ev.AgentID); h != nil {
					h(ChatResponse{AgentID: ev.AgentID, Timestamp: ev.Timestamp}, &RemoteError{AgentID: ev.AgentID, Message: ev.Error})
				}
			}
		}
	}
}

func (c *Client) decisionHandler(agentID string) DecisionHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.decisions[agentID]
}

func (c *Client) chatHandler(agentID string) ChatHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chats[agentID]
}
