package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"farmhands/internal/bus"
)

// EventConnected is sent once to each new connection with its id.
const EventConnected = "connected"

type Connected struct {
	ConnID string `json:"connId"`
}

// ChatIngress receives the chat events clients send over the socket.
type ChatIngress interface {
	StartChat(ctx context.Context, connID string, msg ChatStart) error
	HandleMessage(ctx context.Context, connID string, msg ChatMessage) error
	EndChat(ctx context.Context, connID string, msg ChatEnd) error
	DropConnection(connID string)
	// ChatClosed applies a close announced by any worker, this one included.
	ChatClosed(msg ChatClosed)
}

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxInboundSize = 64 * 1024
	sendBuffer     = 32
)

type conn struct {
	id        string
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *conn) trySend(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		metricSendDropped.Add(1)
		return false
	}
}

// Hub owns the client sockets of one worker process and relays bus envelopes
// to them.
type Hub struct {
	bus      bus.Bus
	ingress  ChatIngress
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*conn
}

// NewHub accepts upgrades from the listed browser origins. Requests without an
// Origin header are not from a browser and are always accepted.
func NewHub(b bus.Bus, ingress ChatIngress, allowedOrigins []string) *Hub {
	h := &Hub{bus: b, ingress: ingress, conns: map[string]*conn{}}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// Run relays bus envelopes until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	ch := h.bus.Subscribe()
	defer h.bus.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case env, ok := <-ch:
			if !ok {
				return
			}
			h.deliver(env)
		}
	}
}

func (h *Hub) deliver(env bus.Envelope) {
	if env.Kind == bus.Control {
		h.control(env)
		return
	}
	frame, err := json.Marshal(Message{Event: env.Event, Data: env.Payload})
	if err != nil {
		log.Error().Err(err).Str("event", env.Event).Msg("encode delivery frame failed")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	switch env.Kind {
	case bus.Broadcast:
		metricBroadcastTotal.Add(1)
		for _, c := range h.conns {
			c.trySend(frame)
		}
	case bus.Unicast:
		c := h.conns[env.ConnID]
		if c == nil {
			// The connection may live on another worker's hub.
			metricUnicastMissed.Add(1)
			return
		}
		metricUnicastTotal.Add(1)
		c.trySend(frame)
	}
}

func (h *Hub) control(env bus.Envelope) {
	if env.Event != EventChatClosed || h.ingress == nil {
		return
	}
	var m ChatClosed
	if err := json.Unmarshal(env.Payload, &m); err != nil || m.ConnID == "" {
		log.Warn().Err(err).Str("event", env.Event).Msg("bad control envelope")
		return
	}
	h.ingress.ChatClosed(m)
}

// Connections is the number of open sockets.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) ServeWS() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := &conn{id: uuid.NewString(), ws: ws, send: make(chan []byte, sendBuffer), done: make(chan struct{})}
		h.register(c)
		defer h.unregister(c)

		hello, _ := json.Marshal(Connected{ConnID: c.id})
		frame, _ := json.Marshal(Message{Event: EventConnected, Data: hello})
		c.trySend(frame)

		go h.writeLoop(c)
		h.readLoop(r.Context(), c)
	}
}

func (h *Hub) register(c *conn) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	metricConnections.Add(1)
	log.Debug().Str("conn_id", c.id).Msg("ws_connected")
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()
	c.close()
	metricConnections.Add(-1)
	if h.ingress != nil {
		h.ingress.DropConnection(c.id)
	}
	log.Debug().Str("conn_id", c.id).Msg("ws_disconnected")
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
		c.close()
	}
}

func (h *Hub) writeLoop(c *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case b := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.close()
				return
			}
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, c *conn) {
	c.ws.SetReadLimit(maxInboundSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			metricInboundRejected.Add(1)
			continue
		}
		metricInboundTotal.Add(1)
		h.dispatch(ctx, c, msg)
	}
}

func (h *Hub) dispatch(ctx context.Context, c *conn, msg Message) {
	if h.ingress == nil {
		return
	}
	var (
		agentID string
		err     error
	)
	switch msg.Event {
	case EventChatStart:
		var m ChatStart
		if err = json.Unmarshal(msg.Data, &m); err == nil && m.AgentID != "" {
			agentID = m.AgentID
			err = h.ingress.StartChat(ctx, c.id, m)
		}
	case EventChatMessage:
		var m ChatMessage
		if err = json.Unmarshal(msg.Data, &m); err == nil && m.AgentID != "" {
			agentID = m.AgentID
			err = h.ingress.HandleMessage(ctx, c.id, m)
		}
	case EventChatEnd:
		var m ChatEnd
		if err = json.Unmarshal(msg.Data, &m); err == nil && m.AgentID != "" {
			agentID = m.AgentID
			err = h.ingress.EndChat(ctx, c.id, m)
		}
	default:
		metricInboundRejected.Add(1)
		return
	}
	if agentID == "" {
		metricInboundRejected.Add(1)
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("conn_id", c.id).Str("agent_id", agentID).Str("event", msg.Event).Msg("chat ingress failed")
		data, _ := json.Marshal(ChatError{AgentID: agentID, Error: "chat_unavailable", Timestamp: time.Now().UnixMilli()})
		frame, _ := json.Marshal(Message{Event: EventChatError, Data: data})
		c.trySend(frame)
	}
}
