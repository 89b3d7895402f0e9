// Package chat runs free-text conversations between a player and an agent:
// per-connection sessions, the socket ingress that queues player lines, and
// the worker that answers them.
package chat

import (
	"sync"
	"time"

	"farmhands/internal/delivery"
)

// DefaultSessionCap is how many turns a session keeps before dropping the
// oldest.
const DefaultSessionCap = 16

// DefaultIdleTTL bounds how long a session seeded from a job, and the record
// of an ended chat, outlive their last use.
const DefaultIdleTTL = 10 * time.Minute

type Session struct {
	ConnID    string
	AgentID   string
	AgentName string
	StartedAt time.Time
	Turns     []delivery.ChatTurn

	// seeded sessions were opened by a job rather than chat.start; this
	// process may never see their end, so they expire when idle.
	seeded   bool
	lastUsed time.Time
}

type sessionKey struct {
	conn  string
	agent string
}

// Sessions holds the conversations open on this process, keyed by connection
// and agent. Ended pairs and dropped connections are remembered for the idle
// TTL so a late job cannot reopen them.
type Sessions struct {
	mu          sync.Mutex
	cap         int
	ttl         time.Duration
	items       map[sessionKey]*Session
	ended       map[sessionKey]time.Time
	droppedConn map[string]time.Time
	now         func() time.Time
}

func NewSessions(cap int) *Sessions {
	if cap <= 0 {
		cap = DefaultSessionCap
	}
	return &Sessions{
		cap:         cap,
		ttl:         DefaultIdleTTL,
		items:       map[sessionKey]*Session{},
		ended:       map[sessionKey]time.Time{},
		droppedConn: map[string]time.Time{},
		now:         time.Now,
	}
}

// Start opens a session, replacing any previous one for the same pair.
func (s *Sessions) Start(connID, agentID, agentName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.prune(now)
	k := sessionKey{connID, agentID}
	delete(s.ended, k)
	s.items[k] = &Session{
		ConnID:    connID,
		AgentID:   agentID,
		AgentName: agentName,
		StartedAt: now,
		lastUsed:  now,
	}
	metricSessionsOpen.Set(int64(len(s.items)))
}

// Ensure returns the session for the pair, creating it from history when this
// process has not seen it. It reports false, and creates nothing, when the
// chat was ended or its connection dropped.
func (s *Sessions) Ensure(connID, agentID, agentName string, history []delivery.ChatTurn) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.prune(now)
	k := sessionKey{connID, agentID}
	sess, ok := s.items[k]
	if !ok {
		if s.closedLocked(k) {
			metricSessionsRejected.Add(1)
			return Session{}, false
		}
		sess = &Session{ConnID: connID, AgentID: agentID, AgentName: agentName, StartedAt: now, seeded: true}
		sess.Turns = s.trim(append([]delivery.ChatTurn(nil), history...))
		s.items[k] = sess
		metricSessionsOpen.Set(int64(len(s.items)))
		metricSessionsSeeded.Add(1)
	}
	if sess.AgentName == "" {
		sess.AgentName = agentName
	}
	sess.lastUsed = now
	return copySession(sess), true
}

// Append adds turns to an open session and returns the stored length. It is
// a no-op returning 0 when the session is gone.
func (s *Sessions) Append(connID, agentID string, turns ...delivery.ChatTurn) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.items[sessionKey{connID, agentID}]
	if !ok {
		return 0
	}
	sess.Turns = s.trim(append(sess.Turns, turns...))
	sess.lastUsed = s.now()
	return len(sess.Turns)
}

func (s *Sessions) Get(connID, agentID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.items[sessionKey{connID, agentID}]
	if !ok {
		return Session{}, false
	}
	return copySession(sess), true
}

func (s *Sessions) End(connID, agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := sessionKey{connID, agentID}
	delete(s.items, k)
	s.ended[k] = s.now()
	metricSessionsOpen.Set(int64(len(s.items)))
}

// DropConnection ends every session bound to connID and returns how many
// were open.
func (s *Sessions) DropConnection(connID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.items {
		if k.conn == connID {
			delete(s.items, k)
			n++
		}
	}
	s.droppedConn[connID] = s.now()
	metricSessionsOpen.Set(int64(len(s.items)))
	return n
}

func (s *Sessions) closedLocked(k sessionKey) bool {
	if _, ok := s.droppedConn[k.conn]; ok {
		return true
	}
	_, ok := s.ended[k]
	return ok
}

// prune drops idle seeded sessions and expired end records. Sessions opened
// by chat.start live until the chat ends or the connection drops.
func (s *Sessions) prune(now time.Time) {
	cutoff := now.Add(-s.ttl)
	expired := 0
	for k, sess := range s.items {
		if sess.seeded && sess.lastUsed.Before(cutoff) {
			delete(s.items, k)
			expired++
		}
	}
	for k, at := range s.ended {
		if at.Before(cutoff) {
			delete(s.ended, k)
		}
	}
	for c, at := range s.droppedConn {
		if at.Before(cutoff) {
			delete(s.droppedConn, c)
		}
	}
	if expired > 0 {
		metricSessionsExpired.Add(int64(expired))
		metricSessionsOpen.Set(int64(len(s.items)))
	}
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Sessions) trim(turns []delivery.ChatTurn) []delivery.ChatTurn {
	if len(turns) <= s.cap {
		return turns
	}
	return append([]delivery.ChatTurn(nil), turns[len(turns)-s.cap:]...)
}

func copySession(sess *Session) Session {
	out := *sess
	out.Turns = append([]delivery.ChatTurn(nil), sess.Turns...)
	return out
}
