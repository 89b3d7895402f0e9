package delivery

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"farmhands/internal/bus"
	"farmhands/internal/decision"
	"farmhands/internal/geo"
)

type fakeIngress struct {
	mu       sync.Mutex
	starts   []ChatStart
	msgs     []ChatMessage
	ends     []ChatEnd
	dropped  []string
	msgConns []string
	closed   []ChatClosed
	fail     bool
}

func (f *fakeIngress) StartChat(_ context.Context, connID string, m ChatStart) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, m)
	return nil
}

func (f *fakeIngress) HandleMessage(_ context.Context, connID string, m ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("queue down")
	}
	f.msgs = append(f.msgs, m)
	f.msgConns = append(f.msgConns, connID)
	return nil
}

func (f *fakeIngress) EndChat(_ context.Context, connID string, m ChatEnd) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ends = append(f.ends, m)
	return nil
}

func (f *fakeIngress) DropConnection(connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped = append(f.dropped, connID)
}

func (f *fakeIngress) ChatClosed(m ChatClosed) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, m)
}

func (f *fakeIngress) snapshot() fakeIngress {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fakeIngress{
		starts:   append([]ChatStart(nil), f.starts...),
		msgs:     append([]ChatMessage(nil), f.msgs...),
		ends:     append([]ChatEnd(nil), f.ends...),
		dropped:  append([]string(nil), f.dropped...),
		msgConns: append([]string(nil), f.msgConns...),
		closed:   append([]ChatClosed(nil), f.closed...),
	}
}

type testEnv struct {
	bus     *bus.Local
	hub     *Hub
	pub     *Publisher
	ingress *fakeIngress
	url     string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	b := bus.NewLocal()
	ing := &fakeIngress{}
	hub := NewHub(b, ing, []string{"http://localhost:5173"})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(hub.ServeWS())
	t.Cleanup(func() {
		cancel()
		srv.Close()
		b.Close()
	})
	return &testEnv{
		bus:     b,
		hub:     hub,
		pub:     NewPublisher(b),
		ingress: ing,
		url:     "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

func (e *testEnv) connect(t *testing.T) *Client {
	t.Helper()
	c := NewClient(e.url)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Connect(ctx, 3, 50*time.Millisecond); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// until retries publish until got receives a value, since the hub's bus
// subscription starts asynchronously.
func until[T any](t *testing.T, got <-chan T, publish func()) T {
	t.Helper()
	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()
	publish()
	for {
		select {
		case v := <-got:
			return v
		case <-tick.C:
			publish()
		case <-deadline:
			t.Fatalf("timed out waiting for delivery")
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func sampleDecision() decision.Decision {
	return decision.Decision{
		Sequence: []decision.ActionStep{
			decision.Move(3, geo.East),
			decision.Animate(decision.Mining, 5),
		},
		Reasoning: "walk then mine",
		Source:    decision.SourceModel,
	}
}

func TestDecisionReachesSubscribedAgentOnly(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect(t)
	if c.ConnID() == "" {
		t.Fatalf("expected hub-assigned connection id")
	}

	gotA := make(chan DecisionEvent, 16)
	gotB := make(chan DecisionEvent, 16)
	c.Subscribe("Agent_A", func(ev DecisionEvent, err error) {
		if err == nil {
			gotA <- ev
		}
	})
	c.Subscribe("Agent_B", func(ev DecisionEvent, err error) { gotB <- ev })

	ev := until(t, gotA, func() {
		_ = env.pub.PublishDecision(context.Background(), "Agent_A", sampleDecision(), DecisionMeta{JobID: "job-1", RequestSeq: 7})
	})
	if ev.AIAgentID != "Agent_A" || ev.JobID != "job-1" || ev.RequestSeq != 7 {
		t.Fatalf("unexpected event %+v", ev)
	}
	if len(ev.Decision.Sequence) != 2 || ev.Decision.Sequence[1].Animation != decision.Mining {
		t.Fatalf("decision did not survive the wire: %+v", ev.Decision)
	}
	if ev.Timestamp == 0 {
		t.Fatalf("missing timestamp")
	}
	select {
	case other := <-gotB:
		t.Fatalf("Agent_B handler got %+v", other)
	default:
	}
}

func TestErrorEventInvokesHandlerWithError(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect(t)

	type result struct {
		ev  DecisionEvent
		err error
	}
	got := make(chan result, 16)
	c.Subscribe("Agent_C", func(ev DecisionEvent, err error) { got <- result{ev, err} })

	r := until(t, got, func() {
		_ = env.pub.PublishError(context.Background(), "Agent_C", "decision failed", DecisionMeta{RequestSeq: 3})
	})
	var remote *RemoteError
	if !errors.As(r.err, &remote) || remote.Message != "decision failed" {
		t.Fatalf("expected RemoteError, got %v", r.err)
	}
	if r.ev.RequestSeq != 3 || r.ev.AIAgentID != "Agent_C" {
		t.Fatalf("unexpected partial event %+v", r.ev)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect(t)

	got := make(chan DecisionEvent, 16)
	c.Subscribe("Agent_A", func(ev DecisionEvent, _ error) { got <- ev })
	until(t, got, func() {
		_ = env.pub.PublishDecision(context.Background(), "Agent_A", sampleDecision(), DecisionMeta{})
	})
	c.Unsubscribe("Agent_A")

	// Drain anything published before the unsubscribe took effect.
	time.Sleep(100 * time.Millisecond)
	for len(got) > 0 {
		<-got
	}
	_ = env.pub.PublishDecision(context.Background(), "Agent_A", sampleDecision(), DecisionMeta{})
	select {
	case ev := <-got:
		t.Fatalf("unsubscribed handler received %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestChatRoundTripIsUnicast(t *testing.T) {
	env := newTestEnv(t)
	alice := env.connect(t)
	bob := env.connect(t)

	aliceGot := make(chan ChatResponse, 16)
	bobGot := make(chan ChatResponse, 16)
	if err := alice.StartChat("Agent_B", "guard", func(r ChatResponse, err error) {
		if err == nil {
			aliceGot <- r
		}
	}); err != nil {
		t.Fatalf("start chat: %v", err)
	}
	if err := bob.StartChat("Agent_B", "guard", func(r ChatResponse, _ error) { bobGot <- r }); err != nil {
		t.Fatalf("start chat: %v", err)
	}
	history := []ChatTurn{{Sender: SenderPlayer, Content: "hi"}, {Sender: SenderAI, Content: "halt"}}
	if err := alice.SendChat("Agent_B", "who goes there?", history); err != nil {
		t.Fatalf("send chat: %v", err)
	}

	waitFor(t, func() bool {
		s := env.ingress.snapshot()
		return len(s.starts) == 2 && len(s.msgs) == 1
	})
	s := env.ingress.snapshot()
	if s.msgs[0].Message != "who goes there?" || len(s.msgs[0].ChatHistory) != 2 {
		t.Fatalf("unexpected chat message %+v", s.msgs[0])
	}
	if s.msgConns[0] != alice.ConnID() {
		t.Fatalf("message attributed to %q, want %q", s.msgConns[0], alice.ConnID())
	}

	resp := until(t, aliceGot, func() {
		_ = env.pub.Unicast(context.Background(), alice.ConnID(), EventChatResponse,
			ChatResponse{AgentID: "Agent_B", Message: "Move along.", Timestamp: env.pub.Now()})
	})
	if resp.Message != "Move along." {
		t.Fatalf("unexpected response %+v", resp)
	}
	select {
	case r := <-bobGot:
		t.Fatalf("unicast leaked to another connection: %+v", r)
	case <-time.After(150 * time.Millisecond):
	}

	if err := alice.EndChat("Agent_B"); err != nil {
		t.Fatalf("end chat: %v", err)
	}
	waitFor(t, func() bool { return len(env.ingress.snapshot().ends) == 1 })
}

func TestIngressFailureSendsChatError(t *testing.T) {
	env := newTestEnv(t)
	env.ingress.mu.Lock()
	env.ingress.fail = true
	env.ingress.mu.Unlock()
	c := env.connect(t)

	errs := make(chan error, 4)
	if err := c.StartChat("Agent_A", "villager", func(_ ChatResponse, err error) {
		if err != nil {
			errs <- err
		}
	}); err != nil {
		t.Fatalf("start chat: %v", err)
	}
	if err := c.SendChat("Agent_A", "hello", nil); err != nil {
		t.Fatalf("send chat: %v", err)
	}
	select {
	case err := <-errs:
		var remote *RemoteError
		if !errors.As(err, &remote) || remote.Message != "chat_unavailable" {
			t.Fatalf("unexpected error %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no chat.error received")
	}
}

func TestDisconnectDropsConnection(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect(t)
	id := c.ConnID()
	waitFor(t, func() bool { return env.hub.Connections() == 1 })

	_ = c.Close()
	waitFor(t, func() bool { return env.hub.Connections() == 0 })
	waitFor(t, func() bool {
		for _, d := range env.ingress.snapshot().dropped {
			if d == id {
				return true
			}
		}
		return false
	})
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("client Done not closed after Close")
	}
}

func TestChatClosedReachesIngress(t *testing.T) {
	env := newTestEnv(t)

	closed := make(chan ChatClosed, 1)
	got := until(t, closed, func() {
		_ = env.pub.PublishChatClosed(context.Background(), ChatClosed{ConnID: "conn-9", AgentID: "Agent_A"})
		if s := env.ingress.snapshot(); len(s.closed) > 0 {
			select {
			case closed <- s.closed[0]:
			default:
			}
		}
	})
	if got.ConnID != "conn-9" || got.AgentID != "Agent_A" {
		t.Fatalf("closed = %+v", got)
	}
}

func TestCheckOriginAllowlist(t *testing.T) {
	hub := NewHub(bus.NewLocal(), nil, []string{"http://localhost:5173"})
	cases := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:5173", true},
		{"http://evil.example", false},
	}
	for _, tc := range cases {
		r := httptest.NewRequest("GET", "/ws", nil)
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		if got := hub.upgrader.CheckOrigin(r); got != tc.want {
			t.Fatalf("origin %q: got %v want %v", tc.origin, got, tc.want)
		}
	}
}

func TestConnectGivesUpAfterAttempts(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1/ws")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Connect(ctx, 2, 10*time.Millisecond); err == nil {
		t.Fatalf("expected connect error")
	}
	if err := c.SendChat("Agent_A", "hi", nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("send before connect: %v", err)
	}
}
