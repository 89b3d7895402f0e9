package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func recv(t *testing.T, ch chan Envelope) Envelope {
	t.Helper()
	select {
	case env, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed")
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for envelope")
	}
	return Envelope{}
}

func TestLocalFansOutToAllSubscribers(t *testing.T) {
	b := NewLocal()
	a, c := b.Subscribe(), b.Subscribe()
	env := Envelope{Kind: Broadcast, Event: "ai.decision", Payload: json.RawMessage(`{"aiAgentId":"Agent_A"}`)}
	if err := b.Publish(context.Background(), env); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for _, ch := range []chan Envelope{a, c} {
		if got := recv(t, ch); got.Event != "ai.decision" {
			t.Fatalf("unexpected envelope %+v", got)
		}
	}
}

func TestLocalHasNoReplay(t *testing.T) {
	b := NewLocal()
	_ = b.Publish(context.Background(), Envelope{Kind: Broadcast, Event: "ai.decision"})
	late := b.Subscribe()
	select {
	case env := <-late:
		t.Fatalf("late subscriber received %+v", env)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestLocalUnsubscribeAndClose(t *testing.T) {
	b := NewLocal()
	ch := b.Subscribe()
	b.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel after unsubscribe")
	}
	b.Unsubscribe(ch)

	other := b.Subscribe()
	b.Close()
	if _, ok := <-other; ok {
		t.Fatalf("expected closed channel after close")
	}
	if _, ok := <-b.Subscribe(); ok {
		t.Fatalf("subscribe after close must return a closed channel")
	}
}

func TestLocalDropsForSlowSubscriber(t *testing.T) {
	b := NewLocal()
	ch := b.Subscribe()
	for i := 0; i < subscriberBuffer+10; i++ {
		_ = b.Publish(context.Background(), Envelope{Kind: Broadcast, Event: "ai.decision"})
	}
	if len(ch) != subscriberBuffer {
		t.Fatalf("expected full buffer of %d, got %d", subscriberBuffer, len(ch))
	}
}
