package bus_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"farmhands/internal/bus"
	"farmhands/internal/testutil"
)

func TestPostgresRelaysBetweenBuses(t *testing.T) {
	dsn := testutil.SchemaDSN(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	defer pool.Close()

	channel := "farmhands_test_bus"
	producer := bus.NewPostgres(pool, channel)
	consumer := bus.NewPostgres(pool, channel)
	ready := make(chan struct{})
	go consumer.Listen(ctx, ready)
	<-ready
	sub := consumer.Subscribe()

	env := bus.Envelope{Kind: bus.Unicast, Event: "chat.response", ConnID: "c1", Payload: json.RawMessage(`{"message":"hi"}`)}
	if err := producer.Publish(ctx, env); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case got := <-sub:
		if got.ConnID != "c1" || got.Event != "chat.response" || string(got.Payload) != `{"message":"hi"}` {
			t.Fatalf("unexpected envelope %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("notification not relayed")
	}

	big := bus.Envelope{Kind: bus.Broadcast, Event: "x", Payload: json.RawMessage(`"` + strings.Repeat("a", 9000) + `"`)}
	if err := producer.Publish(ctx, big); !errors.Is(err, bus.ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}
