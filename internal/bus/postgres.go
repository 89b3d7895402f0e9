package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// maxNotifyPayload stays under Postgres' 8000 byte NOTIFY limit.
const maxNotifyPayload = 7900

var ErrPayloadTooLarge = errors.New("payload_too_large")

// Postgres shares envelopes between processes over LISTEN/NOTIFY. Every
// process that runs Listen receives every envelope, including its own.
type Postgres struct {
	pool    *pgxpool.Pool
	channel string
	local   *Local
}

func NewPostgres(pool *pgxpool.Pool, channel string) *Postgres {
	return &Postgres{pool: pool, channel: channel, local: NewLocal()}
}

func (p *Postgres) Publish(ctx context.Context, env Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if len(b) > maxNotifyPayload {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(b))
	}
	if _, err := p.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, p.channel, string(b)); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	metricPublishedTotal.Add(1)
	return nil
}

func (p *Postgres) Subscribe() chan Envelope { return p.local.Subscribe() }

func (p *Postgres) Unsubscribe(ch chan Envelope) { p.local.Unsubscribe(ch) }

// Listen relays notifications to local subscribers until ctx is done,
// reconnecting with capped exponential backoff. ready, if non-nil, is closed
// once the first LISTEN is in place.
func (p *Postgres) Listen(ctx context.Context, ready chan<- struct{}) {
	defer p.local.Close()
	backoff := 250 * time.Millisecond
	for {
		err := p.listenOnce(ctx, &ready)
		if ctx.Err() != nil {
			return
		}
		metricReconnectsTotal.Add(1)
		log.Warn().Err(err).Str("channel", p.channel).Dur("backoff", backoff).Msg("bus listener disconnected")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 5*time.Second {
			backoff *= 2
		}
	}
}

func (p *Postgres) listenOnce(ctx context.Context, ready *chan<- struct{}) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	// The connection goes back to the shared pool afterwards.
	defer conn.Exec(context.Background(), "UNLISTEN *")
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{p.channel}.Sanitize()); err != nil {
		return err
	}
	if *ready != nil {
		close(*ready)
		*ready = nil
	}
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		var env Envelope
		if err := json.Unmarshal([]byte(n.Payload), &env); err != nil {
			log.Warn().Err(err).Str("channel", p.channel).Msg("bus dropped undecodable notification")
			continue
		}
		metricReceivedTotal.Add(1)
		p.local.fanOut(env)
	}
}
