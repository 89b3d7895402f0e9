// Package backend opens the queue store selected by QUEUE_DRIVER.
package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"farmhands/internal/config"
	"farmhands/internal/litestore"
	"farmhands/internal/queue"
	"farmhands/internal/store"
	"farmhands/internal/variety"
)

// Backend is one opened store seen through the interfaces the processes use.
type Backend struct {
	Driver  string
	Jobs    queue.Store
	Variety variety.Tracker
	// Pool is set for the postgres driver only.
	Pool *pgxpool.Pool

	closer func()
}

// Open connects to the configured store and checks it answers.
func Open(ctx context.Context, cfg config.BackendConfig, varietyWindow int) (*Backend, error) {
	driver := strings.ToLower(cfg.QueueDriver)
	switch driver {
	case "postgres":
		st, err := store.New(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := st.Ping(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		st.VarietyWindow = varietyWindow
		return &Backend{Driver: driver, Jobs: st, Variety: st, Pool: st.Pool, closer: st.Close}, nil
	case "sqlite":
		st, err := litestore.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		st.VarietyWindow = varietyWindow
		return &Backend{Driver: driver, Jobs: st, Variety: st, closer: func() { _ = st.Close() }}, nil
	default:
		return nil, fmt.Errorf("unsupported QUEUE_DRIVER %q", cfg.QueueDriver)
	}
}

// Policy is the retry policy new jobs are submitted with.
func Policy(cfg config.BackendConfig) queue.Policy {
	return queue.Policy{Queue: cfg.QueueName, MaxAttempts: cfg.JobAttempts, BackoffBase: cfg.JobBackoffBase}
}

func (b *Backend) Ping(ctx context.Context) error {
	return b.Jobs.Ping(ctx)
}

func (b *Backend) Close() {
	if b.closer != nil {
		b.closer()
	}
}
