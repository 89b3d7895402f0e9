// agent-sim drives a handful of agents against a running game API and worker
// the way the browser client does, and logs what they do.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"farmhands/internal/apiclient"
	"farmhands/internal/config"
	"farmhands/internal/delivery"
	"farmhands/internal/logging"
	"farmhands/internal/profile"
)

const (
	connectAttempts = 5
	connectDelay    = time.Second
)

func main() {
	_ = godotenv.Load()
	logCfg, err := config.LoadLog()
	if err != nil {
		panic(err)
	}
	logging.Init(logCfg)
	cfg, err := config.LoadSim()
	if err != nil {
		log.Fatal().Err(err).Msg("load sim config failed")
	}

	prof, err := profile.Load(cfg.ProfilePath)
	if err != nil {
		log.Fatal().Err(err).Msg("load profile failed")
	}
	if prof, err = prof.WithActive(cfg.ActiveSchema); err != nil {
		log.Fatal().Err(err).Msg("unknown ACTIVE_SCHEMA")
	}
	schema := prof.Active()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	api := apiclient.New(cfg.APIURL, nil)
	health, err := api.Health(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("game api health check failed, continuing")
	} else {
		log.Info().Str("status", health.Status).Int("waiting_jobs", health.WaitingJobs).Msg("game api reachable")
	}

	ws := delivery.NewClient(cfg.WSURL)
	if err := ws.Connect(ctx, connectAttempts, connectDelay); err != nil {
		log.Fatal().Err(err).Str("url", cfg.WSURL).Msg("delivery connect failed")
	}
	defer ws.Close()
	log.Info().Str("conn_id", ws.ConnID()).Str("schema", schema.Name).Strs("agents", cfg.Agents).Msg("agent sim connected")

	sim := newSimulator(cfg, schema.RedecideInterval, api, ws)
	sim.run(ctx)
	sim.report()
}
