package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"farmhands/internal/app/requester"
	"farmhands/internal/backend"
	"farmhands/internal/config"
	"farmhands/internal/logging"
	"farmhands/internal/profile"
	"farmhands/internal/queue"
	httptransport "farmhands/internal/transport/http"
)

func main() {
	_ = godotenv.Load()
	logCfg, err := config.LoadLog()
	if err != nil {
		panic(err)
	}
	logging.Init(logCfg)
	cfg, err := config.LoadAPI()
	if err != nil {
		log.Fatal().Err(err).Msg("load api config failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	be, err := backend.Open(ctx, cfg.Backend, 0)
	if err != nil {
		log.Fatal().Err(err).Msg("backend init failed")
	}
	defer be.Close()

	prof, err := profile.Load(cfg.ProfilePath)
	if err == nil {
		prof, err = prof.WithActive(cfg.ActiveSchema)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("load profile failed")
	}

	svc := requester.NewService(queue.New(be.Jobs, backend.Policy(cfg.Backend)))
	r := httptransport.NewRouter(svc, be, profile.NewHolder(prof), cfg)
	httptransport.LogRoutes(r)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.HTTPAddr).Str("queue_driver", be.Driver).Str("queue", cfg.Backend.QueueName).Msg("http listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server stopped")
	}
	log.Info().Msg("server stopped")
}
