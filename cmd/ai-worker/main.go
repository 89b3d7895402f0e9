package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"farmhands/internal/aiworker"
	"farmhands/internal/backend"
	"farmhands/internal/bus"
	"farmhands/internal/chat"
	"farmhands/internal/config"
	"farmhands/internal/delivery"
	"farmhands/internal/llm"
	"farmhands/internal/logging"
	"farmhands/internal/profile"
	"farmhands/internal/queue"
	httptransport "farmhands/internal/transport/http"
	"farmhands/internal/variety"
)

func main() {
	_ = godotenv.Load()
	logCfg, err := config.LoadLog()
	if err != nil {
		panic(err)
	}
	logging.Init(logCfg)
	cfg, err := config.LoadWorker()
	if err != nil {
		log.Fatal().Err(err).Msg("load worker config failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prof, err := loadProfile(cfg.ProfilePath, cfg.ActiveSchema)
	if err != nil {
		log.Fatal().Err(err).Msg("load profile failed")
	}
	profiles := profile.NewHolder(prof)

	be, err := backend.Open(ctx, cfg.Backend, prof.Variety.Window)
	if err != nil {
		log.Fatal().Err(err).Msg("backend init failed")
	}
	defer be.Close()

	b, closeBus, err := openBus(ctx, cfg, be)
	if err != nil {
		log.Fatal().Err(err).Msg("bus init failed")
	}
	defer closeBus()

	var tracker variety.Tracker = be.Variety
	if strings.EqualFold(cfg.VarietyDriver, "memory") {
		tracker = variety.NewMemory(prof.Variety.Window)
	}

	if cfg.LLMAPIKey == "" {
		log.Warn().Msg("OPENAI_API_KEY is not set, every decision will use the fallback path")
	}
	model := llm.New(llm.Config{BaseURL: cfg.LLMBaseURL, APIKey: cfg.LLMAPIKey, Model: cfg.LLMModel})
	pub := delivery.NewPublisher(b)
	q := queue.New(be.Jobs, backend.Policy(cfg.Backend))

	sessions := chat.NewSessions(prof.Chat.SessionCap)
	hub := delivery.NewHub(b, chat.NewIngress(sessions, q, pub), cfg.AllowedOrigins)

	decisions := aiworker.New(model, profiles, tracker, pub, aiworker.Config{
		Temperature:  cfg.DecisionTemperature,
		MaxTokens:    cfg.DecisionMaxTokens,
		ModelTimeout: cfg.ModelTimeout,
	})
	replies := chat.NewWorker(model, profiles, sessions, pub, chat.Config{
		Temperature: cfg.ChatTemperature,
		MaxTokens:   cfg.ChatMaxTokens,
		Timeout:     cfg.ModelTimeout,
	})

	runner := queue.NewRunner(be.Jobs, queue.RunnerConfig{
		Queue:        cfg.Backend.QueueName,
		WorkerID:     workerID(),
		Concurrency:  cfg.Concurrency,
		PollInterval: cfg.PollInterval,
		Lease:        cfg.LeaseDuration,
	})
	runner.Register(queue.TypeDecision, decisions)
	runner.Register(queue.TypeChat, replies)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		runner.Run(ctx)
	}()

	if cfg.ProfilePath != "" {
		go func() {
			err := profile.Watch(ctx, cfg.ProfilePath, func(p *profile.Profile) {
				p, err := p.WithActive(cfg.ActiveSchema)
				if err != nil {
					log.Error().Err(err).Msg("reloaded profile lacks ACTIVE_SCHEMA, keeping previous")
					return
				}
				profiles.Set(p)
			})
			if err != nil {
				log.Error().Err(err).Str("path", cfg.ProfilePath).Msg("profile watch stopped")
			}
		}()
	}

	r := httptransport.NewWorkerRouter(hub, be)
	httptransport.LogRoutes(r)
	server := &http.Server{
		Addr:              cfg.WSAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info().
		Str("addr", cfg.WSAddr).
		Str("queue_driver", be.Driver).
		Str("bus_driver", cfg.BusDriver).
		Str("variety_driver", cfg.VarietyDriver).
		Str("active_schema", prof.ActiveSchema).
		Int("concurrency", cfg.Concurrency).
		Msg("ai worker listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server stopped")
	}
	stop()
	wg.Wait()
	log.Info().Msg("ai worker stopped")
}

func loadProfile(path, active string) (*profile.Profile, error) {
	p, err := profile.Load(path)
	if err != nil {
		return nil, err
	}
	return p.WithActive(active)
}

// openBus returns the delivery bus and a func releasing what it opened.
func openBus(ctx context.Context, cfg config.WorkerConfig, be *backend.Backend) (bus.Bus, func(), error) {
	if !strings.EqualFold(cfg.BusDriver, "postgres") {
		local := bus.NewLocal()
		return local, local.Close, nil
	}
	pool := be.Pool
	release := func() {}
	if pool == nil {
		p, err := pgxpool.New(ctx, cfg.Backend.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open bus pool: %w", err)
		}
		pool, release = p, p.Close
	}
	pg := bus.NewPostgres(pool, cfg.BusChannel)
	ready := make(chan struct{})
	go pg.Listen(ctx, ready)
	select {
	case <-ready:
	case <-time.After(10 * time.Second):
		release()
		return nil, nil, errors.New("bus listener did not start within 10s")
	case <-ctx.Done():
		release()
		return nil, nil, ctx.Err()
	}
	return pg, release, nil
}

func workerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
