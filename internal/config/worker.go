package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type WorkerConfig struct {
	Backend BackendConfig

	WSAddr         string   `env:"WS_ADDR" envDefault:":3001"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"http://localhost:5173,http://localhost:5174" envSeparator:","`
	BusDriver      string   `env:"BUS_DRIVER" envDefault:"local"`
	BusChannel     string   `env:"BUS_CHANNEL" envDefault:"farmhands_delivery"`
	VarietyDriver  string   `env:"VARIETY_DRIVER" envDefault:"store"`

	Concurrency   int           `env:"WORKER_CONCURRENCY" envDefault:"4"`
	PollInterval  time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"250ms"`
	LeaseDuration time.Duration `env:"WORKER_LEASE" envDefault:"2m"`

	LLMBaseURL          string        `env:"LLM_BASE_URL" envDefault:"https://openrouter.ai/api/v1"`
	LLMAPIKey           string        `env:"OPENAI_API_KEY"`
	LLMModel            string        `env:"LLM_MODEL" envDefault:"meta-llama/llama-3.3-70b-instruct:free"`
	DecisionTemperature float64       `env:"DECISION_TEMPERATURE" envDefault:"0.4"`
	DecisionMaxTokens   int           `env:"DECISION_MAX_TOKENS" envDefault:"400"`
	ChatTemperature     float64       `env:"CHAT_TEMPERATURE" envDefault:"0.8"`
	ChatMaxTokens       int           `env:"CHAT_MAX_TOKENS" envDefault:"150"`
	ModelTimeout        time.Duration `env:"MODEL_TIMEOUT" envDefault:"0s"`

	ProfilePath  string `env:"PROFILE_PATH"`
	ActiveSchema string `env:"ACTIVE_SCHEMA"`
}

func LoadWorker() (WorkerConfig, error) {
	var cfg WorkerConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	if err := validateBackend(cfg.Backend); err != nil {
		return cfg, err
	}
	switch strings.ToLower(cfg.BusDriver) {
	case "local":
	case "postgres":
		if strings.TrimSpace(cfg.Backend.PostgresDSN) == "" {
			return cfg, fmt.Errorf("POSTGRES_DSN is required when BUS_DRIVER=postgres")
		}
	default:
		return cfg, fmt.Errorf("unsupported BUS_DRIVER %q", cfg.BusDriver)
	}
	switch strings.ToLower(cfg.VarietyDriver) {
	case "memory", "store":
	default:
		return cfg, fmt.Errorf("unsupported VARIETY_DRIVER %q", cfg.VarietyDriver)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return cfg, nil
}
