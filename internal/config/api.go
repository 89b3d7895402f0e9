package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

type APIConfig struct {
	Backend BackendConfig

	HTTPAddr       string   `env:"HTTP_ADDR" envDefault:":3000"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"http://localhost:5173,http://localhost:5174" envSeparator:","`
	CaptureBytes   int      `env:"LOG_CAPTURE_BYTES" envDefault:"4096"`

	ProfilePath  string `env:"PROFILE_PATH"`
	ActiveSchema string `env:"ACTIVE_SCHEMA"`
}

func LoadAPI() (APIConfig, error) {
	var cfg APIConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	return cfg, validateBackend(cfg.Backend)
}

func validateBackend(b BackendConfig) error {
	switch strings.ToLower(b.QueueDriver) {
	case "postgres":
		if strings.TrimSpace(b.PostgresDSN) == "" {
			return fmt.Errorf("POSTGRES_DSN is required when QUEUE_DRIVER=postgres")
		}
	case "sqlite":
		if strings.TrimSpace(b.SQLitePath) == "" {
			return fmt.Errorf("SQLITE_PATH is required when QUEUE_DRIVER=sqlite")
		}
	default:
		return fmt.Errorf("unsupported QUEUE_DRIVER %q", b.QueueDriver)
	}
	if b.JobAttempts < 1 {
		return fmt.Errorf("JOB_ATTEMPTS must be >= 1, got %d", b.JobAttempts)
	}
	return nil
}
