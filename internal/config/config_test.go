package config

import (
	"testing"
	"time"
)

func TestLoadAPIDefaults(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost:5432/farmhands?sslmode=disable")

	cfg, err := LoadAPI()
	if err != nil {
		t.Fatalf("LoadAPI() error = %v", err)
	}
	if cfg.HTTPAddr != ":3000" {
		t.Fatalf("HTTPAddr = %q, want :3000", cfg.HTTPAddr)
	}
	if cfg.Backend.QueueName != "GameAI" {
		t.Fatalf("QueueName = %q, want GameAI", cfg.Backend.QueueName)
	}
	if cfg.Backend.JobAttempts != 3 || cfg.Backend.JobBackoffBase != 2*time.Second {
		t.Fatalf("unexpected retry policy: %+v", cfg.Backend)
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Fatalf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func TestLoadAPIRequiresPostgresDSN(t *testing.T) {
	t.Setenv("QUEUE_DRIVER", "postgres")
	t.Setenv("POSTGRES_DSN", "")

	if _, err := LoadAPI(); err == nil {
		t.Fatal("LoadAPI() expected error, got nil")
	}
}

func TestLoadAPISQLiteDriver(t *testing.T) {
	t.Setenv("QUEUE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/q.db")

	cfg, err := LoadAPI()
	if err != nil {
		t.Fatalf("LoadAPI() error = %v", err)
	}
	if cfg.Backend.SQLitePath != "/tmp/q.db" {
		t.Fatalf("SQLitePath = %q", cfg.Backend.SQLitePath)
	}
}

func TestLoadAPIRejectsUnknownDriver(t *testing.T) {
	t.Setenv("QUEUE_DRIVER", "redis")
	if _, err := LoadAPI(); err == nil {
		t.Fatal("expected unsupported driver error")
	}
}

func TestLoadWorkerDefaults(t *testing.T) {
	t.Setenv("QUEUE_DRIVER", "sqlite")

	cfg, err := LoadWorker()
	if err != nil {
		t.Fatalf("LoadWorker() error = %v", err)
	}
	if cfg.WSAddr != ":3001" || cfg.BusDriver != "local" {
		t.Fatalf("unexpected worker config: %+v", cfg)
	}
	if cfg.DecisionMaxTokens != 400 || cfg.DecisionTemperature != 0.4 {
		t.Fatalf("unexpected sampling config: temp=%v tokens=%d", cfg.DecisionTemperature, cfg.DecisionMaxTokens)
	}
	if cfg.ModelTimeout != 0 {
		t.Fatalf("ModelTimeout = %v, want 0 (derived from schema)", cfg.ModelTimeout)
	}
}

func TestLoadWorkerPostgresBusNeedsDSN(t *testing.T) {
	t.Setenv("QUEUE_DRIVER", "sqlite")
	t.Setenv("BUS_DRIVER", "postgres")
	t.Setenv("POSTGRES_DSN", "")

	if _, err := LoadWorker(); err == nil {
		t.Fatal("expected error for postgres bus without dsn")
	}
}

func TestLoadSimOverrides(t *testing.T) {
	t.Setenv("SIM_AGENTS", "Agent_A,Agent_Z")
	t.Setenv("SIM_TICK_HZ", "30")

	cfg, err := LoadSim()
	if err != nil {
		t.Fatalf("LoadSim() error = %v", err)
	}
	if len(cfg.Agents) != 2 || cfg.Agents[1] != "Agent_Z" {
		t.Fatalf("Agents = %v", cfg.Agents)
	}
	if cfg.TickHz != 30 {
		t.Fatalf("TickHz = %d", cfg.TickHz)
	}
}
