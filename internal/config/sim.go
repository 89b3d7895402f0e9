package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type SimConfig struct {
	APIURL string   `env:"SIM_API_URL" envDefault:"http://localhost:3000/api/game"`
	WSURL  string   `env:"SIM_WS_URL" envDefault:"ws://localhost:3001/ws"`
	Agents []string `env:"SIM_AGENTS" envDefault:"Agent_A,Agent_B,Agent_C,Agent_D" envSeparator:","`

	MapWidth  float64 `env:"SIM_MAP_WIDTH" envDefault:"2000"`
	MapHeight float64 `env:"SIM_MAP_HEIGHT" envDefault:"2000"`
	Speed     float64 `env:"SIM_AGENT_SPEED" envDefault:"60"`
	TickHz    int     `env:"SIM_TICK_HZ" envDefault:"60"`

	ProfilePath  string        `env:"PROFILE_PATH"`
	ActiveSchema string        `env:"ACTIVE_SCHEMA"`
	ChatInterval time.Duration `env:"SIM_CHAT_INTERVAL" envDefault:"0s"`
	Duration     time.Duration `env:"SIM_DURATION" envDefault:"0s"`
}

func LoadSim() (SimConfig, error) {
	var cfg SimConfig
	err := env.Parse(&cfg)
	if cfg.TickHz <= 0 {
		cfg.TickHz = 60
	}
	return cfg, err
}
