package config

import "time"

// BackendConfig selects the queue store shared by the API and worker processes.
type BackendConfig struct {
	QueueDriver string `env:"QUEUE_DRIVER" envDefault:"postgres"`
	PostgresDSN string `env:"POSTGRES_DSN"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"data/farmhands.db"`
	QueueName   string `env:"QUEUE_NAME" envDefault:"GameAI"`

	JobAttempts    int           `env:"JOB_ATTEMPTS" envDefault:"3"`
	JobBackoffBase time.Duration `env:"JOB_BACKOFF_BASE" envDefault:"2s"`
}
