package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"farmhands/internal/config"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	mu     sync.Mutex
	writer io.Writer = os.Stdout
	file   *sizeLimitedWriter
)

// Init configures the global zerolog logger. Safe to call more than once; the
// previous file sink is closed.
func Init(cfg config.LogConfig) {
	level := zerolog.InfoLevel
	if v := strings.TrimSpace(cfg.Level); v != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(v)); err == nil {
			level = parsed
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		_ = file.Close()
		file = nil
	}

	var base io.Writer = os.Stdout
	if path := strings.TrimSpace(cfg.File); path != "" {
		fw, err := newSizeLimitedWriter(path, cfg.MaxMB)
		if err == nil {
			file = fw
			base = io.MultiWriter(os.Stdout, fw)
		}
	}
	writer = base

	var output io.Writer = base
	if isPretty(cfg.Pretty, os.Stdout) && file == nil {
		output = zerolog.ConsoleWriter{Out: os.Stdout}
	}

	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(output).With().Timestamp().Logger()
	if cfg.SampleEvery > 1 {
		logger = logger.Sample(&zerolog.BasicSampler{N: uint32(cfg.SampleEvery)})
	}
	log.Logger = logger
}

// Writer returns the raw sink used by the global logger, for the HTTP request
// logger which formats its own JSON lines.
func Writer() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return writer
}

func isPretty(v string, out *os.File) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y":
		return true
	case "", "auto":
		return isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd())
	default:
		return false
	}
}
