package observability

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogConfig captures options for configuring the global logger.
type LogConfig struct {
	Level   string    // optional log level ("debug", "info", etc.)
	Output  io.Writer // optional writer (defaults to os.Stdout)
	Service string    // optional service name attached to every log entry
}

var (
	logOnce sync.Once
	baseLog zerolog.Logger
)

// ConfigureLogging initialises the global zerolog logger exactly once.
func ConfigureLogging(cfg LogConfig) {
	logOnce.Do(func() {
		level := zerolog.InfoLevel
		if cfg.Level != "" {
			if parsed, err := zerolog.ParseLevel(cfg.Level); err == nil {
				level = parsed
			}
		} else if env := os.Getenv("LOG_LEVEL"); env != "" {
			if parsed, err := zerolog.ParseLevel(env); err == nil {
				level = parsed
			}
		}
		zerolog.SetGlobalLevel(level)
		zerolog.TimeFieldFormat = time.RFC3339

		writer := cfg.Output
		if writer == nil {
			writer = os.Stdout
		}

		service := cfg.Service
		if service == "" {
			service = "verbatim-hub"
		}

		baseLog = zerolog.New(writer).With().
			Timestamp().
			Str("service", service).
			Logger()
	})
}

// Logger returns the configured base logger instance.
func Logger() zerolog.Logger {
	ConfigureLogging(LogConfig{})
	return baseLog
}
