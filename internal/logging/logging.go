// Package logging configures the bot's structured logging.
//
// Three sinks can be active at once:
//   - a human-readable console writer (short timestamps)
//   - a JSON file
//   - the logs table of the bot's own database, so operators can query
//     recent warnings and errors through the owner commands
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/BPS-Circular-API/discord-bot/internal/config"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// New builds the root logger from config. sink may be nil, which disables
// the database writer regardless of config. The level is applied globally so
// a config reload can change it without rebuilding the logger.
func New(cfg config.LoggingConfig, sink Sink) zerolog.Logger {
	zerolog.TimeFieldFormat = consoleTimeFormat
	zerolog.ErrorFieldName = "err"

	writers := make([]io.Writer, 0, 3)
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: consoleTimeFormat})
	}
	if cfg.File.Enabled && strings.TrimSpace(cfg.File.Path) != "" {
		f, err := os.OpenFile(cfg.File.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err == nil {
			writers = append(writers, f)
		}
	}
	if cfg.Database.Enabled && sink != nil {
		writers = append(writers, &dbWriter{
			sink:     sink,
			minLevel: ParseLevel(cfg.Database.MinLevel, zerolog.InfoLevel),
		})
	}
	if len(writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: consoleTimeFormat})
	}

	zerolog.SetGlobalLevel(ParseLevel(cfg.Level, zerolog.InfoLevel))
	return zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
}

// Console returns a standalone console logger for bootstrap, before the
// config and storage layers exist.
func Console(level string) zerolog.Logger {
	zerolog.TimeFieldFormat = consoleTimeFormat
	cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: consoleTimeFormat}
	return zerolog.New(cw).Level(ParseLevel(level, zerolog.InfoLevel)).With().Timestamp().Logger()
}

func ParseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return def
	}
}

// Entry is one row of the logs table.
type Entry struct {
	At      time.Time
	Level   string
	Message string
}

// Sink receives non-debug log entries for durable storage.
type Sink interface {
	AppendLog(e Entry) error
}
