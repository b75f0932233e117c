package logging

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

// dbWriter forwards serialized log events to the database sink.
//
// It implements zerolog.LevelWriter so filtering happens before any JSON
// decoding. Sink failures are swallowed: logging must never take the bot
// down, and there is nowhere better to report them.
type dbWriter struct {
	sink     Sink
	minLevel zerolog.Level
}

func (w *dbWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w *dbWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < w.minLevel || level == zerolog.DebugLevel || level == zerolog.TraceLevel {
		return len(p), nil
	}

	var ev struct {
		Time    string `json:"time"`
		Message string `json:"message"`
	}
	// p is a complete JSON event; keep the raw line when it doesn't decode.
	msg := string(p)
	at := time.Now()
	if err := json.Unmarshal(p, &ev); err == nil {
		if ev.Message != "" {
			msg = ev.Message
		}
		if t, err := time.Parse(consoleTimeFormat, ev.Time); err == nil {
			at = t
		}
	}

	_ = w.sink.AppendLog(Entry{At: at, Level: level.String(), Message: msg})
	return len(p), nil
}
