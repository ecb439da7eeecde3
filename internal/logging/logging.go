package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level  string `json:"level" split_words:"true"`
	Pretty bool   `json:"pretty" split_words:"true"`
}

// New builds the process logger. Pretty selects the console writer used
// on terminals; otherwise lines are JSON.
func New(cfg Config, app string) zerolog.Logger {
	return NewWithWriter(cfg, app, os.Stderr)
}

func NewWithWriter(cfg Config, app string, w io.Writer) zerolog.Logger {
	out := w
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("app", app).
		Logger()
}

// ParseLevel maps a config string to a level, defaulting to info.
func ParseLevel(raw string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off", "none":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// EnvelopeEvent adds the envelope identity fields every protocol log line
// carries.
func EnvelopeEvent(e *zerolog.Event, msgID, sender, target, action string) *zerolog.Event {
	return e.Str("msg_id", msgID).
		Str("sender", sender).
		Str("target", target).
		Str("action", action)
}
