package observability

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	EnvLogLevel = "GRIDWORLD_LOG_LEVEL"
	EnvLogJSON  = "GRIDWORLD_LOG_JSON"
)

// NewLogger builds the process logger. Console output unless GRIDWORLD_LOG_JSON is set.
func NewLogger(app string) zerolog.Logger {
	return newLogger(os.Stdout, app, os.Getenv(EnvLogLevel), os.Getenv(EnvLogJSON))
}

func newLogger(out io.Writer, app, rawLevel, rawJSON string) zerolog.Logger {
	w := out
	if asJSON, ok := parseBool(rawJSON); !ok || !asJSON {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	level, _ := ParseLevel(rawLevel)
	return zerolog.New(w).Level(level).With().Timestamp().Str("app", app).Logger()
}

// ParseLevel maps a level name to a zerolog level. Unknown names fall back to info.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
