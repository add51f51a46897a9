// Package observability builds the process logger and exposes engine
// counters to Prometheus.
package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LevelEnv overrides the log level chosen on the command line.
const LevelEnv = "MIXER_LOG_LEVEL"

// LogOptions configures InitLogger.
type LogOptions struct {
	Level   string
	Out     io.Writer
	NoColor bool
}

// Session identifies one run of the mixer in logs and status output.
var Session = uuid.NewString()

// InitLogger builds the process logger and installs it as log.Logger.
func InitLogger(app string, opts LogOptions) zerolog.Logger {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		NoColor:    opts.NoColor,
	}
	logger := zerolog.New(output).Level(ParseLevel(opts.Level)).With().
		Timestamp().
		Str("app", app).
		Str("session", Session).
		Logger()
	log.Logger = logger
	return logger
}

// ParseLevel resolves the level from the environment override or name,
// falling back to warn.
func ParseLevel(name string) zerolog.Level {
	if env := strings.TrimSpace(os.Getenv(LevelEnv)); env != "" {
		name = env
	}
	if name == "" {
		return zerolog.WarnLevel
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(name))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.WarnLevel
	}
	return lvl
}
