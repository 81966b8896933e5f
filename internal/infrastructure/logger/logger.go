// Package logger configures the process-wide zerolog instance. Deep layers
// that have no logger handed to them pull the shared instance via GetLogger;
// entry points call New to rebuild it from service configuration.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const serviceTag = "sidechat"

var (
	shared zerolog.Logger
	once   sync.Once
)

// GetLogger returns the shared logger, building a console logger at info
// level on first use.
func GetLogger() zerolog.Logger {
	once.Do(func() {
		shared = build(zerolog.InfoLevel, "console")
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	})
	return shared
}

// New rebuilds the shared logger from the configured level and format
// ("json" or "console") and returns it.
func New(level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("parse log level %q: %w", level, err)
	}

	format = strings.ToLower(format)
	switch format {
	case "json", "console":
	default:
		return zerolog.Logger{}, fmt.Errorf("unsupported log format %q", format)
	}

	zerolog.SetGlobalLevel(lvl)
	shared = build(lvl, format)
	// First-use initialization must not overwrite this configuration later.
	once.Do(func() {})
	return shared, nil
}

func build(lvl zerolog.Level, format string) zerolog.Logger {
	var out io.Writer = os.Stdout
	if format == "console" {
		out = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}
	return zerolog.New(out).Level(lvl).With().
		Timestamp().
		Str("service", serviceTag).
		Logger()
}
