package testctl

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var logger = newConsoleLogger(os.Stdout)

func init() {
	SetLogLevel(envStr("TESTCTL_LOG_LEVEL", "info"))
}

func newConsoleLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("component", "testctl").Logger()
}

// SetLogLevel accepts debug, info, warn or error. Anything else means info.
func SetLogLevel(level string) {
	switch strings.ToLower(level) {
	case "debug":
		logger = logger.Level(zerolog.DebugLevel)
	case "warn", "warning":
		logger = logger.Level(zerolog.WarnLevel)
	case "error", "err":
		logger = logger.Level(zerolog.ErrorLevel)
	default:
		logger = logger.Level(zerolog.InfoLevel)
	}
}

func debug(format string, a ...any) { logger.Debug().Msgf(format, a...) }
func info(format string, a ...any)  { logger.Info().Msgf(format, a...) }
func warn(format string, a ...any)  { logger.Warn().Msgf(format, a...) }
func errl(format string, a ...any)  { logger.Error().Msgf(format, a...) }

// Env helpers
func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	s := strings.ToLower(v)
	return s == "1" || s == "true" || s == "yes"
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
