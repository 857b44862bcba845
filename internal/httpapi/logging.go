package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// zlog is the structured logger used by the HTTP layer.
var zlog = zerolog.Nop()

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = l.With().Str("component", "httpapi").Logger() }

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "":
		return LevelOff
	case "error", "warn":
		return LevelError
	case "info":
		return LevelInfo
	case "debug", "trace":
		return LevelDebug
	default:
		return LevelInfo
	}
}

var defaultLogLevel = LevelInfo

// SetRequestLogLevel sets the level used when a request carries no override.
func SetRequestLogLevel(s string) { defaultLogLevel = parseLevel(s) }

func requestLogLevel(r *http.Request) LogLevel {
	// Per-request overrides
	if v := r.URL.Query().Get("log"); v != "" {
		if v == "1" {
			return LevelDebug
		}
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return defaultLogLevel
}

// requestLog emits start/end lines for one handler invocation at the
// request's log level.
type requestLog struct {
	lvl   LogLevel
	log   zerolog.Logger
	start time.Time
}

func newRequestLog(r *http.Request) *requestLog {
	ctx := zlog.With().Str("path", r.URL.Path).Str("method", r.Method)
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		ctx = ctx.Str("request_id", rid)
	}
	return &requestLog{lvl: requestLogLevel(r), log: ctx.Logger(), start: time.Now()}
}

func (l *requestLog) begin(msg string, fields map[string]any) {
	if l.lvl < LevelInfo {
		return
	}
	l.log.Info().Fields(fields).Msg(msg)
}

func (l *requestLog) debug(msg string, fields map[string]any) {
	if l.lvl < LevelDebug {
		return
	}
	l.log.Debug().Fields(fields).Msg(msg)
}

// end logs the outcome. Failures log at error level when the request level
// allows it; successes need info.
func (l *requestLog) end(msg string, status int, err error) {
	switch {
	case err != nil && l.lvl >= LevelError:
		l.log.Error().Int("status", status).Dur("dur", time.Since(l.start)).Err(err).Msg(msg)
	case err == nil && l.lvl >= LevelInfo:
		l.log.Info().Int("status", status).Dur("dur", time.Since(l.start)).Msg(msg)
	}
}
