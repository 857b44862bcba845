package httpapi

import (
	"context"
	"net/http"
	"time"
)

// requestContext derives the handler context from the request. It is also
// canceled when base ends (server shutdown) and, for a positive timeout,
// once timeout elapses. A deadline already on the request still applies.
func requestContext(base context.Context, r *http.Request, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(r.Context())
	stop := context.AfterFunc(base, cancel)
	release := func() {
		stop()
		cancel()
	}
	if timeout <= 0 {
		return ctx, release
	}
	ctx, cancelTO := context.WithTimeout(ctx, timeout)
	return ctx, func() { cancelTO(); release() }
}

// deadlineFromHeader parses X-Request-Timeout ("30s") into a per-request
// timeout. Invalid or missing values yield zero.
func deadlineFromHeader(r *http.Request) time.Duration {
	v := r.Header.Get("X-Request-Timeout")
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0
	}
	return d
}
