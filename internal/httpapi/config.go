package httpapi

import (
	"context"
	"time"

	"github.com/go-chi/cors"
)

const (
	defaultMaxBodyBytes int64 = 1 << 20
	defaultLoadTimeout        = 10 * time.Minute
)

// options holds the per-mux settings. NewMux fills in defaults for zero
// fields.
type options struct {
	base         context.Context
	maxBodyBytes int64
	loadTimeout  time.Duration
	cors         *cors.Options
}

// Option configures NewMux.
type Option func(*options)

// WithBaseContext ties handler contexts to ctx, so canceling it aborts
// in-flight inference and loads.
func WithBaseContext(ctx context.Context) Option {
	return func(o *options) {
		if ctx != nil {
			o.base = ctx
		}
	}
}

// WithMaxBodyBytes caps JSON request bodies. Non-positive keeps 1 MiB.
func WithMaxBodyBytes(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBodyBytes = n
		}
	}
}

// WithLoadTimeout bounds POST /v1/backends, which waits for the engine to
// come up. Non-positive keeps the 10 minute default.
func WithLoadTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.loadTimeout = d
		}
	}
}

// WithCORS enables the CORS middleware. Empty methods or headers fall back
// to what the API actually uses.
func WithCORS(origins, methods, headers []string) Option {
	return func(o *options) {
		if len(methods) == 0 {
			methods = []string{"GET", "POST", "DELETE", "OPTIONS"}
		}
		if len(headers) == 0 {
			headers = []string{"Content-Type", "X-Request-Id", "X-Request-Timeout"}
		}
		o.cors = &cors.Options{
			AllowedOrigins: append([]string(nil), origins...),
			AllowedMethods: append([]string(nil), methods...),
			AllowedHeaders: append([]string(nil), headers...),
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{base: context.Background(), maxBodyBytes: defaultMaxBodyBytes, loadTimeout: defaultLoadTimeout}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
