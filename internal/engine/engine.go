// Package engine normalizes the wire protocols of the supported inference
// engines behind one Adapter interface. The set of engines is closed: every
// switch over Type is exhaustive.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"enginegate/pkg/types"
)

// Type identifies an engine family.
type Type string

const (
	VLLM     Type = "vllm"
	TGI      Type = "tgi"
	TensorRT Type = "tensorrt"
)

// Types lists every supported engine in a stable order.
func Types() []Type { return []Type{VLLM, TGI, TensorRT} }

// ParseType maps a configuration string to a Type.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case VLLM, TGI, TensorRT:
		return t, nil
	default:
		return "", fmt.Errorf("unknown engine type %q", s)
	}
}

// Completion is the engine-neutral result of one generate call.
type Completion struct {
	Text             string
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
}

// Adapter is the capability set every engine variant implements.
type Adapter interface {
	// Engine reports the variant.
	Engine() Type
	// BaseURL is the root of the engine's HTTP API.
	BaseURL() string
	// LoadModel makes cfg.Model servable and verifies the engine reports it.
	LoadModel(ctx context.Context, cfg types.ModelConfig) error
	// Submit translates req to the engine's native shape and back. Parameters
	// the engine cannot honor fail with KindUnsupportedParameter before any I/O.
	Submit(ctx context.Context, req types.InferRequest) (Completion, error)
}

// Options configures an adapter.
type Options struct {
	BaseURL string
	// Model is the model name sent with requests until LoadModel replaces it.
	Model string
	// HTTPClient defaults to a client with no timeout; deadlines come from
	// the request context.
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// New returns the adapter for t.
func New(t Type, opts Options) (Adapter, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, fmt.Errorf("engine %s: empty base url", t)
	}
	c := newClient(t, opts)
	switch t {
	case VLLM:
		return &vllmAdapter{client: c}, nil
	case TGI:
		return &tgiAdapter{client: c}, nil
	case TensorRT:
		return &tensorrtAdapter{client: c}, nil
	default:
		return nil, fmt.Errorf("unknown engine type %q", t)
	}
}
