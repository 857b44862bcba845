package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"enginegate/pkg/types"
)

// maxResponseBytes bounds how much of an engine response is read.
const maxResponseBytes = 8 << 20

// errorTailBytes bounds the raw body kept in rejection messages.
const errorTailBytes = 4096

// client is the HTTP plumbing shared by every adapter variant.
type client struct {
	engine Type
	base   string
	http   *http.Client
	log    zerolog.Logger

	mu    sync.RWMutex
	model string
}

func newClient(t Type, o Options) *client {
	hc := o.HTTPClient
	if hc == nil {
		// Timeout=0: every call carries a context deadline instead.
		hc = &http.Client{Timeout: 0}
	}
	return &client{
		engine: t,
		base:   strings.TrimRight(o.BaseURL, "/"),
		http:   hc,
		log:    o.Logger.With().Str("engine", string(t)).Logger(),
		model:  o.Model,
	}
}

func (c *client) Engine() Type    { return c.engine }
func (c *client) BaseURL() string { return c.base }

func (c *client) modelName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model
}

func (c *client) setModel(m string) {
	c.mu.Lock()
	c.model = m
	c.mu.Unlock()
}

// do sends in as JSON (when non-nil) and decodes a 2xx JSON body into out
// (when non-nil). Non-2xx answers become KindBackendRejected.
func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return &Error{Kind: KindTransport, Engine: c.engine, Message: "encode request", Err: err}
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return &Error{Kind: KindTransport, Engine: c.engine, Message: "build request", Err: err}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return c.transportErr(ctx, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return c.transportErr(ctx, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := rejectionMessage(raw)
		c.log.Debug().Str("path", path).Int("status", resp.StatusCode).Str("error", msg).Msg("engine rejected request")
		return &Error{Kind: KindBackendRejected, Engine: c.engine, Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Kind: KindTransport, Engine: c.engine, Message: "decode response", Err: err}
	}
	return nil
}

func (c *client) transportErr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Engine: c.engine, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Kind: KindTimeout, Engine: c.engine, Err: err}
	}
	return &Error{Kind: KindTransport, Engine: c.engine, Err: err}
}

// rejectionMessage extracts a human-readable message from the error bodies
// the engines emit: {"error": "..."}, {"error": {"message": "..."}},
// {"message": "..."} or {"detail": "..."}. Falls back to the raw tail.
func rejectionMessage(raw []byte) string {
	var probe struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
		Detail  string          `json:"detail"`
	}
	if json.Unmarshal(raw, &probe) == nil {
		if len(probe.Error) > 0 {
			var s string
			if json.Unmarshal(probe.Error, &s) == nil && s != "" {
				return s
			}
			var nested struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(probe.Error, &nested) == nil && nested.Message != "" {
				return nested.Message
			}
		}
		if probe.Message != "" {
			return probe.Message
		}
		if probe.Detail != "" {
			return probe.Detail
		}
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > errorTailBytes {
		s = s[len(s)-errorTailBytes:]
	}
	return s
}

// Optional request parameters by wire name.
const (
	ParamTopP              = "top_p"
	ParamTopK              = "top_k"
	ParamSeed              = "seed"
	ParamPresencePenalty   = "presence_penalty"
	ParamFrequencyPenalty  = "frequency_penalty"
	ParamRepetitionPenalty = "repetition_penalty"
)

// setParams lists the optional parameters req sets, in a fixed order.
func setParams(req types.InferRequest) []string {
	var out []string
	if req.TopP != nil {
		out = append(out, ParamTopP)
	}
	if req.TopK != nil {
		out = append(out, ParamTopK)
	}
	if req.Seed != nil {
		out = append(out, ParamSeed)
	}
	if req.PresencePenalty != nil {
		out = append(out, ParamPresencePenalty)
	}
	if req.FrequencyPenalty != nil {
		out = append(out, ParamFrequencyPenalty)
	}
	if req.RepetitionPenalty != nil {
		out = append(out, ParamRepetitionPenalty)
	}
	return out
}

// Unsupported returns the parameters engine t cannot honor.
func Unsupported(t Type) []string {
	switch t {
	case VLLM:
		return nil
	case TGI:
		return []string{ParamPresencePenalty}
	case TensorRT:
		return []string{ParamSeed}
	default:
		return nil
	}
}

// checkParams fails with KindUnsupportedParameter on the first optional
// parameter that t cannot honor.
func checkParams(t Type, req types.InferRequest) error {
	unsupported := Unsupported(t)
	if len(unsupported) == 0 {
		return nil
	}
	for _, p := range setParams(req) {
		for _, u := range unsupported {
			if p == u {
				return &Error{Kind: KindUnsupportedParameter, Engine: t, Param: p}
			}
		}
	}
	return nil
}
