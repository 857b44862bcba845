package testctl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"enginegate/pkg/types"
)

// SmokeOptions drives one pass over a running gateway's API.
type SmokeOptions struct {
	BaseURL string
	// When set, the engine listening here is attached for the duration of
	// the run and removed afterwards.
	EngineURL string
	Engine    string
	Model     string

	Prompt       string
	Jurisdiction string
	Timeout      time.Duration
}

// SmokeReport is what a successful run observed.
type SmokeReport struct {
	Attached   string
	ReadyCount int
	ServedBy   string
	Text       string
	Attempts   int
}

type apiError struct {
	Status int
	Body   types.ErrorResponse
}

func (e *apiError) Error() string {
	if e.Body.Kind != "" {
		return fmt.Sprintf("%d %s: %s", e.Status, e.Body.Kind, e.Body.Error)
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Body.Error)
}

type client struct {
	base string
	http *http.Client
}

func (c *client) do(ctx context.Context, method, path string, in, out any, want int) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		ae := &apiError{Status: resp.StatusCode}
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(b, &ae.Body) != nil || ae.Body.Error == "" {
			ae.Body.Error = strings.TrimSpace(string(b))
		}
		return fmt.Errorf("%s %s: %w", method, path, ae)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Smoke checks liveness, optionally attaches an engine, waits for a ready
// backend, runs one inference and reads /status.
func Smoke(ctx context.Context, o SmokeOptions) (SmokeReport, error) {
	var rep SmokeReport
	if o.BaseURL == "" {
		return rep, fmt.Errorf("base url is required")
	}
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	if o.Prompt == "" {
		o.Prompt = "Say hello."
	}
	base := strings.TrimRight(o.BaseURL, "/")
	c := &client{base: base, http: &http.Client{Timeout: o.Timeout}}

	info("[smoke] waiting for %s/healthz", base)
	if err := waitHTTP(ctx, base+"/healthz", http.StatusOK, o.Timeout); err != nil {
		return rep, err
	}

	if o.EngineURL != "" {
		spec := types.BackendSpec{
			ID:          "smoke-" + uuid.NewString()[:8],
			Engine:      o.Engine,
			ModelConfig: types.ModelConfig{Model: o.Model},
			BaseURL:     o.EngineURL,
		}
		if spec.Engine == "" {
			spec.Engine = "vllm"
		}
		if spec.Model == "" {
			spec.Model = "smoke"
		}
		var st types.BackendStatus
		if err := c.do(ctx, http.MethodPost, "/v1/backends", spec, &st, http.StatusCreated); err != nil {
			return rep, err
		}
		rep.Attached = st.ID
		info("[smoke] attached %s (%s) in state %s", st.ID, st.Engine, st.State)
		defer func() {
			dctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := c.do(dctx, http.MethodDelete, "/v1/backends/"+st.ID, nil, nil, http.StatusNoContent); err != nil {
				warn("[smoke] detach %s: %v", st.ID, err)
			}
		}()
	}

	if err := waitHTTP(ctx, base+"/readyz", http.StatusOK, o.Timeout); err != nil {
		return rep, err
	}

	req := types.InferRequest{
		Prompt:       o.Prompt,
		MaxTokens:    16,
		Jurisdiction: o.Jurisdiction,
		RequestID:    "smoke-" + uuid.NewString(),
	}
	var res types.InferResponse
	if err := c.do(ctx, http.MethodPost, "/v1/infer", req, &res, http.StatusOK); err != nil {
		return rep, err
	}
	if res.RequestID != req.RequestID {
		return rep, fmt.Errorf("request id not echoed: sent %s, got %q", req.RequestID, res.RequestID)
	}
	rep.ServedBy, rep.Text, rep.Attempts = res.ServedBy, res.Text, res.Attempts
	info("[smoke] served by %s after %d attempt(s): %q", res.ServedBy, res.Attempts, res.Text)

	var st types.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/status", nil, &st, http.StatusOK); err != nil {
		return rep, err
	}
	rep.ReadyCount = st.ReadyCount
	if st.ReadyCount < 1 {
		return rep, fmt.Errorf("status reports no ready backend after a successful inference")
	}
	return rep, nil
}
