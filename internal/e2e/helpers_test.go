package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"enginegate/internal/httpapi"
	"enginegate/internal/manager"
	"enginegate/pkg/types"
)

// fastManager returns tunables small enough for tests.
func fastManager() manager.Config {
	return manager.Config{
		RequestTimeout: 5 * time.Second,
		ShutdownGrace:  2 * time.Second,
		Health:         manager.HealthConfig{PollInterval: 50 * time.Millisecond, Timeout: 500 * time.Millisecond},
		Spawn:          manager.SpawnConfig{ReadyAttempts: 100, ReadyBackoff: 50 * time.Millisecond, StopGrace: time.Second},
	}
}

func newGateway(t *testing.T, cfg manager.Config) (*httptest.Server, *manager.Manager) {
	t.Helper()
	mgr, err := manager.New(cfg)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	srv := httptest.NewServer(httpapi.NewMux(mgr))
	t.Cleanup(func() {
		srv.Close()
		_ = mgr.ShutdownAll(2 * time.Second)
	})
	return srv, mgr
}

// engineStub imitates a vLLM server. completions answers /v1/completions;
// nil means a fixed reply reporting 3 prompt and 5 completion tokens.
func engineStub(t *testing.T, completions http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	if completions == nil {
		completions = func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]string{{"text": "stub reply", "finish_reason": "stop"}},
				"usage":   map[string]int{"prompt_tokens": 3, "completion_tokens": 5},
			})
		}
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]string{{"id": "m"}}})
	})
	mux.HandleFunc("/v1/completions", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		completions(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &hits
}

func attachSpec(id, url, region string, cost float64) types.BackendSpec {
	return types.BackendSpec{
		ID: id, Engine: "vllm", Region: region, CostPerToken: cost,
		ModelConfig: types.ModelConfig{Model: "m"},
		BaseURL:     url,
	}
}

func httpDo(t *testing.T, method, url string, payload any) (*http.Response, []byte) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, body)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	return httpDo(t, http.MethodGet, url, nil)
}

func httpPostJSON(t *testing.T, url string, payload any) (*http.Response, []byte) {
	t.Helper()
	return httpDo(t, http.MethodPost, url, payload)
}

func mustLoad(t *testing.T, base string, spec types.BackendSpec) types.BackendStatus {
	t.Helper()
	resp, body := httpPostJSON(t, base+"/v1/backends", spec)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("load %s: %d %s", spec.ID, resp.StatusCode, body)
	}
	var st types.BackendStatus
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("load %s json: %v", spec.ID, err)
	}
	return st
}

func decodeError(t *testing.T, body []byte) types.ErrorResponse {
	t.Helper()
	var er types.ErrorResponse
	if err := json.Unmarshal(body, &er); err != nil {
		t.Fatalf("error json: %v body=%s", err, body)
	}
	return er
}

func decodeInfer(t *testing.T, body []byte) types.InferResponse {
	t.Helper()
	var ir types.InferResponse
	if err := json.Unmarshal(body, &ir); err != nil {
		t.Fatalf("infer json: %v body=%s", err, body)
	}
	return ir
}
