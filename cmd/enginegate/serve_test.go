package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"enginegate/internal/config"
	"enginegate/internal/manager"
	"enginegate/pkg/types"
)

func vllmStub(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]string{{"id": "m"}}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func fastConfig(backends ...types.BackendSpec) config.Config {
	cfg := config.Config{Addr: "127.0.0.1:0", Backends: backends}
	cfg.Spawn = config.SpawnConfig{ReadyAttempts: 3, ReadyBackoff: config.Duration(10 * time.Millisecond), StopGrace: config.Duration(100 * time.Millisecond)}
	cfg.Health = config.HealthConfig{PollInterval: config.Duration(50 * time.Millisecond), Timeout: config.Duration(100 * time.Millisecond)}
	cfg.ShutdownGrace = config.Duration(time.Second)
	cfg.ApplyDefaults()
	return cfg
}

func TestLoadBackendsSkipsFailures(t *testing.T) {
	good := vllmStub(t)
	cfg := fastConfig(
		types.BackendSpec{ID: "good", Engine: "vllm", ModelConfig: types.ModelConfig{Model: "m"}, BaseURL: good.URL},
		types.BackendSpec{ID: "gone", Engine: "vllm", ModelConfig: types.ModelConfig{Model: "m"}, BaseURL: "http://127.0.0.1:1"},
	)
	mc, err := cfg.ManagerConfig(zerolog.Nop(), nil)
	if err != nil {
		t.Fatal(err)
	}
	mgr, err := manager.New(mc)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = mgr.ShutdownAll(time.Second) }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if n := loadBackends(ctx, mgr, cfg, zerolog.Nop()); n != 1 {
		t.Fatalf("loaded %d backends, want 1", n)
	}
	if _, err := mgr.Backend("good"); err != nil {
		t.Fatalf("good backend missing: %v", err)
	}
}

func TestPublishersWithAuditLog(t *testing.T) {
	cfg := fastConfig()
	cfg.AuditLog = filepath.Join(t.TempDir(), "audit.jsonl")
	pub, closeFn, err := publishers(cfg, zerolog.Nop(), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("publishers: %v", err)
	}
	mgr, err := manager.New(manager.Config{Publisher: pub})
	if err != nil {
		t.Fatal(err)
	}
	srv := vllmStub(t)
	spec := types.BackendSpec{ID: "a", Engine: "vllm", ModelConfig: types.ModelConfig{Model: "m"}, BaseURL: srv.URL}
	if _, err := mgr.Attach(context.Background(), spec); err != nil {
		t.Fatalf("attach: %v", err)
	}
	_ = mgr.ShutdownAll(time.Second)
	closeFn()

	b, err := os.ReadFile(cfg.AuditLog)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "backend_registered") {
		t.Fatalf("audit log missing registration: %s", b)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	srv := vllmStub(t)
	cfg := fastConfig(types.BackendSpec{ID: "a", Engine: "vllm", ModelConfig: types.ModelConfig{Model: "m"}, BaseURL: srv.URL})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, zerolog.Nop()) }()
	time.Sleep(200 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestMuxOptionsFollowConfig(t *testing.T) {
	cfg := fastConfig()
	if got := len(muxOptions(cfg, context.Background())); got != 3 {
		t.Fatalf("expected base, body and load options only, got %d", got)
	}
	cfg.HTTP.CORS = config.CORSConfig{Enabled: true, AllowedOrigins: []string{"*"}}
	if got := len(muxOptions(cfg, context.Background())); got != 4 {
		t.Fatalf("expected CORS option when enabled, got %d", got)
	}
}
