package e2e

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"enginegate/internal/testutil"
	"enginegate/pkg/types"
)

func spawnSpec(bin, id, engine, region string, env ...string) types.BackendSpec {
	return types.BackendSpec{
		ID: id, Engine: engine, Region: region, CostPerToken: 1,
		ModelConfig: types.ModelConfig{Model: "fake/model"},
		Program:     []string{bin},
		Env:         env,
	}
}

func portClosed(t *testing.T, baseURL string, within time.Duration) bool {
	t.Helper()
	u, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("parse %s: %v", baseURL, err)
	}
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		c, err := net.DialTimeout("tcp", u.Host, 100*time.Millisecond)
		if err != nil {
			return true
		}
		_ = c.Close()
		time.Sleep(50 * time.Millisecond)
	}
	return false
}

// TestE2E_SpawnInferUnload drives a spawned engine through its whole life
// over the HTTP API.
func TestE2E_SpawnInferUnload(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns processes")
	}
	bin := testutil.FakeEngine(t)
	srv, _ := newGateway(t, fastManager())

	for _, engine := range []string{"vllm", "tgi"} {
		t.Run(engine, func(t *testing.T) {
			st := mustLoad(t, srv.URL, spawnSpec(bin, "spawned-"+engine, engine, "eu-west", "FAKE_ENGINE_REPLY=hello there"))
			if st.State != "ready" || st.PID == 0 || st.BaseURL == "" {
				t.Fatalf("unexpected status after load: %+v", st)
			}

			resp, body := httpPostJSON(t, srv.URL+"/v1/infer", types.InferRequest{Prompt: "hi", MaxTokens: 8})
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("infer: %d %s", resp.StatusCode, body)
			}
			ir := decodeInfer(t, body)
			if ir.ServedBy != st.ID || ir.Text != "hello there" {
				t.Fatalf("unexpected response %+v", ir)
			}

			resp, body = httpDo(t, http.MethodDelete, srv.URL+"/v1/backends/"+st.ID+"?grace=2s", nil)
			if resp.StatusCode != http.StatusNoContent {
				t.Fatalf("unload: %d %s", resp.StatusCode, body)
			}
			if !portClosed(t, st.BaseURL, 5*time.Second) {
				t.Fatalf("engine still listening at %s after unload", st.BaseURL)
			}
		})
	}
}

func TestE2E_SpawnFailureSurfacesStderr(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns processes")
	}
	bin := testutil.FakeEngine(t)
	srv, _ := newGateway(t, fastManager())

	resp, body := httpPostJSON(t, srv.URL+"/v1/backends", spawnSpec(bin, "doomed", "vllm", "", "FAKE_ENGINE_EXIT=3"))
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d %s", resp.StatusCode, body)
	}
	er := decodeError(t, body)
	if er.Kind != "spawn" || !strings.Contains(er.Error, "out of memory") {
		t.Fatalf("unexpected error body %+v", er)
	}

	// A failed load releases the id for another try.
	st := mustLoad(t, srv.URL, spawnSpec(bin, "doomed", "vllm", ""))
	if st.State != "ready" {
		t.Fatalf("retry not ready: %+v", st)
	}
}

func TestE2E_ShutdownStopsStubbornEngines(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns processes")
	}
	bin := testutil.FakeEngine(t)
	cfg := fastManager()
	cfg.Spawn.StopGrace = 300 * time.Millisecond
	srv, mgr := newGateway(t, cfg)

	a := mustLoad(t, srv.URL, spawnSpec(bin, "polite", "vllm", ""))
	b := mustLoad(t, srv.URL, spawnSpec(bin, "stubborn", "tgi", "", "FAKE_ENGINE_IGNORE_TERM=1"))

	start := time.Now()
	if err := mgr.ShutdownAll(time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if d := time.Since(start); d > 10*time.Second {
		t.Fatalf("shutdown took %v", d)
	}
	for _, st := range []types.BackendStatus{a, b} {
		if !portClosed(t, st.BaseURL, 3*time.Second) {
			t.Fatalf("%s still listening after shutdown", st.ID)
		}
	}
	if got := mgr.Backends(); len(got) != 0 {
		t.Fatalf("backends left after shutdown: %+v", got)
	}
}
