package events

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMemoryPublisherCopies(t *testing.T) {
	p := NewMemoryPublisher()
	p.Publish(New(SpawnStart, "a", nil))
	p.Publish(New(SpawnReady, "a", map[string]any{"url": "http://x"}))
	evs := p.Events()
	require.Len(t, evs, 2)
	evs[0].Name = "mutated"
	assert.Equal(t, SpawnStart, p.Events()[0].Name)
	assert.Len(t, p.Named(SpawnReady), 1)

	p.Publish(New(SpawnStart, "b", nil))
	assert.Len(t, p.Named(SpawnStart), 2)
	assert.Len(t, p.ForBackend("a"), 2)
	assert.Empty(t, p.ForBackend("zzz"))
}

func TestMultiSkipsNil(t *testing.T) {
	a, b := NewMemoryPublisher(), NewMemoryPublisher()
	Multi{a, nil, b}.Publish(New(DispatchOK, "x", nil))
	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)
	OrNop(nil).Publish(New(DispatchOK, "x", nil))
}

func TestLogPublisherWritesFields(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisher(zerolog.New(&buf).Level(zerolog.DebugLevel))
	p.Publish(New(DispatchError, "eu-a", map[string]any{FieldKind: "timeout"}))
	line := buf.String()
	assert.Contains(t, line, `"backend":"eu-a"`)
	assert.Contains(t, line, `"kind":"timeout"`)
	assert.Contains(t, line, `"level":"warn"`)
}

func TestMetricsPublisher(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewMetricsPublisher(reg)
	require.NoError(t, err)

	p.Publish(New(DispatchOK, "a", map[string]any{FieldDurationMS: 120.0}))
	p.Publish(New(DispatchError, "a", map[string]any{FieldKind: "timeout"}))
	p.Publish(New(StateChange, "a", map[string]any{FieldFrom: "starting", FieldTo: "ready"}))
	p.Publish(New(BudgetSpend, "a", map[string]any{FieldCost: 2.5}))

	assert.Equal(t, 1.0, testutil.ToFloat64(p.dispatchTotal.WithLabelValues("a", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.dispatchTotal.WithLabelValues("a", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.backendState.WithLabelValues("a", "ready")))
	assert.Equal(t, 0.0, testutil.ToFloat64(p.backendState.WithLabelValues("a", "starting")))
	assert.Equal(t, 2.5, testutil.ToFloat64(p.spendTotal))

	// A second publisher on the same registry reuses the collectors.
	p2, err := NewMetricsPublisher(reg)
	require.NoError(t, err)
	p2.Publish(New(DispatchOK, "a", nil))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.dispatchTotal.WithLabelValues("a", "ok")))
}

func TestAuditPublisherFiltersAndRecords(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := NewAuditPublisherWithLogger(zap.New(core))
	p.Publish(New(HealthCheck, "a", nil))
	p.Publish(New(RouteDecision, "a", map[string]any{"ranked": []string{"a", "b"}}))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, RouteDecision, entries[0].Message)
	assert.Equal(t, "a", entries[0].ContextMap()["backend"])
}

func TestAuditPublisherWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	p, err := NewAuditPublisher(path)
	require.NoError(t, err)
	p.Publish(New(BackendRegistered, "eu-a", map[string]any{"engine": "vllm"}))
	require.NoError(t, p.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(string(b))
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &rec))
	assert.Equal(t, BackendRegistered, rec["event"])
	assert.Equal(t, "eu-a", rec["backend"])
	assert.Equal(t, "vllm", rec["engine"])
}
