package routing

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enginegate/internal/registry"
	"enginegate/internal/supervisor"
	"enginegate/pkg/types"
)

func snap(id, region, chip string, cost float64, tier int) registry.Snapshot {
	return registry.Snapshot{
		ID:    id,
		State: supervisor.StateReady,
		Tags:  registry.Tags{Region: region, ChipType: chip, CostPerToken: cost, QualityTier: tier},
	}
}

type fixedBudget float64

func (b fixedBudget) Remaining() float64 { return float64(b) }

func mustEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := New(cfg)
	require.NoError(t, err)
	return e
}

func TestJurisdictionBeatsCost(t *testing.T) {
	e := mustEngine(t, Config{})
	d, err := e.Select([]registry.Snapshot{
		snap("A", "EU", "h100", 1.0, 0),
		snap("B", "US", "h100", 0.5, 0),
	}, types.InferRequest{Prompt: "hi", MaxTokens: 8, Jurisdiction: "EU"})
	require.NoError(t, err)
	assert.Equal(t, "A", d.Chosen())
	assert.Equal(t, []string{"A"}, d.IDs())
	require.NotEmpty(t, d.Trail)
	assert.Equal(t, TrailEntry{Policy: "jurisdiction", Backend: "B", Verdict: VerdictRejected, Reason: `region "US" outside jurisdiction "EU"`}, d.Trail[0])
}

func TestJurisdictionConflictIsFatal(t *testing.T) {
	e := mustEngine(t, Config{})
	snapshot := []registry.Snapshot{snap("B", "US", "", 0.5, 0)}
	_, err := e.Select(snapshot, types.InferRequest{Jurisdiction: "EU"})
	require.True(t, IsJurisdictionConflict(err), "got %v", err)
	var re *Error
	require.ErrorAs(t, err, &re)
	require.Len(t, re.Trail, 1)
	assert.Equal(t, "B", re.Trail[0].Backend)

	d, err := e.Select(snapshot, types.InferRequest{Jurisdiction: "EU", AllowCrossRegion: true})
	require.NoError(t, err)
	assert.Equal(t, "B", d.Chosen())
}

func TestJurisdictionMapping(t *testing.T) {
	e := mustEngine(t, Config{Jurisdictions: map[string][]string{"EU": {"eu-west", "eu-central"}}})
	d, err := e.Select([]registry.Snapshot{
		snap("a", "us-east", "", 0.1, 0),
		snap("b", "EU-Central", "", 0.9, 0),
		snap("c", "eu-west", "", 0.5, 0),
	}, types.InferRequest{Jurisdiction: "eu"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, d.IDs())
}

func TestNeverSelectsNonReady(t *testing.T) {
	e := mustEngine(t, Config{})
	states := []supervisor.State{
		supervisor.StateSpawning, supervisor.StateStarting, supervisor.StateDegraded,
		supervisor.StateTerminating, supervisor.StateTerminated, supervisor.StateReady,
	}
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 200; trial++ {
		var snapshot []registry.Snapshot
		ready := map[string]bool{}
		for i := 0; i < 5; i++ {
			s := snap(string(rune('a'+i)), "r", "", rng.Float64(), rng.Intn(3))
			s.State = states[rng.Intn(len(states))]
			if s.State == supervisor.StateReady {
				ready[s.ID] = true
			}
			snapshot = append(snapshot, s)
		}
		d, err := e.Select(snapshot, types.InferRequest{})
		if len(ready) == 0 {
			require.True(t, IsNoReadyBackend(err), "trial %d: %v", trial, err)
			continue
		}
		require.NoError(t, err)
		require.Len(t, d.Ranked, len(ready))
		for _, c := range d.Ranked {
			assert.True(t, ready[c.ID], "trial %d selected %s in state %s", trial, c.ID, c.State)
		}
	}
}

func TestTieBreakPicksLowerID(t *testing.T) {
	e := mustEngine(t, Config{})
	for i := 0; i < 50; i++ {
		d, err := e.Select([]registry.Snapshot{
			snap("zeta", "r", "", 0.5, 1),
			snap("alpha", "r", "", 0.5, 1),
		}, types.InferRequest{})
		require.NoError(t, err)
		assert.Equal(t, "alpha", d.Chosen())
	}
}

func TestTieBreakPrefersLowerLoad(t *testing.T) {
	e := mustEngine(t, Config{})
	a, b := snap("a", "r", "", 0.5, 1), snap("b", "r", "", 0.5, 1)
	a.Inflight = 3
	d, err := e.Select([]registry.Snapshot{a, b}, types.InferRequest{})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, d.IDs())
}

func TestCostQualityScoring(t *testing.T) {
	snapshot := []registry.Snapshot{
		snap("cheap", "r", "", 0.1, 1),
		snap("good", "r", "", 0.3, 5),
	}
	d, err := mustEngine(t, Config{}).Select(snapshot, types.InferRequest{})
	require.NoError(t, err)
	assert.Equal(t, []string{"cheap", "good"}, d.IDs())

	d, err = mustEngine(t, Config{CostWeight: 1, QualityWeight: 0.1}).Select(snapshot, types.InferRequest{})
	require.NoError(t, err)
	assert.Equal(t, []string{"good", "cheap"}, d.IDs())
}

func TestRankingIsDeterministic(t *testing.T) {
	e := mustEngine(t, Config{CostWeight: 1, QualityWeight: 0.2})
	snapshot := []registry.Snapshot{
		snap("d", "r", "a100", 0.4, 2), snap("b", "r", "h100", 0.2, 1),
		snap("c", "r", "h100", 0.4, 2), snap("a", "r", "a100", 0.2, 1),
	}
	req := types.InferRequest{PreferredChip: "h100"}
	first, err := e.Select(snapshot, req)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		shuffled := append([]registry.Snapshot(nil), snapshot...)
		rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		d, err := e.Select(shuffled, req)
		require.NoError(t, err)
		assert.Equal(t, first.IDs(), d.IDs())
	}
	assert.Equal(t, []string{"b", "c", "a", "d"}, first.IDs())
}

func TestBudgetPolicy(t *testing.T) {
	snapshot := []registry.Snapshot{
		snap("pricey", "r", "", 2, 0),
		snap("cheap", "r", "", 0.5, 0),
	}
	req := types.InferRequest{Prompt: "abcd", MaxTokens: 9} // 10 tokens

	d, err := mustEngine(t, Config{Budget: fixedBudget(6)}).Select(snapshot, req)
	require.NoError(t, err)
	assert.Equal(t, []string{"cheap"}, d.IDs())
	assert.Equal(t, 10, d.EstimatedTokens)

	_, err = mustEngine(t, Config{Budget: fixedBudget(1)}).Select(snapshot, req)
	require.True(t, IsBudgetExceeded(err), "got %v", err)

	req.CostCeiling = 0.4
	_, err = mustEngine(t, Config{}).Select(snapshot, req)
	require.True(t, IsBudgetExceeded(err), "got %v", err)
	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Len(t, re.Trail, 2)
}

func TestChipAffinity(t *testing.T) {
	e := mustEngine(t, Config{})
	snapshot := []registry.Snapshot{
		snap("a", "r", "a100", 0.1, 0),
		snap("b", "r", "H100", 0.9, 0),
	}
	d, err := e.Select(snapshot, types.InferRequest{PreferredChip: "h100"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, d.IDs(), "preferred chip first, others kept for failover")

	d, err = e.Select(snapshot, types.InferRequest{PreferredChip: "tpu"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, d.IDs())

	d, err = e.Select(snapshot, types.InferRequest{PreferredChip: "h100", ChipMandatory: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, d.IDs())

	_, err = e.Select(snapshot, types.InferRequest{PreferredChip: "tpu", ChipMandatory: true})
	assert.True(t, IsNoReadyBackend(err), "got %v", err)
}

func TestPolicyOrderMatters(t *testing.T) {
	snapshot := []registry.Snapshot{
		snap("eu", "eu", "", 5, 0),
		snap("us", "us", "", 0.1, 0),
	}
	req := types.InferRequest{MaxTokens: 10, Jurisdiction: "eu", AllowCrossRegion: true}

	// Budget first drops eu, leaving us which satisfies nothing but is allowed.
	d, err := mustEngine(t, Config{Policies: []Policy{Budget, Jurisdiction}, Budget: fixedBudget(10)}).Select(snapshot, req)
	require.NoError(t, err)
	assert.Equal(t, []string{"us"}, d.IDs())

	// Jurisdiction first leaves only eu, which budget then drops.
	_, err = mustEngine(t, Config{Policies: []Policy{Jurisdiction, Budget}, Budget: fixedBudget(10)}).Select(snapshot, req)
	assert.True(t, IsBudgetExceeded(err), "got %v", err)
}

func TestNewRejectsBadPolicies(t *testing.T) {
	_, err := New(Config{Policies: []Policy{"random"}})
	assert.Error(t, err)
	_, err = New(Config{Policies: []Policy{Budget, Budget}})
	assert.Error(t, err)
	p, err := ParsePolicy(" Chip_Affinity ")
	require.NoError(t, err)
	assert.Equal(t, ChipAffinity, p)
}

func TestEmptySnapshot(t *testing.T) {
	_, err := mustEngine(t, Config{}).Select(nil, types.InferRequest{})
	assert.True(t, IsNoReadyBackend(err))
	assert.EqualError(t, err, "routing: no_ready_backend: no ready backend")
}
