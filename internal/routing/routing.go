// Package routing selects a backend for a request. Policies run in a fixed,
// configured order over an immutable registry snapshot; each one narrows the
// candidate set, reorders it, or fails the route. Identical snapshots and
// requests always produce identical rankings.
package routing

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"enginegate/internal/registry"
	"enginegate/internal/supervisor"
	"enginegate/pkg/types"
)

// Policy names a step of the chain.
type Policy string

const (
	Jurisdiction Policy = "jurisdiction"
	Budget       Policy = "budget"
	ChipAffinity Policy = "chip_affinity"
	CostQuality  Policy = "cost_quality"
)

// DefaultPolicies is the chain used when none is configured.
func DefaultPolicies() []Policy {
	return []Policy{Jurisdiction, Budget, ChipAffinity, CostQuality}
}

// ParsePolicy maps a configuration string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case Jurisdiction, Budget, ChipAffinity, CostQuality:
		return p, nil
	default:
		return "", fmt.Errorf("unknown routing policy %q", s)
	}
}

// Verdict is what a policy did to one candidate.
type Verdict string

const (
	VerdictRejected  Verdict = "rejected"
	VerdictPreferred Verdict = "preferred"
	VerdictRanked    Verdict = "ranked"
)

// TrailEntry records one policy's verdict on one candidate.
type TrailEntry struct {
	Policy  string
	Backend string
	Verdict Verdict
	Reason  string
}

// BudgetSource reports the spend left in the current accounting window.
type BudgetSource interface {
	Remaining() float64
}

// Config for an Engine.
type Config struct {
	Policies      []Policy
	CostWeight    float64
	QualityWeight float64
	// Jurisdictions maps a request jurisdiction to the regions that satisfy
	// it. Unmapped jurisdictions match a region of the same name.
	Jurisdictions map[string][]string
	Budget        BudgetSource
}

// Engine evaluates the policy chain. It holds no mutable state.
type Engine struct {
	policies      []Policy
	costWeight    float64
	qualityWeight float64
	jurisdictions map[string]map[string]bool
	budget        BudgetSource
}

// New validates cfg. A zero CostWeight and QualityWeight rank by cost alone.
func New(cfg Config) (*Engine, error) {
	policies := cfg.Policies
	if len(policies) == 0 {
		policies = DefaultPolicies()
	}
	seen := map[Policy]bool{}
	for _, p := range policies {
		if _, err := ParsePolicy(string(p)); err != nil {
			return nil, err
		}
		if seen[p] {
			return nil, fmt.Errorf("routing policy %q listed twice", p)
		}
		seen[p] = true
	}
	e := &Engine{
		policies:      append([]Policy(nil), policies...),
		costWeight:    cfg.CostWeight,
		qualityWeight: cfg.QualityWeight,
		jurisdictions: make(map[string]map[string]bool, len(cfg.Jurisdictions)),
		budget:        cfg.Budget,
	}
	if e.costWeight == 0 && e.qualityWeight == 0 {
		e.costWeight = 1
	}
	for j, regions := range cfg.Jurisdictions {
		set := make(map[string]bool, len(regions))
		for _, r := range regions {
			set[fold(r)] = true
		}
		e.jurisdictions[fold(j)] = set
	}
	return e, nil
}

// Policies returns the configured chain.
func (e *Engine) Policies() []Policy { return append([]Policy(nil), e.policies...) }

// Decision is the outcome of Select.
type Decision struct {
	// Ranked lists the surviving candidates, best first.
	Ranked []registry.Snapshot
	Trail  []TrailEntry
	// EstimatedTokens is the worst-case token count used for cost checks.
	EstimatedTokens int
}

// Chosen is the id of the top-ranked candidate.
func (d Decision) Chosen() string {
	if len(d.Ranked) == 0 {
		return ""
	}
	return d.Ranked[0].ID
}

// IDs lists the ranked candidate ids.
func (d Decision) IDs() []string {
	out := make([]string, len(d.Ranked))
	for i, s := range d.Ranked {
		out[i] = s.ID
	}
	return out
}

// EstimateTokens is the worst-case token count of req: max_tokens plus a
// four-characters-per-token guess for the prompt.
func EstimateTokens(req types.InferRequest) int {
	return req.MaxTokens + (len(req.Prompt)+3)/4
}

// EstimateCost prices tokens at costPerToken.
func EstimateCost(costPerToken float64, tokens int) float64 {
	return costPerToken * float64(tokens)
}

func fold(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// selection is the working state threaded through the chain.
type selection struct {
	req        types.InferRequest
	tokens     int
	candidates []registry.Snapshot
	preferred  map[string]bool
	scored     bool
	trail      []TrailEntry
}

func (s *selection) reject(p Policy, id, reason string) {
	s.trail = append(s.trail, TrailEntry{Policy: string(p), Backend: id, Verdict: VerdictRejected, Reason: reason})
}

// keep filters candidates, recording a rejection for each dropped one.
func (s *selection) keep(p Policy, ok func(registry.Snapshot) (bool, string)) []registry.Snapshot {
	kept := s.candidates[:0:0]
	for _, c := range s.candidates {
		if pass, reason := ok(c); pass {
			kept = append(kept, c)
		} else {
			s.reject(p, c.ID, reason)
		}
	}
	return kept
}

func (s *selection) fail(kind Kind, msg string) error {
	return &Error{Kind: kind, Message: msg, Trail: s.trail}
}

// Select runs the chain over snapshot. Only Ready entries are considered,
// whatever the caller passes in.
func (e *Engine) Select(snapshot []registry.Snapshot, req types.InferRequest) (Decision, error) {
	s := &selection{req: req, tokens: EstimateTokens(req), preferred: map[string]bool{}}
	for _, c := range snapshot {
		if c.State != supervisor.StateReady {
			s.reject("ready", c.ID, "state "+string(c.State))
			continue
		}
		s.candidates = append(s.candidates, c)
	}
	if len(s.candidates) == 0 {
		return Decision{Trail: s.trail}, s.fail(KindNoReadyBackend, "no ready backend")
	}

	for _, p := range e.policies {
		var err error
		switch p {
		case Jurisdiction:
			err = e.applyJurisdiction(s)
		case Budget:
			err = e.applyBudget(s)
		case ChipAffinity:
			err = e.applyChipAffinity(s)
		case CostQuality:
			s.scored = true
		}
		if err != nil {
			return Decision{Trail: s.trail, EstimatedTokens: s.tokens}, err
		}
	}

	e.rank(s)
	return Decision{Ranked: s.candidates, Trail: s.trail, EstimatedTokens: s.tokens}, nil
}

func (e *Engine) regionAllowed(jurisdiction, region string) bool {
	if set, ok := e.jurisdictions[fold(jurisdiction)]; ok {
		return set[fold(region)]
	}
	return fold(jurisdiction) == fold(region)
}

func (e *Engine) applyJurisdiction(s *selection) error {
	j := strings.TrimSpace(s.req.Jurisdiction)
	if j == "" {
		return nil
	}
	kept := s.keep(Jurisdiction, func(c registry.Snapshot) (bool, string) {
		if e.regionAllowed(j, c.Tags.Region) {
			return true, ""
		}
		return false, fmt.Sprintf("region %q outside jurisdiction %q", c.Tags.Region, j)
	})
	if len(kept) > 0 {
		s.candidates = kept
		return nil
	}
	if s.req.AllowCrossRegion {
		return nil
	}
	return s.fail(KindJurisdictionConflict, fmt.Sprintf("no backend in jurisdiction %q", j))
}

func (e *Engine) applyBudget(s *selection) error {
	ceiling := s.req.CostCeiling
	remaining := math.Inf(1)
	if e.budget != nil {
		remaining = e.budget.Remaining()
	}
	if ceiling <= 0 && math.IsInf(remaining, 1) {
		return nil
	}
	kept := s.keep(Budget, func(c registry.Snapshot) (bool, string) {
		if ceiling > 0 && c.Tags.CostPerToken > ceiling {
			return false, fmt.Sprintf("cost per token %g above ceiling %g", c.Tags.CostPerToken, ceiling)
		}
		if est := EstimateCost(c.Tags.CostPerToken, s.tokens); est > remaining {
			return false, fmt.Sprintf("estimated cost %g above remaining budget %g", est, remaining)
		}
		return true, ""
	})
	if len(kept) == 0 {
		return s.fail(KindBudgetExceeded, "every candidate exceeds the cost limits")
	}
	s.candidates = kept
	return nil
}

func (e *Engine) applyChipAffinity(s *selection) error {
	chip := fold(s.req.PreferredChip)
	if chip == "" {
		return nil
	}
	matched := 0
	for _, c := range s.candidates {
		if fold(c.Tags.ChipType) == chip {
			s.preferred[c.ID] = true
			matched++
		}
	}
	if !s.req.ChipMandatory {
		for _, c := range s.candidates {
			if s.preferred[c.ID] {
				s.trail = append(s.trail, TrailEntry{Policy: string(ChipAffinity), Backend: c.ID, Verdict: VerdictPreferred, Reason: "chip " + c.Tags.ChipType})
			}
		}
		return nil
	}
	s.candidates = s.keep(ChipAffinity, func(c registry.Snapshot) (bool, string) {
		if s.preferred[c.ID] {
			return true, ""
		}
		return false, fmt.Sprintf("chip %q is not %q", c.Tags.ChipType, s.req.PreferredChip)
	})
	if matched == 0 {
		return s.fail(KindNoReadyBackend, fmt.Sprintf("no ready backend with chip %q", s.req.PreferredChip))
	}
	return nil
}

func (e *Engine) score(c registry.Snapshot) float64 {
	return e.costWeight*c.Tags.CostPerToken - e.qualityWeight*float64(c.Tags.QualityTier)
}

// rank orders candidates: preferred chip first, then score when cost_quality
// is in the chain, then fewer in-flight requests, then id.
func (e *Engine) rank(s *selection) {
	sort.SliceStable(s.candidates, func(i, j int) bool {
		a, b := s.candidates[i], s.candidates[j]
		if pa, pb := s.preferred[a.ID], s.preferred[b.ID]; pa != pb {
			return pa
		}
		if s.scored {
			if sa, sb := e.score(a), e.score(b); sa != sb {
				return sa < sb
			}
		}
		if a.Inflight != b.Inflight {
			return a.Inflight < b.Inflight
		}
		return a.ID < b.ID
	})
	if !s.scored {
		return
	}
	for _, c := range s.candidates {
		s.trail = append(s.trail, TrailEntry{
			Policy:  string(CostQuality),
			Backend: c.ID,
			Verdict: VerdictRanked,
			Reason:  fmt.Sprintf("score %g, in-flight %d", e.score(c), c.Inflight),
		})
	}
}
