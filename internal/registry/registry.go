// Package registry is the authoritative set of known backends. Readers get
// immutable snapshots; handle state is written only through UpdateState by
// the handle's supervisor.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"enginegate/internal/engine"
	"enginegate/internal/events"
	"enginegate/internal/supervisor"
)

var (
	// ErrDuplicateID is returned when an id is live or was used before.
	ErrDuplicateID = errors.New("registry: duplicate backend id")
	// ErrNotFound is returned for unknown ids.
	ErrNotFound = errors.New("registry: backend not found")
)

// Tags are the routing attributes declared for a backend.
type Tags struct {
	Region       string
	ChipType     string
	CostPerToken float64
	QualityTier  int
	Model        string
	Engine       engine.Type
}

// Process is the lifecycle surface of a backend's supervisor.
type Process interface {
	Shutdown(grace time.Duration) error
	PID() int
	LastHealth() supervisor.HealthSignal
}

// Handle is one backend: adapter, process and load counters. The registry
// owns handles; everything else holds them only through snapshots.
type Handle struct {
	ID      string
	Tags    Tags
	Adapter engine.Adapter
	Process Process

	inflight atomic.Int64
	requests atomic.Uint64
	failures atomic.Uint64
	// generated tokens and the dispatch time that produced them
	tokens    atomic.Uint64
	busyNanos atomic.Int64
}

// Acquire counts one in-flight request and returns its release func.
func (h *Handle) Acquire() (release func()) {
	h.inflight.Add(1)
	h.requests.Add(1)
	var once sync.Once
	return func() { once.Do(func() { h.inflight.Add(-1) }) }
}

// RecordFailure counts a failed dispatch.
func (h *Handle) RecordFailure() { h.failures.Add(1) }

// RecordCompletion adds a served request's generated tokens and duration
// to the throughput average.
func (h *Handle) RecordCompletion(tokens int, took time.Duration) {
	if tokens <= 0 || took <= 0 {
		return
	}
	h.tokens.Add(uint64(tokens))
	h.busyNanos.Add(int64(took))
}

// TokensPerSecond is generated tokens over dispatch time across served
// requests, zero before the first one.
func (h *Handle) TokensPerSecond() float64 {
	busy := time.Duration(h.busyNanos.Load())
	if busy <= 0 {
		return 0
	}
	return float64(h.tokens.Load()) / busy.Seconds()
}

func (h *Handle) Inflight() int64  { return h.inflight.Load() }
func (h *Handle) Requests() uint64 { return h.requests.Load() }
func (h *Handle) Failures() uint64 { return h.failures.Load() }

// Snapshot is a point-in-time copy of one registry entry.
type Snapshot struct {
	Handle   *Handle
	ID       string
	Tags     Tags
	State    supervisor.State
	Inflight int64
}

// Filter narrows ListReady. Empty fields match everything; matching is
// case-insensitive.
type Filter struct {
	Region   string
	ChipType string
	Model    string
}

type entry struct {
	h     *Handle
	state supervisor.State
}

// Registry indexes handles by id, region and chip type.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	byRegion map[string]map[string]struct{}
	byChip   map[string]map[string]struct{}
	retired  map[string]struct{}
	reserved map[string]struct{}

	publisher events.Publisher
}

// New returns an empty registry publishing registration events to p.
func New(p events.Publisher) *Registry {
	return &Registry{
		entries:   make(map[string]*entry),
		byRegion:  make(map[string]map[string]struct{}),
		byChip:    make(map[string]map[string]struct{}),
		retired:   make(map[string]struct{}),
		reserved:  make(map[string]struct{}),
		publisher: events.OrNop(p),
	}
}

func key(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func addIndex(idx map[string]map[string]struct{}, k, id string) {
	set := idx[k]
	if set == nil {
		set = make(map[string]struct{})
		idx[k] = set
	}
	set[id] = struct{}{}
}

func removeIndex(idx map[string]map[string]struct{}, k, id string) {
	if set := idx[k]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(idx, k)
		}
	}
}

// used reports why id cannot be taken, or nil. Callers hold mu.
func (r *Registry) used(id string) error {
	if _, ok := r.entries[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	if _, ok := r.retired[id]; ok {
		return fmt.Errorf("%w: %s was deregistered", ErrDuplicateID, id)
	}
	if _, ok := r.reserved[id]; ok {
		return fmt.Errorf("%w: %s is being loaded", ErrDuplicateID, id)
	}
	return nil
}

// Register adds h in state. Ids are unique for the registry's lifetime.
func (r *Registry) Register(h *Handle, state supervisor.State) error {
	if h == nil || h.ID == "" {
		return errors.New("registry: handle without id")
	}
	r.mu.Lock()
	if err := r.used(h.ID); err != nil {
		r.mu.Unlock()
		return err
	}
	r.insertLocked(h, state)
	r.mu.Unlock()
	r.publishRegistered(h, state)
	return nil
}

func (r *Registry) insertLocked(h *Handle, state supervisor.State) {
	r.entries[h.ID] = &entry{h: h, state: state}
	addIndex(r.byRegion, key(h.Tags.Region), h.ID)
	addIndex(r.byChip, key(h.Tags.ChipType), h.ID)
}

func (r *Registry) publishRegistered(h *Handle, state supervisor.State) {
	r.publisher.Publish(events.New(events.BackendRegistered, h.ID, map[string]any{
		"engine":         string(h.Tags.Engine),
		"model":          h.Tags.Model,
		"region":         h.Tags.Region,
		"chip_type":      h.Tags.ChipType,
		"cost_per_token": h.Tags.CostPerToken,
		"quality_tier":   h.Tags.QualityTier,
		"state":          string(state),
	}))
}

// Reserve claims id for a load in progress so concurrent loads cannot take
// it. The reservation ends with RegisterReserved or Release.
func (r *Registry) Reserve(id string) error {
	if id == "" {
		return errors.New("registry: empty id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.used(id); err != nil {
		return err
	}
	r.reserved[id] = struct{}{}
	return nil
}

// Release drops a reservation that never became a registration.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	delete(r.reserved, id)
	r.mu.Unlock()
}

// RegisterReserved registers h under an id previously passed to Reserve.
func (r *Registry) RegisterReserved(h *Handle, state supervisor.State) error {
	r.mu.Lock()
	if _, ok := r.reserved[h.ID]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("registry: %s was not reserved", h.ID)
	}
	delete(r.reserved, h.ID)
	r.insertLocked(h, state)
	r.mu.Unlock()
	r.publishRegistered(h, state)
	return nil
}

// Deregister removes id and retires it permanently.
func (r *Registry) Deregister(id string) (*Handle, error) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.entries, id)
	removeIndex(r.byRegion, key(e.h.Tags.Region), id)
	removeIndex(r.byChip, key(e.h.Tags.ChipType), id)
	r.retired[id] = struct{}{}
	r.mu.Unlock()

	r.publisher.Publish(events.New(events.BackendDeregistered, id, map[string]any{"state": string(e.state)}))
	return e.h, nil
}

// UpdateState records a state change reported by id's supervisor.
func (r *Registry) UpdateState(id string, s supervisor.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.state = s
	return nil
}

func snapshotOf(e *entry) Snapshot {
	return Snapshot{Handle: e.h, ID: e.h.ID, Tags: e.h.Tags, State: e.state, Inflight: e.h.Inflight()}
}

// Get returns a snapshot of id.
func (r *Registry) Get(id string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return Snapshot{}, false
	}
	return snapshotOf(e), true
}

// ListReady returns Ready handles matching f, ordered by id, copied under
// one read lock. Entries may go stale as soon as it returns.
func (r *Registry) ListReady(f Filter) []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids map[string]struct{}
	switch {
	case f.Region != "":
		ids = r.byRegion[key(f.Region)]
	case f.ChipType != "":
		ids = r.byChip[key(f.ChipType)]
	}
	out := make([]Snapshot, 0, len(r.entries))
	consider := func(e *entry) {
		if e.state != supervisor.StateReady {
			return
		}
		if f.Region != "" && key(e.h.Tags.Region) != key(f.Region) {
			return
		}
		if f.ChipType != "" && key(e.h.Tags.ChipType) != key(f.ChipType) {
			return
		}
		if f.Model != "" && e.h.Tags.Model != f.Model {
			return
		}
		out = append(out, snapshotOf(e))
	}
	if ids != nil || f.Region != "" || f.ChipType != "" {
		for id := range ids {
			consider(r.entries[id])
		}
	} else {
		for _, e := range r.entries {
			consider(e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// List returns every registered handle regardless of state, ordered by id.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, snapshotOf(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len is the number of registered handles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
