// Package events carries structured lifecycle, routing and dispatch events
// from the core to pluggable sinks.
package events

import "time"

// Event names emitted by the core.
const (
	SpawnStart   = "spawn_start"
	SpawnReady   = "spawn_ready"
	SpawnTimeout = "spawn_timeout"
	SpawnExit    = "spawn_exit"
	SpawnStop    = "spawn_stop"

	StateChange = "state_change"
	HealthCheck = "health_check"

	BackendRegistered   = "backend_registered"
	BackendDeregistered = "backend_deregistered"
	LoadFailed          = "load_failed"

	RouteDecision = "route_decision"
	RouteRejected = "route_rejected"

	DispatchOK    = "dispatch_ok"
	DispatchError = "dispatch_error"

	BudgetSpend = "budget_spend"

	UnloadStart   = "unload_start"
	UnloadTimeout = "unload_timeout"
	UnloadDone    = "unload_done"
)

// Event is one structured observation. Fields holds event-specific
// key/values; sinks must not mutate it.
type Event struct {
	Name      string
	BackendID string
	Time      time.Time
	Fields    map[string]any
}

// Publisher receives events. Implementations should be lightweight and
// non-blocking; Publish must not panic.
type Publisher interface {
	Publish(Event)
}

type noop struct{}

func (noop) Publish(Event) {}

// Nop returns a Publisher that drops events.
func Nop() Publisher { return noop{} }

// OrNop returns p, or Nop when p is nil.
func OrNop(p Publisher) Publisher {
	if p == nil {
		return noop{}
	}
	return p
}

// Multi fans an event out to every publisher in order.
type Multi []Publisher

func (m Multi) Publish(e Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(e)
		}
	}
}

// New builds an Event stamped with the current time.
func New(name, backendID string, fields map[string]any) Event {
	if fields == nil {
		fields = map[string]any{}
	}
	return Event{Name: name, BackendID: backendID, Time: time.Now(), Fields: fields}
}
