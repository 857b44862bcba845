package events

import "sync"

// MemoryPublisher records every event it receives. Tests use it to assert
// on lifecycle and routing activity.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(e Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (p *MemoryPublisher) Events() []Event {
	return p.filter(func(Event) bool { return true })
}

// Named returns the recorded events with the given name, in publish order.
func (p *MemoryPublisher) Named(name string) []Event {
	return p.filter(func(e Event) bool { return e.Name == name })
}

// ForBackend returns the recorded events about one backend.
func (p *MemoryPublisher) ForBackend(id string) []Event {
	return p.filter(func(e Event) bool { return e.BackendID == id })
}

func (p *MemoryPublisher) filter(keep func(Event) bool) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, 0, len(p.events))
	for _, e := range p.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
