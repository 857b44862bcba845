package events

import (
	"sort"

	"github.com/rs/zerolog"
)

// LogPublisher writes events to a zerolog logger. Dispatch failures and
// terminal lifecycle events log at warn, everything else at debug.
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(l zerolog.Logger) *LogPublisher { return &LogPublisher{log: l} }

func (p *LogPublisher) Publish(e Event) {
	var ev *zerolog.Event
	switch e.Name {
	case DispatchError, SpawnTimeout, SpawnExit, LoadFailed, RouteRejected, UnloadTimeout:
		ev = p.log.Warn()
	case StateChange, BackendRegistered, BackendDeregistered, SpawnReady, SpawnStop:
		ev = p.log.Info()
	default:
		ev = p.log.Debug()
	}
	if !ev.Enabled() {
		return
	}
	if e.BackendID != "" {
		ev = ev.Str("backend", e.BackendID)
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ev = ev.Interface(k, e.Fields[k])
	}
	ev.Msg(e.Name)
}
