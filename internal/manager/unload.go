package manager

import (
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"enginegate/internal/events"
	"enginegate/internal/registry"
)

// Unload removes a backend and stops it.
//   - Deregisters the handle so no new request is routed to it.
//   - Waits up to grace for in-flight requests to finish.
//   - Shuts the process down with whatever grace is left (at least the
//     spawn stop grace), escalating to a kill.
//
// A zero grace uses Config.ShutdownGrace.
func (m *Manager) Unload(id string, grace time.Duration) error {
	if id == "" {
		return ErrBackendNotFound("(unspecified)")
	}
	if grace <= 0 {
		grace = m.cfg.ShutdownGrace
	}
	h, err := m.reg.Deregister(id)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return ErrBackendNotFound(id)
		}
		return err
	}
	m.publish(events.UnloadStart, id, map[string]any{"inflight": h.Inflight()})

	deadline := time.Now().Add(grace)
	for {
		inflight := h.Inflight()
		if inflight == 0 {
			break
		}
		if time.Now().After(deadline) {
			m.publish(events.UnloadTimeout, id, map[string]any{"inflight": inflight})
			m.log.Warn().Str("backend", id).Int64("inflight", inflight).Msg("unload drain timed out")
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	stop := time.Until(deadline)
	if stop < m.cfg.Spawn.StopGrace {
		stop = m.cfg.Spawn.StopGrace
	}
	var stopErr error
	if h.Process != nil {
		stopErr = h.Process.Shutdown(stop)
	}
	m.publish(events.UnloadDone, id, map[string]any{})
	m.log.Info().Str("backend", id).Msg("backend unloaded")
	return stopErr
}

// ShutdownAll refuses new work, then unloads every backend concurrently.
// In-flight Infer calls finish against their chosen backend within grace or
// fail with KindShuttingDown. Safe to call more than once.
func (m *Manager) ShutdownAll(grace time.Duration) error {
	m.shuttingDown.Store(true)
	var g errgroup.Group
	for _, s := range m.reg.List() {
		id := s.ID
		g.Go(func() error {
			err := m.Unload(id, grace)
			if IsBackendNotFound(err) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}
