package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"enginegate/internal/events"
)

// PollHealth performs one bounded health check. An exited process or a probe
// that exceeds HealthTimeout is unhealthy.
func (s *Supervisor) PollHealth(ctx context.Context) HealthSignal {
	sig := s.probe(ctx)
	s.mu.Lock()
	s.last = sig
	s.mu.Unlock()
	return sig
}

func (s *Supervisor) probe(ctx context.Context) HealthSignal {
	now := s.cfg.Now()
	if code, _, exited := s.exitStatus(); exited {
		return HealthSignal{Time: now, Detail: fmt.Sprintf("process exited with code %d", code)}
	}
	pctx, cancel := context.WithTimeout(ctx, s.cfg.HealthTimeout)
	defer cancel()
	if err := s.cfg.Prober.Probe(pctx); err != nil {
		if errors.Is(pctx.Err(), context.DeadlineExceeded) {
			return HealthSignal{Time: now, Detail: "health probe timed out"}
		}
		return HealthSignal{Time: now, Detail: err.Error()}
	}
	return HealthSignal{Time: now, Healthy: true}
}

// StartHealthLoop starts the background poller. It runs on a fixed interval
// regardless of request traffic until Shutdown. Calling it again is a no-op.
func (s *Supervisor) StartHealthLoop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loopCancel != nil || s.stopping {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.loopCancel = cancel
	s.loopDone = make(chan struct{})
	go s.healthLoop(ctx, s.loopDone)
}

func (s *Supervisor) healthLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		sig := s.PollHealth(ctx)
		if ctx.Err() != nil {
			return
		}
		if s.observe(sig) {
			s.log.Warn().Str("detail", sig.Detail).Msg("backend did not recover, terminating")
			// Already inside the loop: do not wait for it to finish.
			_ = s.shutdown(s.cfg.StopGrace, false)
			return
		}
	}
}

// observe applies one poll result to the state machine and reports whether
// the backend must be torn down.
func (s *Supervisor) observe(sig HealthSignal) bool {
	s.mu.Lock()
	state := s.state
	var to State
	teardown := false
	switch state {
	case StateReady:
		if sig.Healthy {
			s.failures = 0
		} else {
			s.failures++
			if s.failures >= s.cfg.FailureThreshold {
				to = StateDegraded
				s.degradedSince = sig.Time
			}
		}
	case StateDegraded:
		if sig.Healthy {
			s.failures = 0
			to = StateReady
		} else {
			s.failures++
			_, _, exited := s.exitStatusLocked()
			// A dead process cannot recover within the window.
			if exited || sig.Time.Sub(s.degradedSince) >= s.cfg.RecoveryWindow {
				teardown = true
			}
		}
	}
	failures := s.failures
	s.mu.Unlock()

	if !sig.Healthy {
		s.publish(events.HealthCheck, map[string]any{"healthy": false, "detail": sig.Detail, "failures": failures})
	}
	if to != "" {
		s.log.Info().Str("from", string(state)).Str("to", string(to)).Str("detail", sig.Detail).Msg("health transition")
		s.transition(to)
	}
	return teardown
}

// exitStatusLocked is exitStatus for callers holding s.mu.
func (s *Supervisor) exitStatusLocked() (code int, err error, exited bool) {
	if s.exited == nil {
		return 0, nil, false
	}
	select {
	case <-s.exited:
		return s.exitCode, s.exitErr, true
	default:
		return 0, nil, false
	}
}
