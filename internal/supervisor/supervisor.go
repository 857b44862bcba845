// Package supervisor owns the lifecycle of one inference engine process:
// spawn, readiness polling, background health checks and shutdown.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"enginegate/internal/events"
)

// State is a backend lifecycle state.
type State string

const (
	StateSpawning    State = "spawning"
	StateStarting    State = "starting"
	StateReady       State = "ready"
	StateDegraded    State = "degraded"
	StateTerminating State = "terminating"
	StateTerminated  State = "terminated"
)

var allowed = map[State][]State{
	StateSpawning:    {StateStarting, StateTerminating, StateTerminated},
	StateStarting:    {StateReady, StateTerminating, StateTerminated},
	StateReady:       {StateDegraded, StateTerminating},
	StateDegraded:    {StateReady, StateTerminating},
	StateTerminating: {StateTerminated},
}

func canTransition(from, to State) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// HealthSignal is the outcome of one health poll.
type HealthSignal struct {
	Time    time.Time
	Healthy bool
	Detail  string
}

// Defaults applied when corresponding Config fields are unset.
const (
	defaultReadyAttempts    = 60
	defaultReadyBackoff     = 2 * time.Second
	defaultPollInterval     = 2 * time.Second
	defaultHealthTimeout    = 1 * time.Second
	defaultFailureThreshold = 2
	defaultRecoveryWindow   = 10 * time.Second
	defaultStopGrace        = 5 * time.Second

	stderrTailBytes = 4096
	killWait        = 5 * time.Second
)

// Config describes one supervised backend.
type Config struct {
	ID string
	// Command is the argv to run. Empty means attached mode: the engine is
	// managed elsewhere and the supervisor only tracks its health.
	Command []string
	// Env entries (KEY=VALUE) appended to the parent environment.
	Env []string
	// Stdout receives the process's standard output; nil discards it.
	Stdout io.Writer
	Prober Prober

	ReadyAttempts    int
	ReadyBackoff     time.Duration
	PollInterval     time.Duration
	HealthTimeout    time.Duration
	FailureThreshold int
	RecoveryWindow   time.Duration
	// StopGrace is used when the health loop tears down an unrecoverable backend.
	StopGrace time.Duration

	// OnTransition is invoked for every state change, in order, outside the
	// supervisor's locks.
	OnTransition func(from, to State)
	Publisher    events.Publisher
	Logger       zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.ReadyAttempts <= 0 {
		c.ReadyAttempts = defaultReadyAttempts
	}
	if c.ReadyBackoff <= 0 {
		c.ReadyBackoff = defaultReadyBackoff
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = defaultHealthTimeout
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = defaultFailureThreshold
	}
	if c.RecoveryWindow <= 0 {
		c.RecoveryWindow = defaultRecoveryWindow
	}
	if c.StopGrace <= 0 {
		c.StopGrace = defaultStopGrace
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	c.Publisher = events.OrNop(c.Publisher)
}

// Supervisor owns at most one process for its whole lifetime.
type Supervisor struct {
	cfg Config
	log zerolog.Logger

	// tmu serializes transitions together with their callbacks.
	tmu sync.Mutex

	mu            sync.Mutex
	state         State
	spawned       bool
	stopping      bool
	cmd           *exec.Cmd
	pid           int
	exited        chan struct{}
	exitErr       error
	exitCode      int
	stderr        *tailBuffer
	last          HealthSignal
	failures      int
	degradedSince time.Time
	loopCancel    context.CancelFunc
	loopDone      chan struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
	stopDone chan struct{}
}

// New validates cfg and returns a supervisor in StateSpawning.
func New(cfg Config) (*Supervisor, error) {
	if cfg.ID == "" {
		return nil, errors.New("supervisor: empty id")
	}
	if cfg.Prober == nil {
		return nil, fmt.Errorf("supervisor %s: nil prober", cfg.ID)
	}
	cfg.applyDefaults()
	return &Supervisor{
		cfg:      cfg,
		log:      cfg.Logger.With().Str("backend", cfg.ID).Logger(),
		state:    StateSpawning,
		stderr:   newTailBuffer(stderrTailBytes),
		stopCh:   make(chan struct{}),
		stopDone: make(chan struct{}),
	}, nil
}

func (s *Supervisor) ID() string { return s.cfg.ID }

// Attached reports whether the engine process is managed elsewhere.
func (s *Supervisor) Attached() bool { return len(s.cfg.Command) == 0 }

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PID of the owned process, or zero.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

// LastHealth returns the most recent poll result.
func (s *Supervisor) LastHealth() HealthSignal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Spawn starts the process (unless attached) and polls readiness with a
// fixed backoff for at most ReadyAttempts probes. On failure the process is
// killed and the supervisor ends Terminated. Spawn may be called once.
func (s *Supervisor) Spawn(ctx context.Context) error {
	s.mu.Lock()
	if s.spawned {
		s.mu.Unlock()
		return ErrAlreadySpawned
	}
	s.spawned = true
	stopping := s.stopping
	s.mu.Unlock()
	if stopping {
		return ErrStopped
	}

	s.publish(events.SpawnStart, map[string]any{"command": s.cfg.Command, "attached": s.Attached()})
	if !s.Attached() {
		if err := s.start(); err != nil {
			if !errors.Is(err, ErrStopped) {
				s.log.Error().Err(err).Msg("spawn start failed")
				s.publish(events.SpawnExit, map[string]any{"error": err.Error()})
				s.transition(StateTerminated)
			}
			return err
		}
		s.log.Info().Int("pid", s.PID()).Strs("argv", s.cfg.Command).Msg("spawn start")
	}
	s.transition(StateStarting)

	err := s.waitReady(ctx)
	if err == nil {
		if !s.transition(StateReady) {
			return ErrStopped
		}
		s.log.Info().Int("pid", s.PID()).Msg("spawn ready")
		s.publish(events.SpawnReady, map[string]any{"pid": s.PID()})
		return nil
	}
	if errors.Is(err, ErrStopped) {
		return err
	}
	if IsProcessExit(err) {
		s.publish(events.SpawnExit, map[string]any{"pid": s.PID(), "error": err.Error()})
	} else {
		s.publish(events.SpawnTimeout, map[string]any{"pid": s.PID(), "error": err.Error()})
	}
	s.log.Error().Err(err).Msg("spawn failed")
	// Kill without grace: the process never became usable.
	_ = s.shutdown(0, true)
	return err
}

func (s *Supervisor) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return ErrStopped
	}
	argv := s.cfg.Command
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), s.cfg.Env...)
	cmd.Stdout = s.cfg.Stdout
	cmd.Stderr = s.stderr
	setProcessGroup(cmd)
	if err := cmd.Start(); err != nil {
		return &SpawnError{Kind: SpawnProcessExit, Code: -1, Err: err}
	}
	s.cmd = cmd
	s.pid = cmd.Process.Pid
	exited := make(chan struct{})
	s.exited = exited
	// Single waiter; everyone else observes exit through the channel.
	go func() {
		err := cmd.Wait()
		code := -1
		if cmd.ProcessState != nil {
			code = cmd.ProcessState.ExitCode()
		}
		s.mu.Lock()
		s.exitErr = err
		s.exitCode = code
		s.mu.Unlock()
		close(exited)
	}()
	return nil
}

func (s *Supervisor) exitChan() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exited
}

// exitStatus reports whether the owned process has exited.
func (s *Supervisor) exitStatus() (code int, err error, exited bool) {
	ch := s.exitChan()
	if ch == nil {
		return 0, nil, false
	}
	select {
	case <-ch:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.exitCode, s.exitErr, true
	default:
		return 0, nil, false
	}
}

func (s *Supervisor) waitReady(ctx context.Context) error {
	exited := s.exitChan()
	var lastErr error
	for attempt := 1; ; attempt++ {
		if code, werr, ok := s.exitStatus(); ok {
			return &SpawnError{Kind: SpawnProcessExit, Code: code, Attempts: attempt - 1, Stderr: s.stderr.String(), Err: werr}
		}
		pctx, cancel := context.WithTimeout(ctx, s.cfg.HealthTimeout)
		err := s.cfg.Prober.Probe(pctx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt >= s.cfg.ReadyAttempts {
			return &SpawnError{Kind: SpawnTimeout, Attempts: attempt, Stderr: s.stderr.String(), Err: lastErr}
		}
		timer := time.NewTimer(s.cfg.ReadyBackoff)
		select {
		case <-timer.C:
		case <-exited:
			timer.Stop()
		case <-s.stopCh:
			timer.Stop()
			return ErrStopped
		case <-ctx.Done():
			timer.Stop()
			return &SpawnError{Kind: SpawnTimeout, Attempts: attempt, Stderr: s.stderr.String(), Err: ctx.Err()}
		}
	}
}

// Shutdown sends SIGTERM, waits up to grace, then kills. It always leaves
// the supervisor Terminated. Later calls return nil once the first finishes.
func (s *Supervisor) Shutdown(grace time.Duration) error {
	return s.shutdown(grace, true)
}

func (s *Supervisor) shutdown(grace time.Duration, waitLoop bool) error {
	first := false
	s.stopOnce.Do(func() {
		first = true
		s.mu.Lock()
		s.stopping = true
		cancel := s.loopCancel
		s.mu.Unlock()
		close(s.stopCh)
		if cancel != nil {
			cancel()
		}
	})
	if !first {
		<-s.stopDone
		return nil
	}
	defer close(s.stopDone)
	if waitLoop {
		s.mu.Lock()
		done := s.loopDone
		s.mu.Unlock()
		if done != nil {
			<-done
		}
	}
	return s.terminate(grace)
}

func (s *Supervisor) terminate(grace time.Duration) error {
	s.transition(StateTerminating)
	s.mu.Lock()
	cmd, exited, pid := s.cmd, s.exited, s.pid
	s.mu.Unlock()

	var err error
	forced := false
	if cmd != nil {
		select {
		case <-exited:
		default:
			if grace > 0 {
				_ = signalTerminate(cmd)
				timer := time.NewTimer(grace)
				select {
				case <-exited:
					timer.Stop()
				case <-timer.C:
					forced = true
				}
			} else {
				forced = true
			}
			if forced {
				_ = forceKill(cmd)
				select {
				case <-exited:
				case <-time.After(killWait):
					err = fmt.Errorf("supervisor %s: pid %d still running after kill", s.cfg.ID, pid)
				}
			}
		}
	}
	s.transition(StateTerminated)
	s.log.Info().Int("pid", pid).Bool("forced", forced).Msg("spawn stop")
	s.publish(events.SpawnStop, map[string]any{"pid": pid, "forced": forced})
	return err
}

// transition applies from->to if allowed and reports whether it did.
func (s *Supervisor) transition(to State) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	s.mu.Lock()
	from := s.state
	if !canTransition(from, to) {
		s.mu.Unlock()
		return false
	}
	s.state = to
	s.mu.Unlock()

	s.log.Debug().Str("from", string(from)).Str("to", string(to)).Msg("state change")
	s.publish(events.StateChange, map[string]any{events.FieldFrom: string(from), events.FieldTo: string(to)})
	if s.cfg.OnTransition != nil {
		s.cfg.OnTransition(from, to)
	}
	return true
}

func (s *Supervisor) publish(name string, fields map[string]any) {
	s.cfg.Publisher.Publish(events.Event{Name: name, BackendID: s.cfg.ID, Time: s.cfg.Now(), Fields: fields})
}

// tailBuffer keeps the last n bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	n   int
	buf []byte
}

func newTailBuffer(n int) *tailBuffer { return &tailBuffer{n: n} }

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.n; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	b.mu.Unlock()
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
