package manager

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"enginegate/internal/engine"
	"enginegate/internal/events"
	"enginegate/internal/registry"
	"enginegate/internal/supervisor"
	"enginegate/pkg/types"
)

// LoadModel brings up the backend described by spec: it spawns the engine
// (or attaches when spec.BaseURL is set), waits for readiness, asks the
// adapter to load the model, then registers the handle and starts its health
// loop. Any failure after spawn tears the process down; nothing is
// registered in that case.
func (m *Manager) LoadModel(ctx context.Context, spec types.BackendSpec) (types.BackendStatus, error) {
	if m.shuttingDown.Load() {
		return types.BackendStatus{}, &InferenceError{Kind: KindShuttingDown, Backend: spec.ID, Err: errors.New("manager is shutting down")}
	}
	typ, err := validateSpec(spec)
	if err != nil {
		return types.BackendStatus{}, &InferenceError{Kind: KindInvalid, Backend: spec.ID, Err: err}
	}
	if err := m.reg.Reserve(spec.ID); err != nil {
		return types.BackendStatus{}, &InferenceError{Kind: KindInvalid, Backend: spec.ID, Err: err}
	}
	registered := false
	defer func() {
		if !registered {
			m.reg.Release(spec.ID)
		}
	}()

	log := m.log.With().Str("backend", spec.ID).Str("engine", string(typ)).Logger()
	cfg := spec.ModelConfig.Clone()

	var argv []string
	baseURL := strings.TrimRight(spec.BaseURL, "/")
	host := m.cfg.Host
	if baseURL == "" {
		port, err := m.pickPort()
		if err != nil {
			return types.BackendStatus{}, &InferenceError{Kind: KindSpawn, Backend: spec.ID, Err: err}
		}
		if argv, err = engine.LaunchCommand(typ, cfg, host, port, spec.Program); err != nil {
			return types.BackendStatus{}, &InferenceError{Kind: KindInvalid, Backend: spec.ID, Err: err}
		}
		baseURL = "http://" + net.JoinHostPort(host, strconv.Itoa(port))
	} else if u, err := url.Parse(baseURL); err == nil {
		host = u.Hostname()
	}

	adapter, err := engine.New(typ, engine.Options{
		BaseURL:    baseURL,
		Model:      cfg.Model,
		HTTPClient: m.cfg.HTTPClient,
		Logger:     log,
	})
	if err != nil {
		return types.BackendStatus{}, &InferenceError{Kind: KindInvalid, Backend: spec.ID, Err: err}
	}
	prober, closeProber, err := m.newProber(typ, spec.Health, host, baseURL)
	if err != nil {
		return types.BackendStatus{}, &InferenceError{Kind: KindInvalid, Backend: spec.ID, Err: err}
	}

	id := spec.ID
	sup, err := supervisor.New(supervisor.Config{
		ID:               id,
		Command:          argv,
		Env:              spec.Env,
		Prober:           prober,
		ReadyAttempts:    m.cfg.Spawn.ReadyAttempts,
		ReadyBackoff:     m.cfg.Spawn.ReadyBackoff,
		StopGrace:        m.cfg.Spawn.StopGrace,
		PollInterval:     m.cfg.Health.PollInterval,
		HealthTimeout:    m.cfg.Health.Timeout,
		FailureThreshold: m.cfg.Health.FailureThreshold,
		RecoveryWindow:   m.cfg.Health.RecoveryWindow,
		OnTransition: func(_, to supervisor.State) {
			// Before registration the id is only reserved; the state is
			// synced once the handle is registered.
			_ = m.reg.UpdateState(id, to)
			if to == supervisor.StateTerminated {
				closeProber()
			}
		},
		Publisher: m.publisher,
		Logger:    log,
	})
	if err != nil {
		closeProber()
		return types.BackendStatus{}, &InferenceError{Kind: KindInvalid, Backend: id, Err: err}
	}

	fail := func(kind ErrorKind, stage string, err error) (types.BackendStatus, error) {
		_ = sup.Shutdown(m.cfg.Spawn.StopGrace)
		m.publish(events.LoadFailed, id, map[string]any{"stage": stage, "error": err.Error()})
		log.Error().Err(err).Str("stage", stage).Msg("load failed")
		return types.BackendStatus{}, &InferenceError{
			Kind:     kind,
			Backend:  id,
			Attempts: []types.Attempt{{Backend: id, Stage: stage, Reason: err.Error()}},
			Err:      err,
		}
	}

	if err := sup.Spawn(ctx); err != nil {
		return fail(KindSpawn, "spawn", err)
	}
	if err := adapter.LoadModel(ctx, cfg); err != nil {
		return fail(KindAdapter, "load_model", err)
	}

	h := &registry.Handle{
		ID: id,
		Tags: registry.Tags{
			Region:       spec.Region,
			ChipType:     spec.ChipType,
			CostPerToken: spec.CostPerToken,
			QualityTier:  spec.QualityTier,
			Model:        cfg.Model,
			Engine:       typ,
		},
		Adapter: adapter,
		Process: sup,
	}
	if err := m.reg.RegisterReserved(h, sup.State()); err != nil {
		return fail(KindInvalid, "register", err)
	}
	registered = true
	// Catch a transition that raced the registration.
	_ = m.reg.UpdateState(id, sup.State())
	sup.StartHealthLoop()
	log.Info().Str("base_url", baseURL).Int("pid", sup.PID()).Msg("backend loaded")

	if m.shuttingDown.Load() {
		_ = m.Unload(id, 0)
		return types.BackendStatus{}, &InferenceError{Kind: KindShuttingDown, Backend: id, Err: errors.New("manager is shutting down")}
	}
	snap, _ := m.reg.Get(id)
	return backendStatus(snap), nil
}

// Attach registers an engine that is already running at spec.BaseURL.
func (m *Manager) Attach(ctx context.Context, spec types.BackendSpec) (types.BackendStatus, error) {
	if strings.TrimSpace(spec.BaseURL) == "" {
		return types.BackendStatus{}, &InferenceError{Kind: KindInvalid, Backend: spec.ID, Err: errors.New("attach requires base_url")}
	}
	return m.LoadModel(ctx, spec)
}

func validateSpec(spec types.BackendSpec) (engine.Type, error) {
	if strings.TrimSpace(spec.ID) == "" {
		return "", errors.New("backend id is required")
	}
	if strings.TrimSpace(spec.Model) == "" {
		return "", errors.New("model is required")
	}
	if spec.CostPerToken < 0 || spec.QualityTier < 0 {
		return "", errors.New("cost_per_token and quality_tier must be >= 0")
	}
	return engine.ParseType(spec.Engine)
}

// newProber picks the health probe for a backend. The returned close func
// is always safe to call.
func (m *Manager) newProber(typ engine.Type, hs types.HealthSpec, host, baseURL string) (supervisor.Prober, func(), error) {
	switch strings.ToLower(hs.Protocol) {
	case "", "http":
		path := hs.Path
		if path == "" {
			path = engine.HealthPath(typ)
		}
		return supervisor.HTTPProber{URL: baseURL + path, Client: m.cfg.HTTPClient}, func() {}, nil
	case "grpc":
		if hs.GRPCPort <= 0 {
			return nil, nil, errors.New("grpc health requires grpc_port")
		}
		p, err := supervisor.NewGRPCProber(net.JoinHostPort(host, strconv.Itoa(hs.GRPCPort)), "")
		if err != nil {
			return nil, nil, err
		}
		return p, func() { _ = p.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown health protocol %q", hs.Protocol)
	}
}
