package config

import (
	"github.com/rs/zerolog"

	"enginegate/internal/budget"
	"enginegate/internal/events"
	"enginegate/internal/manager"
	"enginegate/internal/routing"
)

// RoutingConfig returns the policy chain configuration. The budget source
// is wired by the manager.
func (c Config) RoutingConfig() (routing.Config, error) {
	policies, err := c.policies()
	if err != nil {
		return routing.Config{}, err
	}
	return routing.Config{
		Policies:      policies,
		CostWeight:    c.Routing.CostWeight,
		QualityWeight: c.Routing.QualityWeight,
		Jurisdictions: c.Routing.Jurisdictions,
	}, nil
}

// Ledger builds the budget ledger, or nil when no limit is configured.
func (c Config) Ledger() (*budget.Ledger, error) {
	if c.Budget.Limit <= 0 {
		return nil, nil
	}
	w, err := budget.ParseWindow(c.Budget.Window)
	if err != nil {
		return nil, err
	}
	return budget.New(budget.Config{
		Limit:         c.Budget.Limit,
		Window:        w,
		RollingWindow: c.Budget.RollingWindow.D(),
	})
}

// ManagerConfig translates c into manager tunables.
func (c Config) ManagerConfig(log zerolog.Logger, pub events.Publisher) (manager.Config, error) {
	rc, err := c.RoutingConfig()
	if err != nil {
		return manager.Config{}, err
	}
	ledger, err := c.Ledger()
	if err != nil {
		return manager.Config{}, err
	}
	return manager.Config{
		Host:            c.Host,
		PortStart:       c.PortRange.Start,
		PortEnd:         c.PortRange.End,
		RequestTimeout:  c.RequestTimeout.D(),
		DispatchTimeout: c.Routing.DispatchTimeout.D(),
		ShutdownGrace:   c.ShutdownGrace.D(),
		MaxAttempts:     c.Routing.MaxAttempts,
		Routing:         rc,
		Budget:          ledger,
		Health: manager.HealthConfig{
			PollInterval:     c.Health.PollInterval.D(),
			Timeout:          c.Health.Timeout.D(),
			FailureThreshold: c.Health.FailureThreshold,
			RecoveryWindow:   c.Health.RecoveryWindow.D(),
		},
		Spawn: manager.SpawnConfig{
			ReadyAttempts: c.Spawn.ReadyAttempts,
			ReadyBackoff:  c.Spawn.ReadyBackoff.D(),
			StopGrace:     c.Spawn.StopGrace.D(),
		},
		Publisher: pub,
		Logger:    log,
	}, nil
}
