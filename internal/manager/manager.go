package manager

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"enginegate/internal/budget"
	"enginegate/internal/events"
	"enginegate/internal/registry"
	"enginegate/internal/routing"
)

// Manager is the single entry point of the core. It owns the registry and
// every backend registered in it.
type Manager struct {
	cfg       Config
	reg       *registry.Registry
	router    *routing.Engine
	ledger    *budget.Ledger
	publisher events.Publisher
	log       zerolog.Logger
	startTime time.Time

	shuttingDown atomic.Bool
	requests     atomic.Uint64
	failovers    atomic.Uint64
}

// New builds a Manager with an empty registry.
func New(cfg Config) (*Manager, error) {
	cfg.applyDefaults()
	if cfg.Budget != nil {
		cfg.Routing.Budget = cfg.Budget
	}
	router, err := routing.New(cfg.Routing)
	if err != nil {
		return nil, err
	}
	return &Manager{
		cfg:       cfg,
		reg:       registry.New(cfg.Publisher),
		router:    router,
		ledger:    cfg.Budget,
		publisher: cfg.Publisher,
		log:       cfg.Logger.With().Str("component", "manager").Logger(),
		startTime: time.Now(),
	}, nil
}

// Ready reports whether at least one backend can be routed to.
func (m *Manager) Ready() bool {
	if m.ShuttingDown() {
		return false
	}
	return len(m.reg.ListReady(registry.Filter{})) > 0
}

// ShuttingDown reports whether ShutdownAll has begun.
func (m *Manager) ShuttingDown() bool { return m.shuttingDown.Load() }

func (m *Manager) publish(name, backendID string, fields map[string]any) {
	m.publisher.Publish(events.New(name, backendID, fields))
}
