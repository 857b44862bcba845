package manager

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"enginegate/internal/budget"
	"enginegate/internal/events"
	"enginegate/internal/routing"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultHost            = "127.0.0.1"
	defaultRequestTimeout  = 60 * time.Second
	defaultDispatchTimeout = 20 * time.Second
	defaultShutdownGrace   = 10 * time.Second
	defaultStopGrace       = 5 * time.Second
)

// HealthConfig tunes every backend's supervisor health loop.
type HealthConfig struct {
	PollInterval     time.Duration
	Timeout          time.Duration
	FailureThreshold int
	RecoveryWindow   time.Duration
}

// SpawnConfig tunes readiness polling and teardown of spawned engines.
type SpawnConfig struct {
	ReadyAttempts int
	ReadyBackoff  time.Duration
	StopGrace     time.Duration
}

// Config encapsulates all tunables for Manager construction.
type Config struct {
	// Host spawned engines bind to.
	Host string
	// PortStart..PortEnd bounds the ports handed to spawned engines. Zero
	// means any free port.
	PortStart int
	PortEnd   int
	// RequestTimeout applies to Infer calls whose context has no deadline.
	RequestTimeout time.Duration
	// ShutdownGrace is used by Unload callers that pass zero.
	ShutdownGrace time.Duration
	// MaxAttempts caps dispatches per request. Zero tries every ranked candidate.
	MaxAttempts int
	// DispatchTimeout bounds one attempt against one backend. It never
	// extends past the request deadline; when it expires first the request
	// fails over to the next candidate.
	DispatchTimeout time.Duration

	Routing routing.Config
	// Budget is the accounting ledger; nil means no limit.
	Budget *budget.Ledger

	Health HealthConfig
	Spawn  SpawnConfig

	// HTTPClient is shared by every adapter. Deadlines come from contexts.
	HTTPClient *http.Client
	Publisher  events.Publisher
	Logger     zerolog.Logger
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = defaultHost
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = defaultDispatchTimeout
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = defaultShutdownGrace
	}
	if c.Spawn.StopGrace <= 0 {
		c.Spawn.StopGrace = defaultStopGrace
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 0}
	}
	c.Publisher = events.OrNop(c.Publisher)
}
