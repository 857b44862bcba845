package config

import (
	"fmt"
	"time"

	"enginegate/pkg/types"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultAddr            = ":8080"
	DefaultHost            = "127.0.0.1"
	DefaultRequestTimeout  = 60 * time.Second
	DefaultDispatchTimeout = 20 * time.Second
	DefaultShutdownGrace   = 10 * time.Second
	DefaultMaxBodyBytes    = 1 << 20
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "json"
)

// Duration decodes from strings such as "5s" or "1m30s" in every supported
// format.
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}

// PortRange bounds the ports handed to spawned engines. Zero means any free
// port.
type PortRange struct {
	Start int `json:"start" yaml:"start" toml:"start" validate:"gte=0,lte=65535"`
	End   int `json:"end" yaml:"end" toml:"end" validate:"gte=0,lte=65535"`
}

// RoutingConfig configures the policy chain.
type RoutingConfig struct {
	// Policies in evaluation order. Empty means the default chain.
	Policies []string `json:"policies" yaml:"policies" toml:"policies"`
	// MaxAttempts caps dispatches per request. Zero tries every candidate.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts" toml:"max_attempts" validate:"gte=0"`
	// DispatchTimeout bounds one attempt so a hung backend leaves time to
	// fail over.
	DispatchTimeout Duration `json:"dispatch_timeout" yaml:"dispatch_timeout" toml:"dispatch_timeout"`

	CostWeight    float64             `json:"cost_weight" yaml:"cost_weight" toml:"cost_weight" validate:"gte=0"`
	QualityWeight float64             `json:"quality_weight" yaml:"quality_weight" toml:"quality_weight" validate:"gte=0"`
	Jurisdictions map[string][]string `json:"jurisdictions" yaml:"jurisdictions" toml:"jurisdictions" validate:"dive,keys,required,endkeys,min=1"`
}

// BudgetConfig configures the spend ledger. A zero Limit disables it.
type BudgetConfig struct {
	Limit         float64  `json:"limit" yaml:"limit" toml:"limit" validate:"gte=0"`
	Window        string   `json:"window" yaml:"window" toml:"window" validate:"omitempty,oneof=daily rolling"`
	RollingWindow Duration `json:"rolling_window" yaml:"rolling_window" toml:"rolling_window"`
}

// HealthConfig tunes supervisor health loops. Zero fields keep the
// supervisor defaults.
type HealthConfig struct {
	PollInterval     Duration `json:"poll_interval" yaml:"poll_interval" toml:"poll_interval"`
	Timeout          Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
	FailureThreshold int      `json:"failure_threshold" yaml:"failure_threshold" toml:"failure_threshold" validate:"gte=0"`
	RecoveryWindow   Duration `json:"recovery_window" yaml:"recovery_window" toml:"recovery_window"`
}

// SpawnConfig tunes readiness polling and teardown of spawned engines.
type SpawnConfig struct {
	ReadyAttempts int      `json:"ready_attempts" yaml:"ready_attempts" toml:"ready_attempts" validate:"gte=0"`
	ReadyBackoff  Duration `json:"ready_backoff" yaml:"ready_backoff" toml:"ready_backoff"`
	StopGrace     Duration `json:"stop_grace" yaml:"stop_grace" toml:"stop_grace"`
}

// CORSConfig is opt-in.
type CORSConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" toml:"allowed_origins"`
	AllowedMethods []string `json:"allowed_methods" yaml:"allowed_methods" toml:"allowed_methods"`
	AllowedHeaders []string `json:"allowed_headers" yaml:"allowed_headers" toml:"allowed_headers"`
}

// HTTPConfig tunes the API server.
type HTTPConfig struct {
	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes" validate:"gte=0"`
	// LoadTimeout bounds POST /v1/backends. Zero means 10 minutes.
	LoadTimeout Duration   `json:"load_timeout" yaml:"load_timeout" toml:"load_timeout"`
	CORS        CORSConfig `json:"cors" yaml:"cors" toml:"cors"`
}

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Addr           string    `json:"addr" yaml:"addr" toml:"addr"`
	Host           string    `json:"host" yaml:"host" toml:"host"`
	PortRange      PortRange `json:"port_range" yaml:"port_range" toml:"port_range"`
	RequestTimeout Duration  `json:"request_timeout" yaml:"request_timeout" toml:"request_timeout"`
	ShutdownGrace  Duration  `json:"shutdown_grace" yaml:"shutdown_grace" toml:"shutdown_grace"`

	Backends []types.BackendSpec `json:"backends" yaml:"backends" toml:"backends" validate:"dive"`
	// BackendsDir holds one backend spec per file (.yaml, .yml, .json, .toml).
	// Relative paths resolve against the config file's directory.
	BackendsDir string `json:"backends_dir" yaml:"backends_dir" toml:"backends_dir"`

	Routing RoutingConfig `json:"routing" yaml:"routing" toml:"routing"`
	Budget  BudgetConfig  `json:"budget" yaml:"budget" toml:"budget"`
	Health  HealthConfig  `json:"health" yaml:"health" toml:"health"`
	Spawn   SpawnConfig   `json:"spawn" yaml:"spawn" toml:"spawn"`
	HTTP    HTTPConfig    `json:"http" yaml:"http" toml:"http"`

	// AuditLog is a file path receiving JSON audit lines. Empty disables it.
	AuditLog  string `json:"audit_log" yaml:"audit_log" toml:"audit_log"`
	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level" validate:"omitempty,oneof=debug info warn error off"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format" validate:"omitempty,oneof=json console"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = Duration(DefaultRequestTimeout)
	}
	if c.Routing.DispatchTimeout <= 0 {
		c.Routing.DispatchTimeout = Duration(min(DefaultDispatchTimeout, c.RequestTimeout.D()))
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = Duration(DefaultShutdownGrace)
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		c.HTTP.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.Budget.Window == "" {
		c.Budget.Window = "daily"
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
}

// Env variable names honored by ApplyEnv.
const (
	EnvAddr     = "ENGINEGATE_ADDR"
	EnvLogLevel = "ENGINEGATE_LOG_LEVEL"
	EnvConfig   = "ENGINEGATE_CONFIG"
)

// ApplyEnv overrides fields from the environment. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvAddr); ok && v != "" {
		c.Addr = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.LogLevel = v
	}
}
