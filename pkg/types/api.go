package types

// InferRequest represents an inference request payload.
type InferRequest struct {
	// Required prompt text to generate a completion for.
	// example: Write a haiku about the ocean.
	Prompt string `json:"prompt" example:"Write a haiku about the ocean."`
	// Maximum number of new tokens to generate.
	// example: 128
	MaxTokens int `json:"max_tokens,omitempty" example:"128"`
	// Sampling temperature (higher = more random).
	// example: 0.7
	Temperature float64 `json:"temperature,omitempty" example:"0.7"`
	// Optional stop sequences. Generation stops when any sequence is matched.
	// example: ["\n\n","END"]
	Stop []string `json:"stop,omitempty" example:"[\"\\n\\n\",\"END\"]"`

	// Optional sampling extras. Nil means unset; engines that cannot honor a
	// set field reject the request instead of ignoring it.
	TopP              *float64 `json:"top_p,omitempty" example:"0.9"`
	TopK              *int     `json:"top_k,omitempty" example:"40"`
	Seed              *int64   `json:"seed,omitempty" example:"42"`
	PresencePenalty   *float64 `json:"presence_penalty,omitempty" example:"0.1"`
	FrequencyPenalty  *float64 `json:"frequency_penalty,omitempty" example:"0.1"`
	RepetitionPenalty *float64 `json:"repetition_penalty,omitempty" example:"1.1"`

	// Data residency requirement, e.g. "EU". Empty means unconstrained.
	// example: EU
	Jurisdiction string `json:"jurisdiction,omitempty" example:"EU"`
	// When true, a jurisdiction with no matching backend does not fail the request.
	AllowCrossRegion bool `json:"allow_cross_region,omitempty"`
	// Maximum accepted cost per token. Zero means no ceiling.
	// example: 2.5
	CostCeiling float64 `json:"cost_ceiling,omitempty" example:"2.5"`
	// Preferred accelerator type.
	// example: h100
	PreferredChip string `json:"preferred_chip,omitempty" example:"h100"`
	// When true, PreferredChip is a hard requirement.
	ChipMandatory bool `json:"chip_mandatory,omitempty"`
	// Caller-supplied correlation id. Generated when empty.
	RequestID string `json:"request_id,omitempty"`
}

// Latency breaks down where time was spent serving a request.
type Latency struct {
	// Time spent choosing a backend.
	RoutingMS float64 `json:"routing_ms" example:"0.2"`
	// Time spent waiting on backends, across all attempts.
	DispatchMS float64 `json:"dispatch_ms" example:"812.5"`
	// Wall time from entry to return.
	TotalMS float64 `json:"total_ms" example:"813.1"`
}

// InferResponse is the normalized result of one inference call.
type InferResponse struct {
	// Generated text.
	Text string `json:"text"`
	// Why generation stopped (stop, length, ...), as reported by the engine.
	// example: stop
	FinishReason string `json:"finish_reason,omitempty" example:"stop"`
	// Token accounting as reported by the engine. Zero when unknown.
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	// Latency breakdown.
	Latency Latency `json:"latency"`
	// Identifier of the backend that produced the result.
	// example: eu-vllm-a
	ServedBy string `json:"served_by" example:"eu-vllm-a"`
	// Correlation id of the request.
	RequestID string `json:"request_id,omitempty"`
	// Number of dispatch attempts, including the successful one.
	// example: 1
	Attempts int `json:"attempts" example:"1"`
}

// Attempt records why a backend was skipped or failed for a request.
type Attempt struct {
	// Backend identifier.
	Backend string `json:"backend"`
	// Stage that produced the outcome: policy name or "dispatch".
	Stage string `json:"stage"`
	// Human-readable reason.
	Reason string `json:"reason"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
	// Machine-readable error kind.
	// example: budget_exceeded
	Kind string `json:"kind,omitempty" example:"budget_exceeded"`
	// Backends considered for the request and why each was not used.
	Attempts []Attempt `json:"attempts,omitempty"`
}

// BackendStatus summarizes a registered backend for /status and /v1/backends.
type BackendStatus struct {
	// example: eu-vllm-a
	ID string `json:"id" example:"eu-vllm-a"`
	// example: vllm
	Engine string `json:"engine" example:"vllm"`
	// example: meta-llama/Llama-3-8B
	Model string `json:"model" example:"meta-llama/Llama-3-8B"`
	// Lifecycle state (spawning, starting, ready, degraded, terminating, terminated).
	// example: ready
	State string `json:"state" example:"ready"`
	// example: eu-west
	Region string `json:"region,omitempty" example:"eu-west"`
	// example: h100
	ChipType string `json:"chip_type,omitempty" example:"h100"`
	// example: 1.0
	CostPerToken float64 `json:"cost_per_token" example:"1.0"`
	// example: 3
	QualityTier int `json:"quality_tier" example:"3"`
	// Requests currently dispatched to this backend.
	// example: 1
	Inflight int64 `json:"inflight" example:"1"`
	// Base URL of the engine's HTTP API.
	// example: http://127.0.0.1:31000
	BaseURL string `json:"base_url" example:"http://127.0.0.1:31000"`
	// Process ID when the process is owned, zero when attached.
	// example: 12345
	PID int `json:"pid,omitempty" example:"12345"`
	// Dispatch counters.
	RequestsTotal uint64 `json:"requests_total"`
	FailuresTotal uint64 `json:"failures_total"`

	// Generated tokens per second of dispatch time over served requests.
	// example: 42.5
	AvgTokensPerSecond float64 `json:"avg_tokens_per_second" example:"42.5"`

	LastHealthUnix int64  `json:"last_health_unix,omitempty"`
	LastHealthMsg  string `json:"last_health_detail,omitempty"`
}

// BudgetStatus reports the current accounting window.
type BudgetStatus struct {
	// example: 100
	Limit float64 `json:"limit" example:"100"`
	// example: 12.5
	Spent float64 `json:"spent" example:"12.5"`
	// Reserved by requests still in flight.
	// example: 0.5
	Held float64 `json:"held" example:"0.5"`
	// example: 87.5
	Remaining float64 `json:"remaining" example:"87.5"`
	// example: daily
	Window string `json:"window" example:"daily"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Registered backends in id order.
	Backends []BackendStatus `json:"backends"`
	// Budget accounting, absent when no limit is configured.
	Budget *BudgetStatus `json:"budget,omitempty"`
	// Number of backends currently eligible for routing.
	// example: 2
	ReadyCount int `json:"ready_count" example:"2"`
	// True once ShutdownAll has begun.
	ShuttingDown bool `json:"shutting_down"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// Aggregate counters.
	RequestsTotal  uint64 `json:"requests_total"`
	FailoversTotal uint64 `json:"failovers_total"`
}

// BackendsResponse wraps the list returned by GET /v1/backends.
type BackendsResponse struct {
	Backends []BackendStatus `json:"backends"`
}
