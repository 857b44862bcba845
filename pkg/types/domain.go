package types

// ModelConfig describes what an engine process should serve. It is copied
// when a backend is loaded and never mutated afterwards.
type ModelConfig struct {
	// Model identifier understood by the engine (HF id, model repository path, ...).
	// example: meta-llama/Llama-3-8B
	Model string `json:"model" yaml:"model" toml:"model" validate:"required" example:"meta-llama/Llama-3-8B"`
	// Tensor-parallel degree. Zero or one means no sharding.
	// example: 2
	TensorParallel int `json:"tensor_parallel,omitempty" yaml:"tensor_parallel" toml:"tensor_parallel" validate:"gte=0" example:"2"`
	// Maximum sequence length. Zero leaves the engine default.
	// example: 8192
	MaxSequenceLength int `json:"max_sequence_length,omitempty" yaml:"max_sequence_length" toml:"max_sequence_length" validate:"gte=0" example:"8192"`
	// Weight dtype. Empty or "auto" leaves the engine default.
	// example: bfloat16
	DType string `json:"dtype,omitempty" yaml:"dtype" toml:"dtype" example:"bfloat16"`
	// Engine-specific launch flags, rendered as --key value.
	Tuning map[string]string `json:"tuning,omitempty" yaml:"tuning" toml:"tuning"`
}

// Clone returns a deep copy.
func (c ModelConfig) Clone() ModelConfig {
	out := c
	if c.Tuning != nil {
		out.Tuning = make(map[string]string, len(c.Tuning))
		for k, v := range c.Tuning {
			out.Tuning[k] = v
		}
	}
	return out
}

// HealthSpec selects how a backend is probed.
type HealthSpec struct {
	// http (default) or grpc.
	// example: http
	Protocol string `json:"protocol,omitempty" yaml:"protocol" toml:"protocol" validate:"omitempty,oneof=http grpc" example:"http"`
	// Port of the grpc.health.v1 service when Protocol is grpc.
	// example: 8001
	GRPCPort int `json:"grpc_port,omitempty" yaml:"grpc_port" toml:"grpc_port" validate:"required_if=Protocol grpc,gte=0,lte=65535" example:"8001"`
	// Health check path override for HTTP probes.
	// example: /health
	Path string `json:"path,omitempty" yaml:"path" toml:"path" example:"/health"`
}

// BackendSpec is everything needed to bring up (or attach) one backend.
type BackendSpec struct {
	// Unique identifier. Never reused within a process lifetime.
	// example: eu-vllm-a
	ID string `json:"id" yaml:"id" toml:"id" validate:"required" example:"eu-vllm-a"`
	// Engine family: vllm, tgi or tensorrt.
	// example: vllm
	Engine string `json:"engine" yaml:"engine" toml:"engine" validate:"required,oneof=vllm tgi tensorrt" example:"vllm"`

	ModelConfig `yaml:",inline"`

	// Routing tags.
	// example: eu-west
	Region string `json:"region,omitempty" yaml:"region" toml:"region" example:"eu-west"`
	// example: h100
	ChipType string `json:"chip_type,omitempty" yaml:"chip_type" toml:"chip_type" example:"h100"`
	// example: 1.0
	CostPerToken float64 `json:"cost_per_token" yaml:"cost_per_token" toml:"cost_per_token" validate:"gte=0" example:"1.0"`
	// example: 3
	QualityTier int `json:"quality_tier" yaml:"quality_tier" toml:"quality_tier" validate:"gte=0" example:"3"`

	// When set, attach to an engine already listening here instead of spawning one.
	// example: http://10.0.0.5:8000
	BaseURL string `json:"base_url,omitempty" yaml:"base_url" toml:"base_url" validate:"omitempty,url" example:"http://10.0.0.5:8000"`
	// Override of the launch program and leading arguments, e.g. ["/opt/vllm/bin/python", "-m", "vllm.entrypoints.openai.api_server"].
	Program []string `json:"program,omitempty" yaml:"program" toml:"program"`
	// Extra environment variables for the spawned process (KEY=VALUE).
	Env []string `json:"env,omitempty" yaml:"env" toml:"env"`

	Health HealthSpec `json:"health,omitempty" yaml:"health" toml:"health"`
}
