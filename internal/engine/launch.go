package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"enginegate/pkg/types"
)

// TuningModelRepository names the Triton model repository in ModelConfig.Tuning.
const TuningModelRepository = "model-repository"

const defaultModelRepository = "/models"

// DefaultProgram is the argv prefix used to launch t when none is configured.
func DefaultProgram(t Type) []string {
	switch t {
	case VLLM:
		return []string{"python3", "-m", "vllm.entrypoints.openai.api_server"}
	case TGI:
		return []string{"text-generation-launcher"}
	case TensorRT:
		return []string{"tritonserver"}
	default:
		return nil
	}
}

// HealthPath is the liveness endpoint of t.
func HealthPath(t Type) string {
	switch t {
	case VLLM, TGI:
		return "/health"
	case TensorRT:
		return "/v2/health/ready"
	default:
		return "/health"
	}
}

// LaunchCommand renders the argv that starts t serving cfg on host:port.
// program overrides DefaultProgram when non-empty. Tuning entries are
// appended as --key value in key order; an empty value renders a bare flag.
func LaunchCommand(t Type, cfg types.ModelConfig, host string, port int, program []string) ([]string, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("engine %s: empty model", t)
	}
	argv := append([]string(nil), program...)
	if len(argv) == 0 {
		argv = DefaultProgram(t)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("unknown engine type %q", t)
	}
	p := strconv.Itoa(port)
	skip := map[string]bool{}
	switch t {
	case VLLM:
		argv = append(argv, "--model", cfg.Model, "--host", host, "--port", p)
		if cfg.TensorParallel > 1 {
			argv = append(argv, "--tensor-parallel-size", strconv.Itoa(cfg.TensorParallel))
		}
		if cfg.MaxSequenceLength > 0 {
			argv = append(argv, "--max-model-len", strconv.Itoa(cfg.MaxSequenceLength))
		}
		if cfg.DType != "" && cfg.DType != "auto" {
			argv = append(argv, "--dtype", cfg.DType)
		}
	case TGI:
		argv = append(argv, "--model-id", cfg.Model, "--hostname", host, "--port", p)
		if cfg.TensorParallel > 1 {
			argv = append(argv, "--num-shard", strconv.Itoa(cfg.TensorParallel))
		}
		if cfg.MaxSequenceLength > 0 {
			argv = append(argv, "--max-total-tokens", strconv.Itoa(cfg.MaxSequenceLength))
		}
		if cfg.DType != "" && cfg.DType != "auto" {
			argv = append(argv, "--dtype", cfg.DType)
		}
	case TensorRT:
		repo := cfg.Tuning[TuningModelRepository]
		if repo == "" {
			repo = defaultModelRepository
		}
		skip[TuningModelRepository] = true
		// Explicit model control so LoadModel can load through the repository API.
		argv = append(argv, "--model-repository", repo, "--http-address", host, "--http-port", p,
			"--model-control-mode", "explicit")
	default:
		return nil, fmt.Errorf("unknown engine type %q", t)
	}
	return append(argv, tuningFlags(cfg.Tuning, skip)...), nil
}

func tuningFlags(tuning map[string]string, skip map[string]bool) []string {
	keys := make([]string, 0, len(tuning))
	for k := range tuning {
		if !skip[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var out []string
	for _, k := range keys {
		flag := "--" + strings.TrimLeft(k, "-")
		if v := tuning[k]; v != "" {
			out = append(out, flag, v)
		} else {
			out = append(out, flag)
		}
	}
	return out
}
