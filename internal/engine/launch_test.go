package engine

import (
	"reflect"
	"testing"

	"enginegate/pkg/types"
)

func TestLaunchCommand(t *testing.T) {
	cases := []struct {
		name string
		typ  Type
		cfg  types.ModelConfig
		prog []string
		want []string
	}{
		{
			name: "vllm",
			typ:  VLLM,
			cfg:  types.ModelConfig{Model: "meta/llama", TensorParallel: 2, MaxSequenceLength: 4096, DType: "auto", Tuning: map[string]string{"gpu-memory-utilization": "0.9", "enforce-eager": ""}},
			want: []string{"python3", "-m", "vllm.entrypoints.openai.api_server", "--model", "meta/llama", "--host", "127.0.0.1", "--port", "31000",
				"--tensor-parallel-size", "2", "--max-model-len", "4096", "--enforce-eager", "--gpu-memory-utilization", "0.9"},
		},
		{
			name: "tgi",
			typ:  TGI,
			cfg:  types.ModelConfig{Model: "bigscience/bloom", TensorParallel: 4, DType: "bfloat16"},
			prog: []string{"/opt/tgi/launcher"},
			want: []string{"/opt/tgi/launcher", "--model-id", "bigscience/bloom", "--hostname", "127.0.0.1", "--port", "31000", "--num-shard", "4", "--dtype", "bfloat16"},
		},
		{
			name: "tensorrt",
			typ:  TensorRT,
			cfg:  types.ModelConfig{Model: "ensemble", Tuning: map[string]string{TuningModelRepository: "/srv/repo", "log-verbose": "1"}},
			want: []string{"tritonserver", "--model-repository", "/srv/repo", "--http-address", "127.0.0.1", "--http-port", "31000",
				"--model-control-mode", "explicit", "--log-verbose", "1"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := LaunchCommand(tc.typ, tc.cfg, "127.0.0.1", 31000, tc.prog)
			if err != nil {
				t.Fatalf("LaunchCommand: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("argv mismatch\n got: %v\nwant: %v", got, tc.want)
			}
		})
	}
}

func TestLaunchCommandErrors(t *testing.T) {
	if _, err := LaunchCommand(VLLM, types.ModelConfig{}, "h", 1, nil); err == nil {
		t.Fatalf("expected error for empty model")
	}
	if _, err := LaunchCommand(Type("x"), types.ModelConfig{Model: "m"}, "h", 1, nil); err == nil {
		t.Fatalf("expected error for unknown engine")
	}
}

func TestHealthPathPerEngine(t *testing.T) {
	for _, typ := range Types() {
		if HealthPath(typ) == "" {
			t.Fatalf("%s: empty health path", typ)
		}
	}
	if HealthPath(TensorRT) != "/v2/health/ready" {
		t.Fatalf("tensorrt health path = %s", HealthPath(TensorRT))
	}
}
