package testctl

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"enginegate/internal/config"
	"enginegate/pkg/types"
)

// demoConfig puts two fake engines in different regions behind the gateway.
func demoConfig(port int, fakeEngine string) config.Config {
	return config.Config{
		Addr:          fmt.Sprintf("127.0.0.1:%d", port),
		ShutdownGrace: config.Duration(5 * time.Second),
		Backends: []types.BackendSpec{
			{
				ID: "eu-vllm", Engine: "vllm", Region: "eu-west", ChipType: "h100",
				ModelConfig:  types.ModelConfig{Model: "demo"},
				CostPerToken: 1, QualityTier: 2,
				Program: []string{fakeEngine},
			},
			{
				ID: "us-tgi", Engine: "tgi", Region: "us-east", ChipType: "a100",
				ModelConfig:  types.ModelConfig{Model: "demo"},
				CostPerToken: 0.5, QualityTier: 1,
				Program: []string{fakeEngine},
			},
		},
		Routing: config.RoutingConfig{
			Jurisdictions: map[string][]string{"EU": {"eu-west"}, "US": {"us-east"}},
		},
		Spawn:     config.SpawnConfig{ReadyAttempts: 60, ReadyBackoff: config.Duration(250 * time.Millisecond)},
		LogFormat: "console",
	}
}

func writeDemoConfig(dir string, cfg config.Config) (string, error) {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "enginegate.yaml")
	return path, os.WriteFile(path, b, 0o644)
}

// runDemo builds the fake engine, serves the gateway in front of two
// instances of it and smoke-tests each jurisdiction.
func runDemo(cfg *Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dir, err := os.MkdirTemp("", "enginegate-demo-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	info("==== Build fake engine ====")
	fake := filepath.Join(dir, "fakeengine")
	if err := runCmdStreaming(ctx, "go", "build", "-o", fake, "./internal/testutil/fakeengine"); err != nil {
		return fmt.Errorf("build fake engine: %w", err)
	}

	port, err := preferOrFree(cfg.GatewayPort)
	if err != nil {
		return err
	}
	path, err := writeDemoConfig(dir, demoConfig(port, fake))
	if err != nil {
		return err
	}

	info("==== Start gateway on :%d ====", port)
	pm := NewProcManager()
	defer func() {
		if err := pm.StopAll(10 * time.Second); err != nil {
			errl("[demo] cleanup: %v", err)
		}
	}()
	if _, err := StartCmd(ctx, pm, Cmd{
		Path: "go",
		Args: []string{"run", "./cmd/enginegate", "serve", "--config", path, "--log-level", cfg.LogLvl},
	}); err != nil {
		return err
	}

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	for _, j := range []string{"EU", "US"} {
		rep, err := fnSmoke(ctx, SmokeOptions{BaseURL: base, Jurisdiction: j, Prompt: "hello from " + j, Timeout: 2 * time.Minute})
		if err != nil {
			return fmt.Errorf("smoke %s: %w", j, err)
		}
		info("[demo] %s -> %s", j, rep.ServedBy)
	}
	if cfg.Hold {
		info("[demo] gateway at %s; Ctrl-C to stop", base)
		<-ctx.Done()
	}
	return nil
}
