package testctl

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// buildRootCmdWith constructs the command tree wired to the fn* actions.
func buildRootCmdWith(cfg *Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "testctl",
		Short:         "Test and dev utilities for enginegate",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().IntVar(&cfg.GatewayPort, "gateway-port", cfg.GatewayPort, "Preferred gateway port for demo (defaults TESTCTL_GATEWAY_PORT or 18080)")
	root.PersistentFlags().StringVar(&cfg.LogLvl, "log-level", cfg.LogLvl, "Log level: debug|info|warn|error (defaults TESTCTL_LOG_LEVEL or info)")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		SetLogLevel(cfg.LogLvl)
	}

	groupRunE := func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			return fmt.Errorf("unknown %s subcommand: %s", cmd.Name(), args[0])
		}
		_ = cmd.Help()
		return errUsage
	}

	// test group
	testCmd := &cobra.Command{Use: "test", Short: "Run test suites", Args: cobra.ArbitraryArgs, RunE: groupRunE}
	testGo := &cobra.Command{Use: "go", Short: "Run all Go tests", Example: "  testctl test go", RunE: func(cmd *cobra.Command, args []string) error { return fnRunGoTests() }}
	testRace := &cobra.Command{Use: "race", Short: "Run short Go tests with the race detector", RunE: func(cmd *cobra.Command, args []string) error { return fnRunRaceTests() }}
	testE2E := &cobra.Command{Use: "e2e", Short: "Run process-level suites against the fake engine", RunE: func(cmd *cobra.Command, args []string) error { return fnRunE2ETests() }}
	testAll := &cobra.Command{Use: "all", Short: "Run race-checked short tests, then the full suite", RunE: func(cmd *cobra.Command, args []string) error {
		if err := fnRunRaceTests(); err != nil {
			return err
		}
		return fnRunGoTests()
	}}
	testCmd.AddCommand(testGo, testRace, testE2E, testAll)
	root.AddCommand(testCmd)

	// smoke against a running gateway
	var so SmokeOptions
	smokeCmd := &cobra.Command{
		Use:     "smoke <base-url>",
		Short:   "Check a running gateway end to end",
		Example: "  testctl smoke http://localhost:8080 --engine-url http://localhost:8000 --engine vllm --model m",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			so.BaseURL = args[0]
			rep, err := fnSmoke(cmd.Context(), so)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: served by %s in %d attempt(s), %d ready\n", rep.ServedBy, rep.Attempts, rep.ReadyCount)
			return nil
		},
	}
	smokeCmd.Flags().StringVar(&so.EngineURL, "engine-url", "", "Attach the engine at this URL for the run")
	smokeCmd.Flags().StringVar(&so.Engine, "engine", "vllm", "Engine family of --engine-url")
	smokeCmd.Flags().StringVar(&so.Model, "model", "", "Model served by --engine-url")
	smokeCmd.Flags().StringVar(&so.Prompt, "prompt", "", "Prompt to send")
	smokeCmd.Flags().StringVar(&so.Jurisdiction, "jurisdiction", "", "Jurisdiction for the inference request")
	smokeCmd.Flags().DurationVar(&so.Timeout, "timeout", 60*time.Second, "Per-step timeout")
	root.AddCommand(smokeCmd)

	demoCmd := &cobra.Command{
		Use:   "demo",
		Short: "Serve the gateway in front of two fake engines and smoke-test it",
		RunE:  func(cmd *cobra.Command, args []string) error { return fnDemo(cfg) },
	}
	demoCmd.Flags().BoolVar(&cfg.Hold, "hold", cfg.Hold, "Keep the gateway running after the checks (defaults TESTCTL_HOLD)")
	root.AddCommand(demoCmd)

	// completion command
	root.CompletionOptions.DisableDefaultCmd = true
	completionCmd := &cobra.Command{Use: "completion", Short: "Generate the autocompletion script for the specified shell"}
	completionCmd.AddCommand(&cobra.Command{Use: "bash", Short: "Bash completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenBashCompletion(cmd.OutOrStdout()) }})
	completionCmd.AddCommand(&cobra.Command{Use: "zsh", Short: "Zsh completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenZshCompletion(cmd.OutOrStdout()) }})
	completionCmd.AddCommand(&cobra.Command{Use: "fish", Short: "Fish completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenFishCompletion(cmd.OutOrStdout(), true) }})
	root.AddCommand(completionCmd)

	return root
}
