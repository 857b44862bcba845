package testctl

import "context"

func runGoTests() error {
	info("==== Run Go tests ====")
	return runCmdStreaming(context.Background(), "go", "test", "./...", "-count=1")
}

func runRaceTests() error {
	info("==== Run Go tests (race, short) ====")
	return RunCmd(context.Background(), Cmd{
		Path:   "go",
		Args:   []string{"test", "-race", "-short", "./..."},
		Env:    map[string]string{"CGO_ENABLED": "1"},
		Stream: true,
	})
}

// runE2ETests runs the process-level suites, which build the fake engine.
func runE2ETests() error {
	info("==== Run E2E tests ====")
	return runCmdStreaming(context.Background(), "go", "test", "-count=1", "-v", "./internal/e2e/...", "./internal/supervisor/...")
}
