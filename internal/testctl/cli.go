package testctl

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Config holds the persistent flags shared by every command.
type Config struct {
	GatewayPort int
	LogLvl      string
	// Hold keeps the demo gateway running until interrupted.
	Hold bool
}

// DefaultConfig reads defaults from TESTCTL_GATEWAY_PORT, TESTCTL_LOG_LEVEL
// and TESTCTL_HOLD.
func DefaultConfig() *Config {
	return &Config{
		GatewayPort: envInt("TESTCTL_GATEWAY_PORT", 18080),
		LogLvl:      envStr("TESTCTL_LOG_LEVEL", "info"),
		Hold:        envBool("TESTCTL_HOLD", false),
	}
}

// errUsage marks invocations that only printed help because nothing was
// selected.
var errUsage = errors.New("usage")

// MainWithArgs is a testable variant of Main that accepts args explicitly.
// It returns 0 on success, 2 when no command was given and 1 on error.
func MainWithArgs(args []string) int {
	return mainWith(args, os.Stdout, os.Stderr)
}

func mainWith(args []string, stdout, stderr io.Writer) int {
	cfg := DefaultConfig()
	root := buildRootCmdWith(cfg)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if len(args) == 0 {
		_ = root.Help()
		return 2
	}
	if err := root.Execute(); err != nil {
		if errors.Is(err, errUsage) {
			return 2
		}
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	return 0
}

// Main returns an exit code for use by cmd/testctl.
func Main() int { return MainWithArgs(os.Args[1:]) }
