//go:build !unix

package supervisor

import (
	"os"
	"os/exec"
)

func setProcessGroup(*exec.Cmd) {}

func signalTerminate(cmd *exec.Cmd) error { return cmd.Process.Signal(os.Interrupt) }

func forceKill(cmd *exec.Cmd) error { return cmd.Process.Kill() }
