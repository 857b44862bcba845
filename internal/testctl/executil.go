package testctl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// Cmd describes one external command.
type Cmd struct {
	Path   string
	Args   []string
	Env    map[string]string // additional env vars
	Dir    string            // working directory
	Stream bool              // prefix each output line through the logger
}

func (c Cmd) build(ctx context.Context) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	if c.Dir != "" {
		cmd.Dir = c.Dir
	}
	cmd.Env = os.Environ()
	for k, v := range c.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	return cmd
}

// RunCmd runs c to completion.
func RunCmd(ctx context.Context, c Cmd) error {
	cmd := c.build(ctx)
	debug("[exec] %s %v", c.Path, c.Args)
	if c.Stream {
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return err
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return err
		}
		if err := cmd.Start(); err != nil {
			return err
		}
		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); stream("out", stdout) }()
		go func() { defer wg.Done(); stream("err", stderr) }()
		wg.Wait()
		return cmd.Wait()
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// StartCmd starts c in its own process group and registers it with pm.
// Output goes to the terminal.
func StartCmd(ctx context.Context, pm *ProcManager, c Cmd) (*exec.Cmd, error) {
	cmd := Prepare(c.build(ctx))
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	debug("[exec] start %s %v", c.Path, c.Args)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	pm.Add(cmd)
	return cmd, nil
}

func runCmdVerbose(ctx context.Context, name string, args ...string) error {
	return RunCmd(ctx, Cmd{Path: name, Args: args})
}

func runCmdStreaming(ctx context.Context, name string, args ...string) error {
	return RunCmd(ctx, Cmd{Path: name, Args: args, Stream: true})
}

func stream(prefix string, r io.Reader) {
	s := bufio.NewScanner(r)
	for s.Scan() {
		logger.Info().Str("stream", prefix).Msg(s.Text())
	}
}
