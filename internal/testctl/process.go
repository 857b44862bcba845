package testctl

import (
	"errors"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// ProcManager tracks started processes and stops them all on cleanup.
// Commands must be started with Setpgid so the whole group can be signalled;
// `go run` leaves the real binary as a child.
type ProcManager struct {
	mu    sync.Mutex
	procs []*exec.Cmd
}

func NewProcManager() *ProcManager { return &ProcManager{} }

// Prepare sets the process-group attribute Add relies on.
func Prepare(cmd *exec.Cmd) *exec.Cmd {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

func (pm *ProcManager) Add(cmd *exec.Cmd) {
	pm.mu.Lock()
	pm.procs = append(pm.procs, cmd)
	pm.mu.Unlock()
}

// StopAll sends SIGTERM to every tracked process group, waits up to grace
// for them to exit and then kills what is left. Processes are forgotten
// afterwards.
func (pm *ProcManager) StopAll(grace time.Duration) error {
	pm.mu.Lock()
	procs := append([]*exec.Cmd(nil), pm.procs...)
	pm.procs = nil
	pm.mu.Unlock()

	var (
		wg   sync.WaitGroup
		emu  sync.Mutex
		errs []error
	)
	for _, c := range procs {
		if c == nil || c.Process == nil {
			continue
		}
		wg.Add(1)
		go func(c *exec.Cmd) {
			defer wg.Done()
			if err := stopGroup(c, grace); err != nil {
				emu.Lock()
				errs = append(errs, err)
				emu.Unlock()
			}
		}(c)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func stopGroup(c *exec.Cmd, grace time.Duration) error {
	pid := c.Process.Pid
	done := make(chan struct{})
	go func() {
		_, _ = c.Process.Wait()
		close(done)
	}()
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		_ = c.Process.Signal(syscall.SIGTERM)
	}
	select {
	case <-done:
		return nil
	case <-time.After(grace):
	}
	warn("[proc] pid %d ignored SIGTERM for %s; killing", pid, grace)
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return c.Process.Kill()
	}
	<-done
	return nil
}
