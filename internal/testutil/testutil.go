// Package testutil holds helpers shared by process-level tests.
package testutil

import (
	"context"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"testing"
	"time"
)

var (
	buildOnce sync.Once
	buildDir  string
	buildPath string
	buildErr  error
	buildOut  []byte
)

// FakeEngine builds the fakeengine command once per test binary and returns
// its path. Tests calling it should skip in -short mode.
func FakeEngine(t *testing.T) string {
	t.Helper()
	buildOnce.Do(func() {
		buildDir, buildErr = os.MkdirTemp("", "enginegate-fake-*")
		if buildErr != nil {
			return
		}
		buildPath = filepath.Join(buildDir, "fakeengine")
		cmd := exec.Command("go", "build", "-o", buildPath, "enginegate/internal/testutil/fakeengine")
		cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
		buildOut, buildErr = cmd.CombinedOutput()
	})
	if buildErr != nil {
		t.Fatalf("build fake engine: %v: %s", buildErr, string(buildOut))
	}
	return buildPath
}

// FreePort returns a TCP port that was free on host a moment ago.
func FreePort(t *testing.T, host string) int {
	t.Helper()
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	_, p, _ := net.SplitHostPort(l.Addr().String())
	n, _ := strconv.Atoi(p)
	return n
}

// Ctx returns a context with timeout d, canceled on test cleanup.
func Ctx(t *testing.T, d time.Duration) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return c
}

// Eventually polls cond every 10ms until it holds or d elapses.
func Eventually(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s: %s", d, msg)
}

// ProcessAlive reports whether pid still exists.
func ProcessAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
