package testctl

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	old := logger
	t.Cleanup(func() { logger = old })
	var buf bytes.Buffer
	logger = newConsoleLogger(&buf)
	return &buf
}

func TestStream(t *testing.T) {
	buf := captureLog(t)
	stream("X", strings.NewReader("line1\nline2\n"))
	out := buf.String()
	if !strings.Contains(out, "line1") || !strings.Contains(out, "line2") {
		t.Fatalf("lines not logged: %q", out)
	}
}

func TestRunCmdStreamingEnvAndDir(t *testing.T) {
	buf := captureLog(t)
	dir := t.TempDir()
	err := RunCmd(context.Background(), Cmd{
		Path:   "sh",
		Args:   []string{"-c", `echo "$GREETING from $(pwd)"; echo oops >&2`},
		Env:    map[string]string{"GREETING": "hello"},
		Dir:    dir,
		Stream: true,
	})
	if err != nil {
		t.Skipf("sh unavailable: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "hello from "+dir) && !strings.Contains(out, "hello from "+filepath.Clean(dir)) {
		t.Fatalf("stdout not captured: %q", out)
	}
	if !strings.Contains(out, "oops") {
		t.Fatalf("stderr not captured: %q", out)
	}
}

func TestRunCmdFailure(t *testing.T) {
	if err := runCmdVerbose(context.Background(), "sh", "-c", "exit 3"); err == nil {
		t.Fatalf("expected non-zero exit to error")
	}
	if err := runCmdVerbose(context.Background(), filepath.Join(os.TempDir(), "no-such-binary-xyz")); err == nil {
		t.Fatalf("expected missing binary to error")
	}
}
