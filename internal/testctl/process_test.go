package testctl

import (
	"os/exec"
	"testing"
	"time"
)

func TestProcManagerStopAll(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns processes")
	}
	pm := NewProcManager()
	cmd := Prepare(exec.Command("sleep", "30"))
	if err := cmd.Start(); err != nil {
		t.Skipf("sleep unavailable: %v", err)
	}
	pm.Add(cmd)

	start := time.Now()
	if err := pm.StopAll(2 * time.Second); err != nil {
		t.Fatalf("StopAll: %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("sleep should exit on SIGTERM")
	}
}

func TestProcManagerKillsStubbornGroup(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns processes")
	}
	pm := NewProcManager()
	cmd := Prepare(exec.Command("sh", "-c", "trap '' TERM; sleep 30"))
	if err := cmd.Start(); err != nil {
		t.Skipf("sh unavailable: %v", err)
	}
	pm.Add(cmd)
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	if err := pm.StopAll(300 * time.Millisecond); err != nil {
		t.Fatalf("StopAll: %v", err)
	}
	if d := time.Since(start); d < 300*time.Millisecond {
		t.Fatalf("returned before grace elapsed: %v", d)
	}
}

func TestProcManagerIgnoresUnstarted(t *testing.T) {
	pm := NewProcManager()
	pm.Add(exec.Command("true"))
	pm.Add(nil)
	if err := pm.StopAll(time.Millisecond); err != nil {
		t.Fatalf("StopAll: %v", err)
	}
}
