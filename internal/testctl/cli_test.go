package testctl

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// helper to restore stubs after each test
func withCLIStubs(t *testing.T, stubs func()) {
	t.Helper()
	oldGo, oldRace, oldE2E := fnRunGoTests, fnRunRaceTests, fnRunE2ETests
	oldSmoke, oldDemo := fnSmoke, fnDemo
	t.Cleanup(func() {
		fnRunGoTests, fnRunRaceTests, fnRunE2ETests = oldGo, oldRace, oldE2E
		fnSmoke, fnDemo = oldSmoke, oldDemo
	})
	stubs()
}

func run(args ...string) (int, string, string) {
	var out, errb bytes.Buffer
	code := mainWith(args, &out, &errb)
	return code, out.String(), errb.String()
}

func TestMainNoArgsShowsUsage(t *testing.T) {
	code, out, _ := run()
	if code != 2 {
		t.Fatalf("expected exit code 2 for no args, got %d", code)
	}
	if !strings.Contains(out, "smoke") || !strings.Contains(out, "demo") {
		t.Fatalf("usage missing commands: %q", out)
	}
}

func TestMainHelpExit0(t *testing.T) {
	if code, _, _ := run("--help"); code != 0 {
		t.Fatalf("help expected 0, got %d", code)
	}
}

func TestMainUnknownCommandExit1(t *testing.T) {
	if code, _, _ := run("wat"); code != 1 {
		t.Fatalf("expected exit code 1 for unknown command, got %d", code)
	}
	code, _, errOut := run("test", "bogus")
	if code != 1 || !strings.Contains(errOut, "unknown test subcommand: bogus") {
		t.Fatalf("unexpected result %d %q", code, errOut)
	}
	if code, _, _ := run("test"); code != 2 {
		t.Fatalf("bare group expected 2, got %d", code)
	}
}

func TestTestCommandsDispatch(t *testing.T) {
	var calls []string
	withCLIStubs(t, func() {
		fnRunGoTests = func() error { calls = append(calls, "go"); return nil }
		fnRunRaceTests = func() error { calls = append(calls, "race"); return nil }
		fnRunE2ETests = func() error { calls = append(calls, "e2e"); return nil }
	})
	for _, sub := range []string{"go", "race", "e2e", "all"} {
		if code, _, errOut := run("test", sub); code != 0 {
			t.Fatalf("test %s: code %d: %s", sub, code, errOut)
		}
	}
	want := "go,race,e2e,race,go"
	if got := strings.Join(calls, ","); got != want {
		t.Fatalf("calls = %s, want %s", got, want)
	}
}

func TestTestAllStopsOnFailure(t *testing.T) {
	ranGo := false
	withCLIStubs(t, func() {
		fnRunRaceTests = func() error { return errors.New("race failed") }
		fnRunGoTests = func() error { ranGo = true; return nil }
	})
	code, _, errOut := run("test", "all")
	if code != 1 || !strings.Contains(errOut, "race failed") {
		t.Fatalf("unexpected result %d %q", code, errOut)
	}
	if ranGo {
		t.Fatalf("go tests should not run after a race failure")
	}
}

func TestSmokeFlagsArePassed(t *testing.T) {
	var got SmokeOptions
	withCLIStubs(t, func() {
		fnSmoke = func(ctx context.Context, o SmokeOptions) (SmokeReport, error) {
			got = o
			return SmokeReport{ServedBy: "b1", Attempts: 2, ReadyCount: 1}, nil
		}
	})
	code, out, errOut := run("smoke", "http://gw:8080", "--engine-url", "http://e:8000", "--engine", "tgi",
		"--model", "m", "--jurisdiction", "EU", "--timeout", "5s")
	if code != 0 {
		t.Fatalf("smoke: code %d: %s", code, errOut)
	}
	want := SmokeOptions{BaseURL: "http://gw:8080", EngineURL: "http://e:8000", Engine: "tgi", Model: "m", Jurisdiction: "EU", Timeout: 5 * time.Second}
	if got != want {
		t.Fatalf("options = %+v, want %+v", got, want)
	}
	if !strings.Contains(out, "served by b1 in 2 attempt(s)") {
		t.Fatalf("unexpected output %q", out)
	}
	if code, _, _ := run("smoke"); code != 1 {
		t.Fatalf("smoke without url expected 1, got %d", code)
	}
}

func TestPersistentFlagsReachDemo(t *testing.T) {
	t.Setenv("TESTCTL_GATEWAY_PORT", "19000")
	t.Setenv("TESTCTL_LOG_LEVEL", "warn")
	var got Config
	withCLIStubs(t, func() {
		fnDemo = func(c *Config) error { got = *c; return nil }
	})
	if code, _, errOut := run("--log-level", "debug", "demo", "--hold"); code != 0 {
		t.Fatalf("demo: code %d: %s", code, errOut)
	}
	if got.GatewayPort != 19000 || got.LogLvl != "debug" || !got.Hold {
		t.Fatalf("unexpected config %+v", got)
	}
	SetLogLevel("info")
}

func TestCompletion(t *testing.T) {
	code, out, _ := run("completion", "bash")
	if code != 0 || !strings.Contains(out, "testctl") {
		t.Fatalf("bash completion: %d %q", code, out)
	}
}
