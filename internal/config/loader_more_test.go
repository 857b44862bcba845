package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Each case writes a config (and optionally a backends dir entry) and
// expects Load to fail with an error mentioning want.
func TestLoad_Malformed(t *testing.T) {
	cases := []struct {
		name    string
		file    string
		content string
		backend string // written to backends.d/x.yaml when set
		want    string
	}{
		{name: "yaml", file: "bad.yaml", content: "addr: :8080\n: broken\n", want: "bad.yaml"},
		{name: "json", file: "bad.json", content: `{ "addr": ":8080", "backends": }`, want: "bad.json"},
		{name: "toml", file: "bad.toml", content: "addr=:8080\nbackends\n", want: "bad.toml"},
		{name: "duration", file: "d.yaml", content: "request_timeout: soon\n", want: "invalid duration"},
		{name: "spawn duration", file: "s.yaml", content: "spawn:\n  ready_backoff: 5 parsecs\n", want: "invalid duration"},
		{name: "extension", file: "cfg.ini", content: "addr=:8080\n", want: "unsupported config extension"},
		{name: "missing backends_dir", file: "m.yaml", content: "backends_dir: nowhere\n", want: "does not exist"},
		{
			name:    "bad backend file",
			file:    "b.yaml",
			content: "backends_dir: backends.d\n",
			backend: "engine: [vllm\n",
			want:    "x.yaml",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			d := t.TempDir()
			if c.backend != "" {
				bd := filepath.Join(d, "backends.d")
				if err := os.Mkdir(bd, 0o755); err != nil {
					t.Fatal(err)
				}
				writeTempFile(t, bd, "x.yaml", c.backend)
			}
			p := writeTempFile(t, d, c.file, c.content)
			_, err := Load(p)
			if err == nil || !strings.Contains(err.Error(), c.want) {
				t.Fatalf("Load(%s) error = %v, want mention of %q", c.file, err, c.want)
			}
		})
	}
}

func TestLoad_NonexistentFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "enginegate.yaml")); err == nil {
		t.Fatalf("expected error for nonexistent file")
	}
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
