package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"enginegate/internal/common/fsutil"
	"enginegate/pkg/types"
)

// decodeFile unmarshals path into v based on its extension.
// Supports: .yaml/.yml, .json, .toml
func decodeFile(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, v); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(b, v); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, v); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config extension: %s", ext)
	}
	return nil
}

// Load reads a configuration file based on its extension. backends_dir and
// audit_log resolve relative to the file's directory; the specs found in
// backends_dir are appended to Backends. Defaults and validation are left
// to the caller.
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	if err := decodeFile(path, &cfg); err != nil {
		return cfg, err
	}
	base := filepath.Dir(path)
	audit, err := fsutil.Resolve(cfg.AuditLog, base)
	if err != nil {
		return cfg, fmt.Errorf("audit_log: %w", err)
	}
	cfg.AuditLog = audit
	if cfg.BackendsDir != "" {
		dir, err := fsutil.Resolve(cfg.BackendsDir, base)
		if err != nil {
			return cfg, fmt.Errorf("backends_dir: %w", err)
		}
		cfg.BackendsDir = dir
		specs, err := LoadBackendsDir(dir)
		if err != nil {
			return cfg, err
		}
		cfg.Backends = append(cfg.Backends, specs...)
	}
	return cfg, nil
}

// LoadBackendsDir reads one BackendSpec per supported file in dir, in name
// order. A spec without an id takes the file name minus its extension.
// Other files and subdirectories are ignored.
func LoadBackendsDir(dir string) ([]types.BackendSpec, error) {
	abs, err := fsutil.Resolve(dir, "")
	if err != nil {
		return nil, err
	}
	if err := fsutil.RequireDir(abs); err != nil {
		return nil, fmt.Errorf("backends dir: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var specs []types.BackendSpec
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch strings.ToLower(filepath.Ext(name)) {
		case ".yaml", ".yml", ".json", ".toml":
		default:
			continue
		}
		var spec types.BackendSpec
		if err := decodeFile(filepath.Join(abs, name), &spec); err != nil {
			return nil, err
		}
		if spec.ID == "" {
			spec.ID = strings.TrimSuffix(name, filepath.Ext(name))
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
