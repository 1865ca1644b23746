// Package config loads the run configuration file: retry policy overrides,
// checkpoint store selection, and HTTP control plane options. Grounded on
// the teacher's strict-decode RunConfigFile loader.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RetryPolicyConfig overrides a named preset's shape at config-load time.
type RetryPolicyConfig struct {
	MaxAttempts  int     `yaml:"max_attempts"`
	InitialDelay string  `yaml:"initial_delay"` // parsed as a Go duration string, e.g. "500ms"
	MaxDelay     string  `yaml:"max_delay"`
	Factor       float64 `yaml:"factor"`
	Jitter       float64 `yaml:"jitter"`
}

// CheckpointConfig selects and configures the checkpoint store.
type CheckpointConfig struct {
	Backend string `yaml:"backend"` // "file" (default) or "sqlite"
	Root    string `yaml:"root"`    // FileStore root, or SQLite file path
}

// ServerConfig configures the optional HTTP control plane.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// File is the top-level run configuration document.
type File struct {
	Version       int                          `yaml:"version"`
	DefaultRetry  string                        `yaml:"default_retry_policy"`
	RetryPolicies map[string]RetryPolicyConfig  `yaml:"retry_policies,omitempty"`
	Checkpoint    CheckpointConfig              `yaml:"checkpoint,omitempty"`
	Server        ServerConfig                  `yaml:"server,omitempty"`
	LogsRoot      string                        `yaml:"logs_root,omitempty"`
}

// Load reads and strictly decodes a YAML config file, applying defaults and
// validating the result.
func Load(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var cfg File
	if err := decodeStrict(b, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func decodeStrict(b []byte, cfg *File) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("multiple YAML documents are not allowed")
		}
		return err
	}
	return nil
}

func applyDefaults(cfg *File) {
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	if cfg.DefaultRetry == "" {
		cfg.DefaultRetry = "standard"
	}
	if cfg.Checkpoint.Backend == "" {
		cfg.Checkpoint.Backend = "file"
	}
	if cfg.Checkpoint.Root == "" {
		cfg.Checkpoint.Root = "./runs"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.LogsRoot == "" {
		cfg.LogsRoot = cfg.Checkpoint.Root
	}
}

func validate(cfg *File) error {
	if cfg.Version != 1 {
		return fmt.Errorf("unsupported config version: %d", cfg.Version)
	}
	switch strings.ToLower(cfg.Checkpoint.Backend) {
	case "file", "sqlite":
	default:
		return fmt.Errorf("invalid checkpoint.backend %q (want file|sqlite)", cfg.Checkpoint.Backend)
	}
	for name, rp := range cfg.RetryPolicies {
		if rp.MaxAttempts < 1 {
			return fmt.Errorf("retry_policies.%s.max_attempts must be >= 1", name)
		}
		if rp.Factor != 0 && rp.Factor < 1 {
			return fmt.Errorf("retry_policies.%s.factor must be >= 1", name)
		}
		if rp.Jitter < 0 || rp.Jitter > 1 {
			return fmt.Errorf("retry_policies.%s.jitter must be within [0,1]", name)
		}
	}
	return nil
}
