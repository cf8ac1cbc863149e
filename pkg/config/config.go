// Package config resolves archon_home — the root directory every project,
// registry, and secret store is rooted under — following the precedence
// chain of spec.md §4.9, and loads the persisted operator-facing OS config
// file. Adapted from the teacher's pkg/config/config.go (env-var loading
// with defaults) and pkg/config/profile_loader.go (a YAML file read via
// gopkg.in/yaml.v3), combined into the two concerns Archon needs: where
// state lives, and what the operator has configured about it.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	envHome       = "ARCHON_HOME"
	envLegacyHome = "ARCHON_STATE_DIR" // pre-rename environment variable, still honored
	osConfigFile  = "config.yaml"
	defaultDirName = ".archon"
)

// OSConfig is the small set of operator preferences persisted at
// archon_home/config.yaml — distinct from per-project resource config,
// which lives under the project's own directory.
type OSConfig struct {
	LogLevel      string `yaml:"log_level"`
	DefaultEngine string `yaml:"default_engine_version"`
}

// ResolveHome determines archon_home using the precedence chain: an
// explicit argument wins, then ARCHON_HOME, then the legacy
// ARCHON_STATE_DIR, then a persisted OS config pointer (if one is found at
// the default location), then ~/.archon.
func ResolveHome(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if v := os.Getenv(envHome); v != "" {
		return v, nil
	}
	if v := os.Getenv(envLegacyHome); v != "" {
		return v, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolving user home directory: %w", err)
	}
	defaultHome := filepath.Join(homeDir, defaultDirName)

	if persisted, ok, err := readPersistedHomePointer(homeDir); err != nil {
		return "", err
	} else if ok {
		return persisted, nil
	}

	return defaultHome, nil
}

// readPersistedHomePointer looks for a pointer file a previous install may
// have left at ~/.archon-home (a single line containing the chosen
// archon_home), distinct from the config.yaml that lives inside archon_home
// itself — this file has to live outside archon_home since it is what
// locates it.
func readPersistedHomePointer(userHome string) (string, bool, error) {
	path := filepath.Join(userHome, ".archon-home")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("config: reading %q: %w", path, err)
	}
	trimmed := filepath.Clean(string(data))
	if trimmed == "" || trimmed == "." {
		return "", false, nil
	}
	return trimmed, true, nil
}

// LoadOSConfig reads archon_home/config.yaml, returning zero-value defaults
// if it does not exist yet.
func LoadOSConfig(archonHome string) (OSConfig, error) {
	path := filepath.Join(archonHome, osConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return OSConfig{LogLevel: "info"}, nil
		}
		return OSConfig{}, fmt.Errorf("config: reading %q: %w", path, err)
	}

	var cfg OSConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return OSConfig{}, fmt.Errorf("config: parsing %q: %w", path, err)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

// SaveOSConfig persists cfg to archon_home/config.yaml, creating archon_home
// if necessary.
func SaveOSConfig(archonHome string, cfg OSConfig) error {
	if err := os.MkdirAll(archonHome, 0700); err != nil {
		return fmt.Errorf("config: creating archon_home %q: %w", archonHome, err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	path := filepath.Join(archonHome, osConfigFile)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("config: writing %q: %w", path, err)
	}
	return nil
}
