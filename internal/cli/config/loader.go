package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/yndnr/docsync-go/internal/infra/confloader"
)

// EnvPrefix prefixes environment variables read by the CLI.
const EnvPrefix = "DOCSYNC_CLI_"

// DefaultConfigPath returns the default CLI config file path.
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "docsync", "cli.yaml")
}

// Load reads path over the defaults, then the environment. A missing file
// is not an error. An empty path means DefaultConfigPath.
func Load(path string) (*CLIConfig, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		path = ""
	}

	cfg := Default()
	loader := confloader.NewLoader(
		confloader.WithEnvPrefix(EnvPrefix),
		confloader.WithConfigFile(path),
	)
	if err := loader.Load(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads path over the defaults, ignoring the environment. A
// missing file yields the defaults.
func LoadFile(path string) (*CLIConfig, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path with owner-only permissions.
func Save(cfg *CLIConfig, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

// Set changes one setting by its file key.
func (c *CLIConfig) Set(key, value string) error {
	switch strings.ToLower(key) {
	case "server":
		c.Server = value
	case "admin_key":
		c.AdminKey = value
	case "token":
		c.Token = value
	case "token_secret":
		c.TokenSecret = value
	case "output":
		c.Output = value
	default:
		return fmt.Errorf("unknown setting %q (server, admin_key, token, token_secret, output)", key)
	}
	return nil
}

// Masked returns a copy with secrets hidden, for display.
func (c *CLIConfig) Masked() *CLIConfig {
	m := *c
	m.AdminKey = mask(m.AdminKey)
	m.Token = mask(m.Token)
	m.TokenSecret = mask(m.TokenSecret)
	return &m
}

func mask(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "****"
	default:
		return s[:4] + "****"
	}
}
