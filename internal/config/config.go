package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/proxyvisor/internal/directive"
)

// DefaultPath is read when no --config flag is given.
const DefaultPath = "/etc/proxyvisor/proxyvisor.yaml"

// ProxyConfig describes the supervised proxy binary.
type ProxyConfig struct {
	Binary      string        `yaml:"binary"`
	Args        []string      `yaml:"args"`
	ProcessName string        `yaml:"process_name"`
	ConfigPath  string        `yaml:"config_path"`
	KillCommand string        `yaml:"kill_command"`
	StopTimeout time.Duration `yaml:"stop_timeout"`
	StopOnExit  bool          `yaml:"stop_on_exit"`
}

// DirectiveConfig controls the initial forwarding directive.
type DirectiveConfig struct {
	Default     string `yaml:"default"`
	SeedMissing bool   `yaml:"seed_missing"`
}

// DesiredConfig locates the desired-state document.
type DesiredConfig struct {
	Path         string        `yaml:"path"`
	Poll         bool          `yaml:"poll"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Debounce     time.Duration `yaml:"debounce"`
}

// LogConfig selects log level and encoding.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the daemon configuration file.
type Config struct {
	Proxy       ProxyConfig     `yaml:"proxy"`
	Directive   DirectiveConfig `yaml:"directive"`
	Desired     DesiredConfig   `yaml:"desired"`
	StateDir    string          `yaml:"state_dir"`
	Log         LogConfig       `yaml:"log"`
	MetricsAddr string          `yaml:"metrics_addr"`
	HealthAddr  string          `yaml:"health_addr"`
}

// Default returns the built-in configuration for a Privoxy install.
func Default() *Config {
	return &Config{
		Proxy: ProxyConfig{
			Binary:      "/usr/sbin/privoxy",
			Args:        []string{"--no-daemon"},
			ProcessName: "privoxy",
			ConfigPath:  "/etc/privoxy/config",
			KillCommand: "/usr/bin/killall",
			StopTimeout: 10 * time.Second,
			StopOnExit:  true,
		},
		Directive: DirectiveConfig{
			Default: directive.Default.String(),
		},
		Desired: DesiredConfig{
			Path:         "/etc/proxyvisor/desired.yaml",
			PollInterval: 5 * time.Second,
			Debounce:     200 * time.Millisecond,
		},
		StateDir: "/var/lib/proxyvisor",
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from a YAML file.
// Empty path falls back to DefaultPath. Missing file returns defaults.
// Invalid YAML returns an error. The hash is over the raw bytes on disk.
func Load(path string) (*Config, string, error) {
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			h := sha256.Sum256(nil)
			return Default(), "sha256:" + hex.EncodeToString(h[:]), nil
		}
		return nil, "", fmt.Errorf("failed to read config: %w", err)
	}

	h := sha256.Sum256(data)
	hash := "sha256:" + hex.EncodeToString(h[:])

	// Start with defaults, YAML overwrites only specified fields
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, hash, nil
}

// DefaultDirective parses Directive.Default.
func (c *Config) DefaultDirective() (directive.Directive, error) {
	d, err := directive.FromValue(c.Directive.Default)
	if err != nil {
		return directive.Directive{}, fmt.Errorf("directive.default: %w", err)
	}
	return d, nil
}

// PIDPath is the single-instance lock file.
func (c *Config) PIDPath() string {
	return filepath.Join(c.StateDir, "proxyvisor.pid")
}

// JournalPath is the reconciliation journal.
func (c *Config) JournalPath() string {
	return filepath.Join(c.StateDir, "journal.jsonl")
}

// StatusDBPath is the SQLite status database.
func (c *Config) StatusDBPath() string {
	return filepath.Join(c.StateDir, "status.db")
}

// UnitHashPath stores the install-time hash of the systemd unit.
func (c *Config) UnitHashPath() string {
	return filepath.Join(c.StateDir, "unit-file.sha256")
}

// Validate checks the fields the daemon cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.Proxy.Binary == "" {
		errs = append(errs, errors.New("proxy.binary is required"))
	}
	if c.Proxy.ConfigPath == "" {
		errs = append(errs, errors.New("proxy.config_path is required"))
	}
	if c.Proxy.ProcessName == "" {
		errs = append(errs, errors.New("proxy.process_name is required"))
	}
	if c.Proxy.StopTimeout <= 0 {
		errs = append(errs, errors.New("proxy.stop_timeout must be positive"))
	}
	if c.Desired.Path == "" {
		errs = append(errs, errors.New("desired.path is required"))
	}
	if c.Desired.Poll && c.Desired.PollInterval <= 0 {
		errs = append(errs, errors.New("desired.poll_interval must be positive when polling"))
	}
	if c.StateDir == "" {
		errs = append(errs, errors.New("state_dir is required"))
	}
	if _, err := c.DefaultDirective(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
