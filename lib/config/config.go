// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfig names the environment variable holding the config path.
const EnvConfig = "HCOPS_CONFIG"

// EnvTagStore overrides the tag store location regardless of the
// config file.
const EnvTagStore = "HCOPS_TAG_STORE"

// Config is the complete hcops configuration.
type Config struct {
	// TagStore is the path of the tag registry database.
	TagStore string `yaml:"tag_store"`

	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Connection ConnectionConfig `yaml:"connection"`
	Storage    StorageConfig    `yaml:"storage"`
}

// DiscoveryConfig configures the process scanner.
type DiscoveryConfig struct {
	// ProcessNames are exact executable names to match. Each becomes
	// an anchored signature.
	ProcessNames []string `yaml:"process_names"`

	// Signatures are additional regular expressions matched against
	// the executable base name, comm, and every argument.
	Signatures []string `yaml:"signatures"`

	// ProcRoot is the procfs mount point. Default: /proc
	ProcRoot string `yaml:"proc_root"`
}

// ConnectionConfig configures control-plane sessions.
type ConnectionConfig struct {
	// Origin is sent as the websocket Origin header. Conductors check
	// it against each interface's allowed origins. Default: hcops
	Origin string `yaml:"origin"`

	// DialTimeout bounds the TCP connect plus websocket upgrade.
	DialTimeout Duration `yaml:"dial_timeout"`

	// RequestTimeout bounds each request when the caller sets no
	// deadline of its own.
	RequestTimeout Duration `yaml:"request_timeout"`

	// ReadRetries is how many times a read-only command is retried
	// after a timeout. Mutating commands are never retried.
	ReadRetries int `yaml:"read_retries"`
}

// StorageConfig configures the storage inspector.
type StorageConfig struct {
	// DataRoot is the conductor's data directory (the parent of
	// databases/). Empty means commands must pass --data-root.
	DataRoot string `yaml:"data_root"`

	// BusyTimeout bounds how long a read waits on a conductor's lock
	// before reporting it as locked.
	BusyTimeout Duration `yaml:"busy_timeout"`
}

// Duration is a time.Duration that reads Go duration strings from YAML.
type Duration time.Duration

// UnmarshalYAML parses strings like "250ms" or "30s".
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return fmt.Errorf("line %d: duration must be a string like \"30s\"", node.Line)
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration in Go syntax.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		TagStore: defaultTagStore(),
		Discovery: DiscoveryConfig{
			ProcessNames: []string{"holochain"},
			ProcRoot:     "/proc",
		},
		Connection: ConnectionConfig{
			Origin:         "hcops",
			DialTimeout:    Duration(5 * time.Second),
			RequestTimeout: Duration(30 * time.Second),
			ReadRetries:    1,
		},
		Storage: StorageConfig{
			BusyTimeout: Duration(250 * time.Millisecond),
		},
	}
}

func defaultTagStore() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "hcops", "state.sqlite3")
}

// Load loads the file named by HCOPS_CONFIG, or returns Default when
// it is unset.
func Load() (*Config, error) {
	path := os.Getenv(EnvConfig)
	if path == "" {
		cfg := Default()
		cfg.applyEnvironment()
		return cfg, nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path over the defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.expandVariables()
	cfg.applyEnvironment()
	return cfg, nil
}

// applyEnvironment applies the one override hcops honors outside the
// file: HCOPS_TAG_STORE, so tests and scripts can isolate their tags.
func (c *Config) applyEnvironment() {
	if path := os.Getenv(EnvTagStore); path != "" {
		c.TagStore = path
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.TagStore = expandVars(c.TagStore, vars)
	c.Discovery.ProcRoot = expandVars(c.Discovery.ProcRoot, vars)
	c.Storage.DataRoot = expandVars(c.Storage.DataRoot, vars)
}

// varPattern matches ${VAR} and ${VAR:-default}. Defaults may nest
// one level of ${VAR}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-((?:[^${}]|\$\{[^}]*\})*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return expandVars(defaultValue, vars)
	})
}

// Signatures returns every signature pattern: process names anchored
// exactly, then the configured regular expressions.
func (c *Config) Signatures() []string {
	patterns := make([]string, 0, len(c.Discovery.ProcessNames)+len(c.Discovery.Signatures))
	for _, name := range c.Discovery.ProcessNames {
		patterns = append(patterns, "^"+regexp.QuoteMeta(name)+"$")
	}
	return append(patterns, c.Discovery.Signatures...)
}

// Validate checks the configuration for errors. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.TagStore == "" {
		errs = append(errs, errors.New("tag_store is required"))
	}
	if len(c.Signatures()) == 0 {
		errs = append(errs, errors.New("discovery needs at least one process name or signature"))
	}
	for _, pattern := range c.Discovery.Signatures {
		if _, err := regexp.Compile(pattern); err != nil {
			errs = append(errs, fmt.Errorf("discovery.signatures: %q: %w", pattern, err))
		}
	}
	if c.Discovery.ProcRoot == "" {
		errs = append(errs, errors.New("discovery.proc_root is required"))
	}
	if c.Connection.Origin == "" {
		errs = append(errs, errors.New("connection.origin is required"))
	}
	if c.Connection.DialTimeout <= 0 {
		errs = append(errs, errors.New("connection.dial_timeout must be positive"))
	}
	if c.Connection.RequestTimeout <= 0 {
		errs = append(errs, errors.New("connection.request_timeout must be positive"))
	}
	if c.Connection.ReadRetries < 0 {
		errs = append(errs, errors.New("connection.read_retries must not be negative"))
	}
	if c.Storage.BusyTimeout <= 0 {
		errs = append(errs, errors.New("storage.busy_timeout must be positive"))
	}

	return errors.Join(errs...)
}
