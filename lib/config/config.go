// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the variable [Load] reads the config path from.
const EnvironmentVariable = "GATEKEEPER_CONFIG"

// Config is the master configuration.
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Gatekeeper GatekeeperConfig `yaml:"gatekeeper"`
	Launcher   LauncherConfig   `yaml:"launcher"`
	KillSwitch KillSwitchConfig `yaml:"kill_switch"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Default: info.
	Level string `yaml:"level"`
}

// GatekeeperConfig configures the permission channel and its policy.
type GatekeeperConfig struct {
	// Mount is a path on the mount to watch. The whole mount
	// containing it is marked. Default: /home
	Mount string `yaml:"mount"`

	// Class is the fanotify class: "content" or "pre-content".
	// Default: content
	Class string `yaml:"class"`

	// Sanctioned lists directories the monitored tree may touch
	// without a security alert. Default: ${HOME}/Ghost
	Sanctioned []string `yaml:"sanctioned"`

	// Deny lists directories whose accesses are refused.
	Deny []string `yaml:"deny"`

	// RulesFile is an optional JSONC rules file merged into
	// Sanctioned and Deny.
	RulesFile string `yaml:"rules_file"`

	// ProcRoot is where the process table is read. Default: /proc
	ProcRoot string `yaml:"proc_root"`
}

// LauncherConfig configures how "run" starts the monitored command.
type LauncherConfig struct {
	// Bwrap runs the command under bubblewrap. Default: true
	Bwrap bool `yaml:"bwrap"`

	// BwrapPath is the bubblewrap binary, resolved through PATH when
	// not absolute. Default: bwrap
	BwrapPath string `yaml:"bwrap_path"`

	// Hostname is the hostname inside the sandbox.
	// Default: ghost-station
	Hostname string `yaml:"hostname"`

	// DecoyDir holds cpuinfo and meminfo files bound over the
	// sandbox's /proc entries when present. Default: /tmp/ghost_symphony
	DecoyDir string `yaml:"decoy_dir"`

	// Setenv is set inside the sandbox.
	// Default: LIBGL_ALWAYS_SOFTWARE=1
	Setenv map[string]string `yaml:"setenv"`
}

// KillSwitchConfig configures breach teardown.
type KillSwitchConfig struct {
	// Commands run in order after the monitored tree is killed. Each
	// entry is an argv. Default: [[nmcli, networking, off]]
	Commands [][]string `yaml:"commands"`

	// Tripwire is the breach record path.
	// Default: ${HOME}/.cache/bureau/gatekeeper/tripwire.cbor
	Tripwire string `yaml:"tripwire"`

	// TripwireMaxAge bounds how old a breach record may be and still be
	// reported at startup. Default: 168h
	TripwireMaxAge string `yaml:"tripwire_max_age"`
}

// HomeDirectory returns the home directory of the user the gatekeeper
// acts for. Under sudo that is the invoking user named by SUDO_USER,
// not root, so ~/Ghost and the tripwire resolve where the user expects.
func HomeDirectory() (string, error) {
	return homeDirectory(os.Geteuid(), os.Getenv("SUDO_USER"), user.Lookup)
}

func homeDirectory(euid int, sudoUser string, lookup func(string) (*user.User, error)) (string, error) {
	if euid != 0 || sudoUser == "" || sudoUser == "root" {
		return os.UserHomeDir()
	}
	account, err := lookup(sudoUser)
	if err != nil {
		return "", fmt.Errorf("resolving home of SUDO_USER %q: %w", sudoUser, err)
	}
	if account.HomeDir == "" {
		return "", fmt.Errorf("SUDO_USER %q has no home directory", sudoUser)
	}
	return account.HomeDir, nil
}

// Default returns the default configuration. Loaded files are merged
// over it.
func Default() *Config {
	homeDirectory, _ := HomeDirectory()

	return &Config{
		Logging: LoggingConfig{Level: "info"},
		Gatekeeper: GatekeeperConfig{
			Mount:      "/home",
			Class:      "content",
			Sanctioned: []string{filepath.Join(homeDirectory, "Ghost")},
			ProcRoot:   "/proc",
		},
		Launcher: LauncherConfig{
			Bwrap:     true,
			BwrapPath: "bwrap",
			Hostname:  "ghost-station",
			DecoyDir:  "/tmp/ghost_symphony",
			Setenv:    map[string]string{"LIBGL_ALWAYS_SOFTWARE": "1"},
		},
		KillSwitch: KillSwitchConfig{
			Commands:       [][]string{{"nmcli", "networking", "off"}},
			Tripwire:       filepath.Join(homeDirectory, ".cache", "bureau", "gatekeeper", "tripwire.cbor"),
			TripwireMaxAge: "168h",
		},
	}
}

// Load loads configuration from the file named by GATEKEEPER_CONFIG.
// It fails when the variable is unset.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your gatekeeper.yaml config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path, merged over Default, and
// expands path variables.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// expandVariables expands ${VAR} and ${VAR:-default} in path fields.
func (c *Config) expandVariables() {
	home, err := HomeDirectory()
	if err != nil {
		home = os.Getenv("HOME")
	}
	vars := map[string]string{
		"HOME": home,
	}

	c.Gatekeeper.Mount = expandVars(c.Gatekeeper.Mount, vars)
	c.Gatekeeper.RulesFile = expandVars(c.Gatekeeper.RulesFile, vars)
	c.Gatekeeper.ProcRoot = expandVars(c.Gatekeeper.ProcRoot, vars)
	for i := range c.Gatekeeper.Sanctioned {
		c.Gatekeeper.Sanctioned[i] = expandVars(c.Gatekeeper.Sanctioned[i], vars)
	}
	for i := range c.Gatekeeper.Deny {
		c.Gatekeeper.Deny[i] = expandVars(c.Gatekeeper.Deny[i], vars)
	}
	c.Launcher.BwrapPath = expandVars(c.Launcher.BwrapPath, vars)
	c.Launcher.DecoyDir = expandVars(c.Launcher.DecoyDir, vars)
	c.KillSwitch.Tripwire = expandVars(c.KillSwitch.Tripwire, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns, consulting
// vars before the environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}

	if c.Gatekeeper.Mount == "" {
		errs = append(errs, fmt.Errorf("gatekeeper.mount is required"))
	} else if !filepath.IsAbs(c.Gatekeeper.Mount) {
		errs = append(errs, fmt.Errorf("gatekeeper.mount must be absolute: %s", c.Gatekeeper.Mount))
	}

	classes := []string{"content", "pre-content"}
	if !slices.Contains(classes, c.Gatekeeper.Class) {
		errs = append(errs, fmt.Errorf("gatekeeper.class must be one of: %v", classes))
	}

	for _, directory := range c.Gatekeeper.Sanctioned {
		if !filepath.IsAbs(directory) {
			errs = append(errs, fmt.Errorf("gatekeeper.sanctioned entry must be absolute: %q", directory))
		}
	}
	for _, directory := range c.Gatekeeper.Deny {
		if !filepath.IsAbs(directory) {
			errs = append(errs, fmt.Errorf("gatekeeper.deny entry must be absolute: %q", directory))
		}
	}

	if c.Gatekeeper.ProcRoot == "" {
		errs = append(errs, fmt.Errorf("gatekeeper.proc_root is required"))
	}

	if c.Launcher.Bwrap && c.Launcher.BwrapPath == "" {
		errs = append(errs, fmt.Errorf("launcher.bwrap_path is required when launcher.bwrap is enabled"))
	}
	for name := range c.Launcher.Setenv {
		if name == "" || strings.ContainsAny(name, "=\x00") {
			errs = append(errs, fmt.Errorf("launcher.setenv has an invalid variable name: %q", name))
		}
	}

	for i, command := range c.KillSwitch.Commands {
		if len(command) == 0 || command[0] == "" {
			errs = append(errs, fmt.Errorf("kill_switch.commands[%d] is empty", i))
		}
	}
	if c.KillSwitch.Tripwire == "" {
		errs = append(errs, fmt.Errorf("kill_switch.tripwire is required"))
	}
	if _, err := c.TripwireMaxAge(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LogLevel parses Logging.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return 0, fmt.Errorf("logging.level must be one of debug, info, warn, error: %q", c.Logging.Level)
	}
	return level, nil
}

// TripwireMaxAge parses KillSwitch.TripwireMaxAge.
func (c *Config) TripwireMaxAge() (time.Duration, error) {
	maxAge, err := time.ParseDuration(c.KillSwitch.TripwireMaxAge)
	if err != nil {
		return 0, fmt.Errorf("kill_switch.tripwire_max_age: %w", err)
	}
	if maxAge <= 0 {
		return 0, fmt.Errorf("kill_switch.tripwire_max_age must be positive: %s", c.KillSwitch.TripwireMaxAge)
	}
	return maxAge, nil
}

// BwrapBinary resolves Launcher.BwrapPath. A relative name is looked
// up in PATH.
func (c *Config) BwrapBinary() (string, error) {
	if filepath.IsAbs(c.Launcher.BwrapPath) {
		if _, err := os.Stat(c.Launcher.BwrapPath); err != nil {
			return "", fmt.Errorf("bubblewrap not found at %s: %w", c.Launcher.BwrapPath, err)
		}
		return c.Launcher.BwrapPath, nil
	}
	path, err := exec.LookPath(c.Launcher.BwrapPath)
	if err != nil {
		return "", fmt.Errorf("%s not found in PATH (install bubblewrap or pass --no-bwrap): %w", c.Launcher.BwrapPath, err)
	}
	return path, nil
}
