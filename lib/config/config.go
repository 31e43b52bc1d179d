// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/tidwall/jsonc"
)

// Config is the master configuration for a gameward controller.
type Config struct {
	// Database configures the persistence layer (internal/store).
	Database DatabaseConfig `json:"Database"`

	// General configures controller-wide, non-storage behavior.
	General GeneralConfig `json:"General"`

	// FileLogging configures the structured logger.
	FileLogging FileLoggingConfig `json:"FileLogging"`

	// ControlPanel configures the HTTP control surface.
	ControlPanel ControlPanelConfig `json:"ControlPanel"`

	// Kestrel is accepted and round-tripped for deployments that front
	// the control surface with a separate reverse proxy. Unused by
	// this implementation's own HTTP transport (lib/service.HTTPServer).
	Kestrel *KestrelConfig `json:"Kestrel,omitempty"`

	// Bridge configures how launched game-server processes reach back
	// into the controller.
	Bridge BridgeConfig `json:"Bridge"`

	// Toolchain configures the compiler-version cache (internal/toolchain).
	Toolchain ToolchainConfig `json:"Toolchain"`
}

// BridgeConfig configures the callback game-server processes use to
// reach the controller, and how long a launch is given to complete
// that handshake.
type BridgeConfig struct {
	// URL is the bridge endpoint passed to every launched process via
	// its -params bridge-url value.
	URL string `json:"URL"`

	// APIVersion is the bridge protocol version advertised to launched
	// processes.
	APIVersion string `json:"APIVersion"`

	// StartupTimeoutSeconds bounds how long a launch waits for the
	// process's first bridge handshake before it is treated as a
	// failed start.
	StartupTimeoutSeconds int `json:"StartupTimeoutSeconds"`
}

// ToolchainConfig configures the compiler-version cache internal/toolchain
// manages. The installer/extractor itself is an external collaborator
// (spec.md §1, carried into SPEC_FULL.md's Non-goals) — InstallerCommand
// names the external program this controller shells out to for it.
type ToolchainConfig struct {
	// CacheDirectory holds one subdirectory per installed compiler
	// version.
	CacheDirectory string `json:"CacheDirectory"`

	// PinListPath is the YAML file naming versions CleanCache must
	// never evict. A missing file is an empty pin list, not an error.
	PinListPath string `json:"PinListPath"`

	// InstallerCommand is the external program invoked to fetch and
	// extract a compiler version. It receives the version string as
	// its first argument and the destination directory as its second;
	// a nonzero exit fails the install. Empty disables installs —
	// Acquire then only ever succeeds for versions installed out of
	// band before the controller started.
	InstallerCommand string `json:"InstallerCommand"`

	// CompilerBinaryName is the executable inside an installed
	// version's directory that a compile job invokes against an
	// instance's project file.
	CompilerBinaryName string `json:"CompilerBinaryName"`
}

// DatabaseConfig configures the SQLite-backed store.
type DatabaseConfig struct {
	// Path is the filesystem path to the controller's database file.
	Path string `json:"Path"`

	// PoolSize is the number of pooled connections. Zero selects the
	// internal/store default.
	PoolSize int `json:"PoolSize"`
}

// GeneralConfig configures controller-wide behavior.
type GeneralConfig struct {
	// InstallDirectory is the controller's own install path. Instance
	// paths may not be inside it or contain it (spec.md §4.1 invariant).
	InstallDirectory string `json:"InstallDirectory"`

	// MinimumPasswordLength is the minimum acceptable InstanceUser
	// password length, enforced at creation.
	MinimumPasswordLength int `json:"MinimumPasswordLength"`

	// HeartbeatMissedRetries bounds the number of consecutive missed
	// heartbeats the watchdog tolerates before treating a session as
	// an unexpected exit. See spec.md §9 Open Questions.
	HeartbeatMissedRetries int `json:"HeartbeatMissedRetries"`

	// JobAbandonTimeoutSeconds bounds how long the job manager waits
	// for a cancelled operation to stop before marking the job
	// abandoned and releasing its slot.
	JobAbandonTimeoutSeconds int `json:"JobAbandonTimeoutSeconds"`
}

// FileLoggingConfig configures the structured logger.
type FileLoggingConfig struct {
	// Directory is where log files are written. Empty disables file
	// logging; the controller still logs to stderr.
	Directory string `json:"Directory"`

	// Format selects the slog handler: "text" or "json".
	Format string `json:"Format"`

	// Level is one of "debug", "info", "warn", "error".
	Level string `json:"Level"`
}

// ControlPanelConfig configures the HTTP control surface.
type ControlPanelConfig struct {
	// Address is the TCP listen address, e.g. ":5000".
	Address string `json:"Address"`
}

// KestrelConfig is accepted for compatibility with config files written
// for deployments fronted by a separate reverse proxy. Its fields are
// not consumed by this implementation.
type KestrelConfig struct {
	Endpoints map[string]any `json:"Endpoints,omitempty"`
}

// Default returns a Config with development-friendly defaults. These
// exist to ensure every field has a sensible zero-value, not as a
// fallback — the config file is still required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	root := filepath.Join(homeDir, ".local", "share", "gameward")

	return &Config{
		Database: DatabaseConfig{
			Path:     filepath.Join(root, "gameward.db"),
			PoolSize: 0,
		},
		General: GeneralConfig{
			InstallDirectory:         filepath.Join(homeDir, ".local", "opt", "gameward"),
			MinimumPasswordLength:    15,
			HeartbeatMissedRetries:   3,
			JobAbandonTimeoutSeconds: 30,
		},
		FileLogging: FileLoggingConfig{
			Directory: filepath.Join(root, "logs"),
			Format:    "text",
			Level:     "info",
		},
		ControlPanel: ControlPanelConfig{
			Address: ":5000",
		},
		Bridge: BridgeConfig{
			URL:                   "http://127.0.0.1:5000/Bridge",
			APIVersion:            "5",
			StartupTimeoutSeconds: 60,
		},
		Toolchain: ToolchainConfig{
			CacheDirectory:     filepath.Join(root, "toolchains"),
			PinListPath:        filepath.Join(root, "toolchains", "pins.yaml"),
			CompilerBinaryName: "DreamMaker",
		},
	}
}

// Load loads configuration from the path named by the GAMEWARD_CONFIG
// environment variable. There is no fallback: if the variable is
// unset, Load fails rather than guess a location.
func Load() (*Config, error) {
	path := os.Getenv("GAMEWARD_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("config: GAMEWARD_CONFIG environment variable not set; " +
			"set it to the path of your config file, or pass --config explicitly")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path. The file is
// JSON with "//" comments tolerated. Unset fields keep their [Default]
// values.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := json.Unmarshal(jsonc.ToJSON(raw), cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.expandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	return cfg, nil
}

// expandVariables expands ${HOME} and ${VAR:-default} patterns in path
// fields. No other environment variables override config values.
func (c *Config) expandVariables() {
	home := os.Getenv("HOME")
	vars := map[string]string{"HOME": home}

	c.Database.Path = expandVars(c.Database.Path, vars)
	c.General.InstallDirectory = expandVars(c.General.InstallDirectory, vars)
	c.FileLogging.Directory = expandVars(c.FileLogging.Directory, vars)
	c.Toolchain.CacheDirectory = expandVars(c.Toolchain.CacheDirectory, vars)
	c.Toolchain.PinListPath = expandVars(c.Toolchain.PinListPath, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

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

// Validate checks the configuration for errors a controller should
// refuse to start with.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.Path == "" {
		errs = append(errs, errors.New("Database.Path is required"))
	}
	if c.General.InstallDirectory == "" {
		errs = append(errs, errors.New("General.InstallDirectory is required"))
	}
	if c.General.MinimumPasswordLength < 1 {
		errs = append(errs, errors.New("General.MinimumPasswordLength must be positive"))
	}
	if c.General.HeartbeatMissedRetries < 1 {
		errs = append(errs, errors.New("General.HeartbeatMissedRetries must be positive"))
	}
	if c.ControlPanel.Address == "" {
		errs = append(errs, errors.New("ControlPanel.Address is required"))
	}
	if c.Bridge.URL == "" {
		errs = append(errs, errors.New("Bridge.URL is required"))
	}
	if c.Bridge.StartupTimeoutSeconds < 1 {
		errs = append(errs, errors.New("Bridge.StartupTimeoutSeconds must be positive"))
	}
	switch c.FileLogging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("FileLogging.Format must be \"text\" or \"json\", got %q", c.FileLogging.Format))
	}
	switch c.FileLogging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("FileLogging.Level must be one of debug/info/warn/error, got %q", c.FileLogging.Level))
	}

	return errors.Join(errs...)
}

// EnsurePaths creates the directories the configuration references.
func (c *Config) EnsurePaths() error {
	dirs := []string{
		filepath.Dir(c.Database.Path),
		c.General.InstallDirectory,
	}
	if c.Toolchain.CacheDirectory != "" {
		dirs = append(dirs, c.Toolchain.CacheDirectory)
	}
	if c.FileLogging.Directory != "" {
		dirs = append(dirs, c.FileLogging.Directory)
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("config: creating %s: %w", dir, err)
		}
	}
	return nil
}
