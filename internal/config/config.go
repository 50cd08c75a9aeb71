// Package config provides configuration management for the flowpad server.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
)

// Config holds all configuration for the flowpad server.
type Config struct {
	// ServerAddr is the address the HTTP server listens on (e.g., ":7080").
	ServerAddr string

	// DataDir is the directory for persistent data (SQLite DB, etc.).
	DataDir string

	// DatabasePath is the full path to the SQLite database file.
	DatabasePath string

	// SandboxImage is the default sandbox Docker image name. All executions
	// target this image unless a call supplies an override.
	SandboxImage string

	// BuildContext is the local directory holding the Dockerfile the sandbox
	// image is built from when it is absent.
	BuildContext string

	// ScratchpadDir is the host directory holding agent-authored scripts.
	ScratchpadDir string

	// ScratchpadMountPath is where the scratchpad appears inside every
	// container. Always mounted read-only.
	ScratchpadMountPath string

	// MaxStartRetries is how many status polls a service start performs
	// before giving up and cleaning up the container.
	MaxStartRetries int

	// RetryInterval is the fixed sleep between unsuccessful start polls.
	RetryInterval time.Duration

	// StopStatusChecks is how many status refreshes a stop performs before
	// reporting failure. The historical behavior is a single check; raising
	// this is an explicit operator choice.
	StopStatusChecks int

	// Sandbox resource limits.
	SandboxMemory    string // e.g. "2g"; parsed with go-units
	SandboxCPUs      float64
	SandboxPidsLimit int64
}

// Load creates a Config from the config file and environment variables.
// Values are resolved in order: environment variable > config file > default.
func Load() (*Config, error) {
	// Load config file (~/.flowpad/config.env) into the environment.
	// Existing env vars take precedence (loadConfigFile only sets unset vars).
	loadConfigFile()

	dataDir := envOr("FLOWPAD_DATA_DIR", defaultDataDir())
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	cfg := &Config{
		ServerAddr:          envOr("FLOWPAD_ADDR", ":7080"),
		DataDir:             dataDir,
		DatabasePath:        filepath.Join(dataDir, "flowpad.db"),
		SandboxImage:        envOr("FLOWPAD_SANDBOX_IMAGE", "flowpad-sandbox"),
		BuildContext:        envOr("FLOWPAD_BUILD_CONTEXT", "."),
		ScratchpadDir:       envOr("FLOWPAD_SCRATCHPAD", defaultScratchpadDir()),
		ScratchpadMountPath: envOr("FLOWPAD_SCRATCHPAD_MOUNT", "/app/scratchpad"),
		MaxStartRetries:     envOrInt("FLOWPAD_START_RETRIES", 3),
		RetryInterval:       envOrDuration("FLOWPAD_RETRY_INTERVAL", 2*time.Second),
		StopStatusChecks:    envOrInt("FLOWPAD_STOP_CHECKS", 1),
		SandboxMemory:       envOr("FLOWPAD_SANDBOX_MEMORY", "2g"),
		SandboxCPUs:         envOrFloat("FLOWPAD_SANDBOX_CPUS", 2),
		SandboxPidsLimit:    int64(envOrInt("FLOWPAD_SANDBOX_PIDS", 512)),
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.SandboxImage == "" {
		return fmt.Errorf("sandbox image name must not be empty")
	}
	if c.MaxStartRetries < 1 {
		return fmt.Errorf("FLOWPAD_START_RETRIES must be at least 1")
	}
	if c.StopStatusChecks < 1 {
		return fmt.Errorf("FLOWPAD_STOP_CHECKS must be at least 1")
	}
	if c.RetryInterval <= 0 {
		return fmt.Errorf("FLOWPAD_RETRY_INTERVAL must be positive")
	}
	if _, err := c.SandboxMemoryBytes(); err != nil {
		return err
	}
	return nil
}

// SandboxMemoryBytes parses the configured memory limit ("2g", "512m", plain
// bytes). Empty means no limit.
func (c *Config) SandboxMemoryBytes() (int64, error) {
	s := strings.TrimSpace(c.SandboxMemory)
	if s == "" {
		return 0, nil
	}
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid FLOWPAD_SANDBOX_MEMORY %q: %w", c.SandboxMemory, err)
	}
	return n, nil
}

// loadConfigFile reads ~/.flowpad/config.env and sets any values that are not
// already present in the environment. This ensures env vars always win.
func loadConfigFile() {
	path := filepath.Join(defaultDataDir(), "config.env")
	f, err := os.Open(path)
	if err != nil {
		return // file doesn't exist or can't be read — that's fine
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key, value := parts[0], parts[1]
		// Only set if not already in the environment.
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowpad"
	}
	return filepath.Join(home, ".flowpad")
}

func defaultScratchpadDir() string {
	wd, err := os.Getwd()
	if err != nil {
		return "scratchpad"
	}
	return filepath.Join(wd, "scratchpad")
}
