// Package config loads the global and per-task configuration records and
// resolves which inner CLI invocation a session should run.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// EnvCLI is the environment variable supplying a default inner CLI
// invocation when no explicit override is given at start.
const EnvCLI = "GRILL_CLI"

// DefaultCLI is the built-in fallback invocation.
const DefaultCLI = "q chat"

// Config is the global configuration record stored in .grill/config.toml.
type Config struct {
	// DefaultCLI is the inner CLI invocation used when neither the command
	// line, the environment, nor the task config overrides it.
	DefaultCLI string `toml:"default_cli"`

	// CLIs maps short aliases to full invocations, e.g. q = "q chat".
	CLIs map[string]string `toml:"clis"`

	// Hooks maps hook points to shell commands. Reserved for task-switch
	// automation; grill records but does not yet run them.
	Hooks map[string]string `toml:"hooks"`
}

// TaskConfig is the per-task configuration record stored in
// .grill/tasks/<name>/config.toml.
type TaskConfig struct {
	// CLI overrides the inner CLI invocation for this task.
	CLI string `toml:"cli"`

	// Env is an environment overlay applied to the child process.
	Env map[string]string `toml:"env"`

	// Hooks are task-scoped hook commands.
	Hooks map[string]string `toml:"hooks"`
}

// Default returns the global configuration written by `grill init`.
func Default() Config {
	return Config{
		DefaultCLI: DefaultCLI,
		CLIs:       map[string]string{"q": DefaultCLI},
	}
}

// Load reads the global config from path. A missing file yields the default
// configuration; a malformed file is an error.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304 - path from the resolved .grill layout
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	if strings.TrimSpace(cfg.DefaultCLI) == "" {
		cfg.DefaultCLI = DefaultCLI
	}
	return cfg, nil
}

// Save writes the global config to path atomically (temp-then-rename).
func (c Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFileAtomic(path, data, 0600)
}

// LoadTask reads a task config from path. A missing file yields the zero
// config (no overrides).
func LoadTask(path string) (TaskConfig, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304 - path from the resolved .grill layout
	if err != nil {
		if os.IsNotExist(err) {
			return TaskConfig{}, nil
		}
		return TaskConfig{}, fmt.Errorf("read task config file: %w", err)
	}

	var cfg TaskConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return TaskConfig{}, fmt.Errorf("parse task config file: %w", err)
	}
	return cfg, nil
}

// Save writes the task config to path atomically.
func (c TaskConfig) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal task config: %w", err)
	}
	return writeFileAtomic(path, data, 0600)
}

// Invocation is a resolved inner CLI command line.
type Invocation struct {
	Command string
	Args    []string
}

// String renders the invocation the way the user wrote it.
func (inv Invocation) String() string {
	if len(inv.Args) == 0 {
		return inv.Command
	}
	return inv.Command + " " + strings.Join(inv.Args, " ")
}

// ResolveInvocation decides which inner CLI to run, in priority order:
// explicit override args (from the grill command line), the GRILL_CLI
// environment variable, the task config, the global default. Alias names in
// the global clis table are expanded at every level.
func ResolveInvocation(override []string, taskCfg TaskConfig, cfg Config) (Invocation, error) {
	if len(override) > 0 {
		return parseInvocation(strings.Join(override, " "), cfg)
	}
	if env := strings.TrimSpace(os.Getenv(EnvCLI)); env != "" {
		return parseInvocation(env, cfg)
	}
	if strings.TrimSpace(taskCfg.CLI) != "" {
		return parseInvocation(taskCfg.CLI, cfg)
	}
	return parseInvocation(cfg.DefaultCLI, cfg)
}

// parseInvocation splits a command string on whitespace and expands a
// single-token alias through the clis table.
func parseInvocation(raw string, cfg Config) (Invocation, error) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return Invocation{}, fmt.Errorf("empty inner CLI invocation")
	}
	if len(fields) == 1 {
		if full, ok := cfg.CLIs[fields[0]]; ok {
			fields = strings.Fields(full)
			if len(fields) == 0 {
				return Invocation{}, fmt.Errorf("alias %q expands to an empty invocation", raw)
			}
		}
	}
	return Invocation{Command: fields[0], Args: fields[1:]}, nil
}

// writeFileAtomic writes data to a temp file in the same directory and
// renames it over path, so readers never observe a partial record.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// WriteFileAtomic exposes the atomic-replace discipline for other packages
// that persist single records (the active-task pointer in particular).
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	return writeFileAtomic(path, data, perm)
}
