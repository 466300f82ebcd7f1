// Package config provides configuration management for loom.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
	// LoomDir is the loom configuration directory.
	LoomDir = ".loom"
)

// DefaultConflictResolutionPrompt is used when no custom prompt template is
// configured. Placeholders {target_branch} and {conflicted_files} are
// substituted before the prompt is handed to an agent.
const DefaultConflictResolutionPrompt = `The branch has merge conflicts with the target branch that could not be automatically resolved.

Your task is to resolve these conflicts by:
1. Running ` + "`git rebase {target_branch}`" + ` to start the rebase
2. For each conflicted file, open it, understand both versions, and resolve the conflict by choosing the appropriate code or merging both changes
3. After resolving each file, run ` + "`git add <file>`" + ` to mark it as resolved
4. Run ` + "`git rebase --continue`" + ` to proceed with the rebase
5. If you encounter additional conflicts, repeat steps 2-4
6. Once the rebase is complete, the conflicts will be resolved

Conflicted files: {conflicted_files}

Important guidelines:
- Preserve functionality from both branches when possible
- If unsure about which change to keep, prefer the changes from the current branch (the feature branch)
- Test that the code compiles after resolving conflicts
- Do NOT use ` + "`git rebase --abort`" + ` unless absolutely necessary`

// ReconcilerConfig controls the PR reconciliation loop.
type ReconcilerConfig struct {
	// Interval between reconciliation ticks.
	Interval time.Duration `yaml:"interval"`

	// ConflictResolutionPrompt overrides the built-in prompt template for
	// AI-assisted conflict resolution. Supports {target_branch} and
	// {conflicted_files} placeholders.
	ConflictResolutionPrompt string `yaml:"conflict_resolution_prompt,omitempty"`

	// ReescalationInterval is the minimum time between conflict
	// escalations for the same PR.
	ReescalationInterval time.Duration `yaml:"reescalation_interval"`
}

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	// Path is the SQLite database file (default .loom/loom.db).
	Path string `yaml:"path"`
	// DSN, when set, switches to PostgreSQL.
	DSN string `yaml:"dsn,omitempty"`
}

// ExecutorConfig controls agent execution.
type ExecutorConfig struct {
	// AgentCommand is the agent CLI binary (default "claude").
	AgentCommand string `yaml:"agent_command"`
	// WorkspacesDir is where workspace checkouts live.
	WorkspacesDir string `yaml:"workspaces_dir"`
}

// GitConfig controls worktree operations.
type GitConfig struct {
	// ProtectedBranches are refused as push targets.
	ProtectedBranches []string `yaml:"protected_branches,omitempty"`
}

// Config is the top-level loom configuration.
type Config struct {
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Database   DatabaseConfig   `yaml:"database"`
	Executor   ExecutorConfig   `yaml:"executor"`
	Git        GitConfig        `yaml:"git"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Reconciler: ReconcilerConfig{
			Interval:             60 * time.Second,
			ReescalationInterval: 30 * time.Minute,
		},
		Database: DatabaseConfig{
			Path: filepath.Join(LoomDir, "loom.db"),
		},
		Executor: ExecutorConfig{
			AgentCommand:  "claude",
			WorkspacesDir: filepath.Join(LoomDir, "workspaces"),
		},
	}
}

// ConflictPrompt returns the configured conflict-resolution prompt
// template, falling back to the built-in default.
func (c *Config) ConflictPrompt() string {
	if c.Reconciler.ConflictResolutionPrompt != "" {
		return c.Reconciler.ConflictResolutionPrompt
	}
	return DefaultConflictResolutionPrompt
}

// Load reads a config file, filling unset fields with defaults. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.Reconciler.Interval <= 0 {
		cfg.Reconciler.Interval = 60 * time.Second
	}
	if cfg.Reconciler.ReescalationInterval <= 0 {
		cfg.Reconciler.ReescalationInterval = 30 * time.Minute
	}
	if cfg.Executor.AgentCommand == "" {
		cfg.Executor.AgentCommand = "claude"
	}
	return cfg, nil
}

// Save writes the config to path, creating the parent directory.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
