// Package config holds the persisted application configuration: registered
// repositories, workspace credentials, and tunables. Session state is kept
// in memory by the session registry and is intentionally not persisted here.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	herrors "github.com/helmsman-cli/helmsman/internal/errors"
)

// Workspace groups repositories that share hosting-platform credentials.
// The OAuth token pair is what the credential vault hands to the injector
// and the ship pipeline; it never appears in logs or process argument lists.
type Workspace struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	RepoPaths    []string `json:"repo_paths"`
	Platform     string   `json:"platform,omitempty"` // "github" or "gitlab"
	Username     string   `json:"username,omitempty"`
	OAuthToken   string   `json:"oauth_token,omitempty"`
	RefreshToken string   `json:"refresh_token,omitempty"`
}

// PoolSettings are the session process pool tunables.
type PoolSettings struct {
	Enabled     bool `json:"enabled"`
	Size        int  `json:"size,omitempty"`
	MaxIdleMins int  `json:"max_idle_mins,omitempty"`
}

// Config holds the application configuration
type Config struct {
	Repos                []string          `json:"repos"`
	Workspaces           []Workspace       `json:"workspaces,omitempty"`
	PersonalAccessTokens map[string]string `json:"personal_access_tokens,omitempty"` // platform -> PAT
	DefaultBranchPrefix  string            `json:"default_branch_prefix,omitempty"`  // e.g. "alice/"
	NotificationsEnabled bool              `json:"notifications_enabled,omitempty"`
	AgentCommand         string            `json:"agent_command,omitempty"` // backing agent binary, default "claude"
	OAuthClientID        string            `json:"oauth_client_id,omitempty"`
	Pool                 PoolSettings      `json:"pool"`

	mu       sync.RWMutex
	filePath string
}

// DefaultPoolSize is the idle process target when none is configured.
const DefaultPoolSize = 2

// DefaultAgentCommand is the backing agent binary when none is configured.
const DefaultAgentCommand = "claude"

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".helmsman"), nil
}

func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads the config from disk, or returns a fresh one if it doesn't exist.
func Load() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads the config from an explicit path. Used by tests.
func LoadFrom(path string) (*Config, error) {
	cfg := &Config{
		Repos:                []string{},
		PersonalAccessTokens: map[string]string{},
		Pool:                 PoolSettings{Enabled: true, Size: DefaultPoolSize},
		filePath:             path,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, herrors.ConfigLoadFailed(path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, herrors.ConfigLoadFailed(path, err)
	}

	cfg.ensureInitialized()
	return cfg, nil
}

// ensureInitialized ensures slices and maps are non-nil after unmarshaling.
// Only called from LoadFrom before the Config is shared across goroutines.
func (c *Config) ensureInitialized() {
	if c.Repos == nil {
		c.Repos = []string{}
	}
	if c.PersonalAccessTokens == nil {
		c.PersonalAccessTokens = map[string]string{}
	}
	if c.Pool.Size == 0 {
		c.Pool.Size = DefaultPoolSize
	}
}

// Save writes the config to disk with user-private permissions, since
// workspace entries may carry tokens.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(c.filePath), 0700); err != nil {
		return herrors.ConfigSaveFailed(c.filePath, err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return herrors.ConfigSaveFailed(c.filePath, err)
	}

	if err := os.WriteFile(c.filePath, data, 0600); err != nil {
		return herrors.ConfigSaveFailed(c.filePath, err)
	}
	return nil
}

// GetRepos returns a copy of the registered repository paths.
func (c *Config) GetRepos() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	repos := make([]string, len(c.Repos))
	copy(repos, c.Repos)
	return repos
}

// AddRepo registers a repository path. Idempotent.
func (c *Config) AddRepo(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range c.Repos {
		if r == path {
			return
		}
	}
	c.Repos = append(c.Repos, path)
}

// RemoveRepo unregisters a repository path. Returns whether it was present.
func (c *Config) RemoveRepo(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, r := range c.Repos {
		if r == path {
			c.Repos = append(c.Repos[:i], c.Repos[i+1:]...)
			return true
		}
	}
	return false
}

// WorkspaceForRepo returns a copy of the workspace containing repoPath,
// or nil if none does.
func (c *Config) WorkspaceForRepo(repoPath string) *Workspace {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := range c.Workspaces {
		for _, p := range c.Workspaces[i].RepoPaths {
			if p == repoPath {
				ws := c.Workspaces[i]
				return &ws
			}
		}
	}
	return nil
}

// WorkspaceForPlatform returns a copy of the first workspace configured for
// the given platform, or nil.
func (c *Config) WorkspaceForPlatform(platform string) *Workspace {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := range c.Workspaces {
		if c.Workspaces[i].Platform == platform {
			ws := c.Workspaces[i]
			return &ws
		}
	}
	return nil
}

// AddWorkspace appends a workspace.
func (c *Config) AddWorkspace(ws Workspace) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Workspaces = append(c.Workspaces, ws)
}

// UpdateWorkspaceTokens replaces the OAuth token pair for a workspace.
// Returns false if the workspace is unknown.
func (c *Config) UpdateWorkspaceTokens(workspaceID, oauthToken, refreshToken string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.Workspaces {
		if c.Workspaces[i].ID == workspaceID {
			c.Workspaces[i].OAuthToken = oauthToken
			if refreshToken != "" {
				c.Workspaces[i].RefreshToken = refreshToken
			}
			return true
		}
	}
	return false
}

// PATForPlatform returns the configured personal access token for a
// platform, or empty string.
func (c *Config) PATForPlatform(platform string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.PersonalAccessTokens[platform]
}

// SetPAT stores a personal access token for a platform.
func (c *Config) SetPAT(platform, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PersonalAccessTokens[platform] = token
}

// GetPoolSettings returns the pool tunables.
func (c *Config) GetPoolSettings() PoolSettings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Pool
}

// SetPoolSettings replaces the pool tunables.
func (c *Config) SetPoolSettings(ps PoolSettings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Pool = ps
}

// GetAgentCommand returns the backing agent binary name.
func (c *Config) GetAgentCommand() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.AgentCommand == "" {
		return DefaultAgentCommand
	}
	return c.AgentCommand
}

// GetDefaultBranchPrefix returns the configured branch prefix.
func (c *Config) GetDefaultBranchPrefix() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.DefaultBranchPrefix
}
