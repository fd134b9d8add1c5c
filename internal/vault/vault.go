// Package vault is the read-only credential lookup used by the injector and
// the ship pipeline. It exposes tokens only through short-lived values that
// callers must not persist or log.
package vault

import (
	"github.com/helmsman-cli/helmsman/internal/config"
)

// Credentials is a per-repository token/platform/username triple. Any field
// may be empty; an empty Token means the repository has no configured
// credentials and git runs unauthenticated.
type Credentials struct {
	Token    string
	Platform string
	Username string
}

// Vault looks up credentials from the loaded configuration. Safe for
// concurrent use by any number of sessions; all methods are reads.
type Vault struct {
	cfg *config.Config
}

// New creates a Vault over the given configuration.
func New(cfg *config.Config) *Vault {
	return &Vault{cfg: cfg}
}

// CredentialsForRepo returns the credentials for the workspace containing
// repoPath. All fields are empty when no workspace covers the repository.
func (v *Vault) CredentialsForRepo(repoPath string) Credentials {
	ws := v.cfg.WorkspaceForRepo(repoPath)
	if ws == nil {
		return Credentials{}
	}
	return Credentials{Token: ws.OAuthToken, Platform: ws.Platform, Username: ws.Username}
}

// WorkspaceForRepo returns the workspace containing repoPath, or nil.
func (v *Vault) WorkspaceForRepo(repoPath string) *config.Workspace {
	return v.cfg.WorkspaceForRepo(repoPath)
}

// TokenForPlatform returns the OAuth token configured for a platform, or
// empty string.
func (v *Vault) TokenForPlatform(platform string) string {
	ws := v.cfg.WorkspaceForPlatform(platform)
	if ws == nil {
		return ""
	}
	return ws.OAuthToken
}

// RefreshTokenForPlatform returns the stored refresh token for a platform,
// or empty string.
func (v *Vault) RefreshTokenForPlatform(platform string) string {
	ws := v.cfg.WorkspaceForPlatform(platform)
	if ws == nil {
		return ""
	}
	return ws.RefreshToken
}

// PATForPlatform returns the personal access token for a platform, or empty
// string.
func (v *Vault) PATForPlatform(platform string) string {
	return v.cfg.PATForPlatform(platform)
}

// UpdateToken replaces the OAuth token pair for the platform's workspace
// after a successful refresh. The refresh token is kept when the provider
// does not rotate it.
func (v *Vault) UpdateToken(platform, oauthToken, refreshToken string) bool {
	ws := v.cfg.WorkspaceForPlatform(platform)
	if ws == nil {
		return false
	}
	return v.cfg.UpdateWorkspaceTokens(ws.ID, oauthToken, refreshToken)
}
