// Package askpass injects git credentials for the duration of exactly one
// git invocation. A transient askpass helper is materialized immediately
// before the invocation and removed on every exit path, so the token never
// appears in process argument lists and never outlives the operation.
package askpass

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/helmsman-cli/helmsman/internal/logger"
	"github.com/helmsman-cli/helmsman/internal/vault"
)

// The helper reads the credential from environment variables that exist only
// in the overlay of the wrapped invocation. The script file itself carries
// no secret.
const helperScript = `#!/bin/sh
case "$1" in
	[Uu]sername*) printf '%s\n' "$HELMSMAN_ASKPASS_USER" ;;
	*) printf '%s\n' "$HELMSMAN_ASKPASS_TOKEN" ;;
esac
`

// CredentialLookup is the vault surface the injector needs.
type CredentialLookup interface {
	CredentialsForRepo(repoPath string) vault.Credentials
}

// Injector wraps git invocations in a credential scope.
type Injector struct {
	vault CredentialLookup
}

// New creates an Injector over the given credential lookup.
func New(v CredentialLookup) *Injector {
	return &Injector{vault: v}
}

// usernameFor picks the username git should present for a token. GitHub
// accepts any username for token auth; GitLab requires "oauth2" for OAuth
// access tokens.
func usernameFor(creds vault.Credentials) string {
	if creds.Username != "" {
		return creds.Username
	}
	switch creds.Platform {
	case "gitlab":
		return "oauth2"
	default:
		return "x-access-token"
	}
}

// WithCredentials looks up credentials for repoPath and invokes fn exactly
// once with an environment overlay that makes a single git invocation
// authenticate. The transient helper is removed before WithCredentials
// returns, on success, error, and panic alike. When the repository has no
// configured token, fn runs with a nil overlay and git goes unauthenticated.
func (i *Injector) WithCredentials(ctx context.Context, repoPath string, fn func(extraEnv []string) error) error {
	creds := i.vault.CredentialsForRepo(repoPath)
	if creds.Token == "" || creds.Platform == "" {
		logger.Debug("askpass: no credentials for %s, running unauthenticated", repoPath)
		return fn(nil)
	}

	dir, err := os.MkdirTemp("", "helmsman-askpass-*")
	if err != nil {
		return fmt.Errorf("failed to create askpass dir: %w", err)
	}
	defer os.RemoveAll(dir)

	script := filepath.Join(dir, "askpass.sh")
	if err := os.WriteFile(script, []byte(helperScript), 0700); err != nil {
		return fmt.Errorf("failed to write askpass helper: %w", err)
	}

	logger.Debug("askpass: credential scope open, platform=%s", creds.Platform)

	env := []string{
		"GIT_ASKPASS=" + script,
		"GIT_TERMINAL_PROMPT=0",
		"HELMSMAN_ASKPASS_USER=" + usernameFor(creds),
		"HELMSMAN_ASKPASS_TOKEN=" + creds.Token,
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	return fn(env)
}
