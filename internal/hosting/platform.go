// Package hosting talks to git hosting platforms: detecting which platform
// a remote belongs to, creating pull/merge requests over their HTTP APIs,
// and classifying API failures into a structured taxonomy.
package hosting

import (
	"strings"
)

// Platform identifies a git hosting provider.
type Platform string

const (
	GitHub  Platform = "github"
	GitLab  Platform = "gitlab"
	Unknown Platform = "unknown"
)

// Detect classifies a remote URL by host. Handles https, ssh, and scp-like
// forms (git@host:owner/repo.git). Self-hosted instances with "gitlab" in
// the hostname classify as GitLab.
func Detect(remoteURL string) Platform {
	host := hostOf(remoteURL)
	switch {
	case host == "github.com" || strings.HasSuffix(host, ".github.com"):
		return GitHub
	case host == "gitlab.com" || strings.Contains(host, "gitlab"):
		return GitLab
	default:
		return Unknown
	}
}

// RepoPath extracts the "owner/repo" path from a remote URL, without the
// trailing .git. Empty string when the URL has no recognizable path.
func RepoPath(remoteURL string) string {
	s := remoteURL

	// scp-like: git@host:owner/repo.git
	if !strings.Contains(s, "://") {
		if idx := strings.Index(s, ":"); idx >= 0 && strings.Contains(s, "@") {
			s = s[idx+1:]
			return strings.TrimSuffix(strings.Trim(s, "/"), ".git")
		}
		return ""
	}

	s = s[strings.Index(s, "://")+3:]
	idx := strings.Index(s, "/")
	if idx < 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Trim(s[idx+1:], "/"), ".git")
}

// hostOf pulls the hostname out of a remote URL in any common git form.
func hostOf(remoteURL string) string {
	s := strings.TrimSpace(remoteURL)
	if s == "" {
		return ""
	}

	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	} else if at := strings.Index(s, "@"); at >= 0 {
		// scp-like form
		s = s[at+1:]
		if colon := strings.Index(s, ":"); colon >= 0 {
			return strings.ToLower(s[:colon])
		}
	}

	if at := strings.Index(s, "@"); at >= 0 {
		s = s[at+1:]
	}
	for _, sep := range []string{"/", ":"} {
		if i := strings.Index(s, sep); i >= 0 {
			s = s[:i]
		}
	}
	return strings.ToLower(s)
}
