package hosting

import "testing"

func TestDetect(t *testing.T) {
	tests := []struct {
		url  string
		want Platform
	}{
		{"https://github.com/owner/repo.git", GitHub},
		{"git@github.com:owner/repo.git", GitHub},
		{"ssh://git@github.com/owner/repo.git", GitHub},
		{"https://gitlab.com/group/project.git", GitLab},
		{"git@gitlab.com:group/project.git", GitLab},
		{"https://gitlab.example.com/group/project.git", GitLab},
		{"https://bitbucket.org/owner/repo.git", Unknown},
		{"", Unknown},
		{"not a url", Unknown},
	}
	for _, tt := range tests {
		if got := Detect(tt.url); got != tt.want {
			t.Errorf("Detect(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestRepoPath(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://github.com/owner/repo.git", "owner/repo"},
		{"https://github.com/owner/repo", "owner/repo"},
		{"git@github.com:owner/repo.git", "owner/repo"},
		{"ssh://git@gitlab.com/group/sub/project.git", "group/sub/project"},
		{"https://gitlab.com/group/project/", "group/project"},
		{"https://github.com", ""},
		{"garbage", ""},
	}
	for _, tt := range tests {
		if got := RepoPath(tt.url); got != tt.want {
			t.Errorf("RepoPath(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}
