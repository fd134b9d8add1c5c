package hosting

import (
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantCode   Code
		retryable  bool
		actionable bool
	}{
		{
			name:       "401 expired token",
			status:     401,
			body:       `{"message":"Bad credentials"}`,
			wantCode:   CodeTokenExpired,
			actionable: true,
		},
		{
			name:       "403 org integration access",
			status:     403,
			body:       `{"message":"Resource not accessible by integration"}`,
			wantCode:   CodeOrgAccessRequired,
			retryable:  true,
			actionable: true,
		},
		{
			name:       "403 oauth app restrictions",
			status:     403,
			body:       `{"message":"Although you appear to have the correct authorization credentials, the organization has enabled OAuth App access restrictions"}`,
			wantCode:   CodeOrgAccessRequired,
			retryable:  true,
			actionable: true,
		},
		{
			name:      "403 rate limited",
			status:    403,
			body:      `{"message":"API rate limit exceeded"}`,
			wantCode:  CodeRateLimited,
			retryable: true,
		},
		{
			name:       "403 plain forbidden",
			status:     403,
			body:       `{"message":"Forbidden"}`,
			wantCode:   CodeTokenInvalid,
			actionable: true,
		},
		{
			name:     "404 repo not found",
			status:   404,
			body:     `{"message":"Not Found"}`,
			wantCode: CodeRepoNotFound,
		},
		{
			name:     "422 pr already exists",
			status:   422,
			body:     `{"message":"Validation Failed","errors":[{"message":"A pull request already exists for owner:branch."}]}`,
			wantCode: CodePrAlreadyExists,
		},
		{
			name:     "409 mr already exists",
			status:   409,
			body:     `{"message":["Another open merge request already exists for this source branch"]}`,
			wantCode: CodePrAlreadyExists,
		},
		{
			name:      "422 bad head branch",
			status:    422,
			body:      `{"message":"Validation Failed","errors":[{"message":"Field head is invalid, ref does not exist"}]}`,
			wantCode:  CodeBranchNotFound,
			retryable: true,
		},
		{
			name:      "500 unknown",
			status:    500,
			body:      "",
			wantCode:  CodeUnknown,
			retryable: true,
		},
		{
			name:      "422 unrecognized validation",
			status:    422,
			body:      `{"message":"Validation Failed"}`,
			wantCode:  CodeUnknown,
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Classify(GitHub, tt.status, []byte(tt.body))
			if e.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", e.Code, tt.wantCode)
			}
			if e.Retryable != tt.retryable {
				t.Errorf("Retryable = %v, want %v", e.Retryable, tt.retryable)
			}
			if e.Actionable != tt.actionable {
				t.Errorf("Actionable = %v, want %v", e.Actionable, tt.actionable)
			}
			if e.Status != tt.status {
				t.Errorf("Status = %d", e.Status)
			}
		})
	}
}

func TestClassify_OrgAccessActionURL(t *testing.T) {
	e := Classify(GitHub, 403, []byte(`{"message":"Resource not accessible by integration"}`))
	if e.ActionURL != githubOrgSettingsURL {
		t.Errorf("ActionURL = %q", e.ActionURL)
	}

	// GitLab has no equivalent settings page to point at.
	e = Classify(GitLab, 403, []byte(`{"message":"organization access denied"}`))
	if e.ActionURL != "" {
		t.Errorf("GitLab ActionURL = %q, want empty", e.ActionURL)
	}
}

func TestAPIErrorMessage(t *testing.T) {
	e := Classify(GitHub, 401, []byte(`{"message":"Bad credentials"}`))
	if !strings.Contains(e.Error(), "Bad credentials") {
		t.Errorf("Error() = %q", e.Error())
	}
	if !strings.Contains(e.Error(), "401") {
		t.Errorf("Error() = %q", e.Error())
	}
}

func TestExtractMessage(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"message":"Not Found"}`, "Not Found"},
		{`{"message":["first","second"]}`, "first; second"},
		{`{"error":"invalid_grant"}`, "invalid_grant"},
		{`{"message":"Validation Failed","errors":[{"message":"detail"}]}`, "Validation Failed; detail"},
		{``, ""},
		{`not json`, ""},
	}
	for _, tt := range tests {
		if got := extractMessage([]byte(tt.body)); got != tt.want {
			t.Errorf("extractMessage(%q) = %q, want %q", tt.body, got, tt.want)
		}
	}
}
