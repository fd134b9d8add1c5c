package hosting

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// Code is the structured classification of a hosting API failure. The CLI
// decides between "retry", "reconnect", and "configure a token" from the
// code and flags alone, never by parsing prose.
type Code string

const (
	CodeTokenExpired      Code = "token_expired"
	CodeTokenInvalid      Code = "token_invalid"
	CodeOrgAccessRequired Code = "org_access_required"
	CodeRateLimited       Code = "rate_limited"
	CodeRepoNotFound      Code = "repo_not_found"
	CodePrAlreadyExists   Code = "pr_already_exists"
	CodeBranchNotFound    Code = "branch_not_found"
	CodeUnknown           Code = "unknown"
)

// APIError carries a classified hosting API failure.
type APIError struct {
	Code       Code
	Status     int
	Message    string // platform-provided message, may be empty
	Retryable  bool
	Actionable bool
	ActionURL  string // settings page for actionable errors, when known
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Code, e.Status)
}

// githubOrgSettingsURL is where a user approves an OAuth app for an org.
const githubOrgSettingsURL = "https://github.com/settings/connections/applications"

// Classify maps an HTTP status and response body to an APIError. Written
// against the GitHub API shapes; GitLab uses the same statuses with its own
// message fields, which extractMessage also reads.
func Classify(platform Platform, status int, body []byte) *APIError {
	msg := extractMessage(body)
	lower := strings.ToLower(msg)

	e := &APIError{Status: status, Message: msg}

	switch status {
	case http.StatusUnauthorized:
		e.Code = CodeTokenExpired
		e.Actionable = true

	case http.StatusForbidden:
		switch {
		case strings.Contains(lower, "not accessible by integration") ||
			strings.Contains(lower, "organization") ||
			strings.Contains(lower, "oauth app access"):
			e.Code = CodeOrgAccessRequired
			e.Retryable = true
			e.Actionable = true
			if platform == GitHub {
				e.ActionURL = githubOrgSettingsURL
			}
		case strings.Contains(lower, "rate limit") || strings.Contains(lower, "abuse"):
			e.Code = CodeRateLimited
			e.Retryable = true
		default:
			e.Code = CodeTokenInvalid
			e.Actionable = true
		}

	case http.StatusNotFound:
		e.Code = CodeRepoNotFound

	case http.StatusUnprocessableEntity, http.StatusConflict:
		switch {
		case strings.Contains(lower, "already exists") || strings.Contains(lower, "already open"):
			e.Code = CodePrAlreadyExists
		case strings.Contains(lower, "branch") || strings.Contains(lower, "ref") ||
			strings.Contains(lower, "head sha") || strings.Contains(lower, "source_branch"):
			e.Code = CodeBranchNotFound
			e.Retryable = true
		default:
			e.Code = CodeUnknown
			e.Retryable = true
		}

	default:
		e.Code = CodeUnknown
		e.Retryable = true
	}

	return e
}

// extractMessage digs the human message out of an error payload. GitHub
// uses {"message": ..., "errors": [{"message": ...}]}; GitLab uses
// {"message": ...} or {"error": ...}, where message may be an array.
func extractMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	root := gjson.ParseBytes(body)

	var parts []string
	if m := root.Get("message"); m.Exists() {
		if m.IsArray() {
			for _, item := range m.Array() {
				parts = append(parts, item.String())
			}
		} else {
			parts = append(parts, m.String())
		}
	}
	if errMsg := root.Get("errors.0.message"); errMsg.Exists() {
		parts = append(parts, errMsg.String())
	}
	if errStr := root.Get("error"); errStr.Exists() && errStr.Type == gjson.String {
		parts = append(parts, errStr.String())
	}

	return strings.Join(parts, "; ")
}
