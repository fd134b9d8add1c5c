package hosting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/helmsman-cli/helmsman/internal/logger"
)

// RequestTimeout bounds each API call when the caller's context has no
// deadline of its own.
const RequestTimeout = 30 * time.Second

const (
	defaultGitHubAPI = "https://api.github.com"
	defaultGitLabAPI = "https://gitlab.com/api/v4"
)

// PRSpec describes the pull/merge request to create.
type PRSpec struct {
	Title string
	Body  string
	Head  string // source branch
	Base  string // target branch
}

// PullRequest is the created (or found) pull/merge request.
type PullRequest struct {
	URL    string
	Number int64
}

// Client is a thin JSON client for hosting platform APIs. Base URLs are
// settable so tests can point at a local server.
type Client struct {
	HTTPClient *http.Client
	GitHubAPI  string
	GitLabAPI  string
}

// NewClient creates a Client against the public API endpoints.
func NewClient() *Client {
	return &Client{
		HTTPClient: &http.Client{},
		GitHubAPI:  defaultGitHubAPI,
		GitLabAPI:  defaultGitLabAPI,
	}
}

// CreatePR creates a pull request (GitHub) or merge request (GitLab).
// repoPath is "owner/repo". Failures return *APIError.
func (c *Client) CreatePR(ctx context.Context, platform Platform, repoPath, token string, spec PRSpec) (*PullRequest, error) {
	switch platform {
	case GitHub:
		payload := map[string]string{
			"title": spec.Title,
			"body":  spec.Body,
			"head":  spec.Head,
			"base":  spec.Base,
		}
		endpoint := fmt.Sprintf("%s/repos/%s/pulls", c.GitHubAPI, repoPath)
		body, err := c.do(ctx, platform, http.MethodPost, endpoint, token, payload, http.StatusCreated)
		if err != nil {
			return nil, err
		}
		return &PullRequest{
			URL:    gjson.GetBytes(body, "html_url").String(),
			Number: gjson.GetBytes(body, "number").Int(),
		}, nil

	case GitLab:
		payload := map[string]string{
			"title":         spec.Title,
			"description":   spec.Body,
			"source_branch": spec.Head,
			"target_branch": spec.Base,
		}
		endpoint := fmt.Sprintf("%s/projects/%s/merge_requests", c.GitLabAPI, url.PathEscape(repoPath))
		body, err := c.do(ctx, platform, http.MethodPost, endpoint, token, payload, http.StatusCreated)
		if err != nil {
			return nil, err
		}
		return &PullRequest{
			URL:    gjson.GetBytes(body, "web_url").String(),
			Number: gjson.GetBytes(body, "iid").Int(),
		}, nil

	default:
		return nil, &APIError{Code: CodeUnknown, Message: "unsupported hosting platform"}
	}
}

// FindOpenPR looks for an open pull/merge request from the given source
// branch. Returns the PR URL, or empty string when none exists.
func (c *Client) FindOpenPR(ctx context.Context, platform Platform, repoPath, token, head string) (string, error) {
	switch platform {
	case GitHub:
		owner := repoPath
		if idx := strings.Index(repoPath, "/"); idx > 0 {
			owner = repoPath[:idx]
		}
		endpoint := fmt.Sprintf("%s/repos/%s/pulls?state=open&head=%s", c.GitHubAPI, repoPath, url.QueryEscape(owner+":"+head))
		body, err := c.do(ctx, platform, http.MethodGet, endpoint, token, nil, http.StatusOK)
		if err != nil {
			return "", err
		}
		return gjson.GetBytes(body, "0.html_url").String(), nil

	case GitLab:
		endpoint := fmt.Sprintf("%s/projects/%s/merge_requests?state=opened&source_branch=%s",
			c.GitLabAPI, url.PathEscape(repoPath), url.QueryEscape(head))
		body, err := c.do(ctx, platform, http.MethodGet, endpoint, token, nil, http.StatusOK)
		if err != nil {
			return "", err
		}
		return gjson.GetBytes(body, "0.web_url").String(), nil

	default:
		return "", &APIError{Code: CodeUnknown, Message: "unsupported hosting platform"}
	}
}

// do issues one JSON request with a bounded timeout and classifies any
// non-success status.
func (c *Client) do(ctx context.Context, platform Platform, method, endpoint, token string, payload any, wantStatus int) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, RequestTimeout)
		defer cancel()
	}

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, &APIError{Code: CodeUnknown, Message: err.Error()}
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, &APIError{Code: CodeUnknown, Message: err.Error()}
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		switch platform {
		case GitLab:
			req.Header.Set("Authorization", "Bearer "+token)
		default:
			req.Header.Set("Authorization", "token "+token)
		}
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &APIError{Code: CodeUnknown, Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != wantStatus {
		apiErr := Classify(platform, resp.StatusCode, body)
		logger.Debug("hosting: %s %s -> %d (%s)", method, endpoint, resp.StatusCode, apiErr.Code)
		return nil, apiErr
	}

	return body, nil
}
