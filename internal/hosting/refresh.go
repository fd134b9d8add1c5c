package hosting

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/helmsman-cli/helmsman/internal/logger"
)

const (
	defaultGitHubTokenURL = "https://github.com/login/oauth/access_token"
	defaultGitLabTokenURL = "https://gitlab.com/oauth/token"
)

// RefreshedTokens is the result of an OAuth refresh grant.
type RefreshedTokens struct {
	AccessToken  string
	RefreshToken string
}

// Refresher exchanges a refresh token for a new access token. Used exactly
// once per ship attempt when a read hits a 401.
type Refresher struct {
	HTTPClient     *http.Client
	GitHubTokenURL string
	GitLabTokenURL string
	ClientID       string // public OAuth app client id
}

// NewRefresher creates a Refresher against the public token endpoints.
func NewRefresher(clientID string) *Refresher {
	return &Refresher{
		HTTPClient:     &http.Client{},
		GitHubTokenURL: defaultGitHubTokenURL,
		GitLabTokenURL: defaultGitLabTokenURL,
		ClientID:       clientID,
	}
}

// Refresh performs one refresh-token grant against the platform's token
// endpoint.
func (r *Refresher) Refresh(ctx context.Context, platform Platform, refreshToken string) (*RefreshedTokens, error) {
	if refreshToken == "" {
		return nil, &APIError{Code: CodeTokenExpired, Message: "no refresh token stored"}
	}

	endpoint := r.GitHubTokenURL
	if platform == GitLab {
		endpoint = r.GitLabTokenURL
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, RequestTimeout)
		defer cancel()
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", r.ClientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &APIError{Code: CodeUnknown, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return nil, &APIError{Code: CodeUnknown, Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		logger.Warn("hosting: token refresh failed with HTTP %d", resp.StatusCode)
		return nil, Classify(platform, resp.StatusCode, body)
	}

	access := gjson.GetBytes(body, "access_token").String()
	if access == "" {
		return nil, &APIError{Code: CodeTokenExpired, Message: "token endpoint returned no access token"}
	}

	return &RefreshedTokens{
		AccessToken:  access,
		RefreshToken: gjson.GetBytes(body, "refresh_token").String(),
	}, nil
}
