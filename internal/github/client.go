package github

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// StarChecker reports whether the token's user has starred a repository.
type StarChecker interface {
	IsStarred(ctx context.Context, repository, accessToken string) (bool, error)
}

// Client calls the GitHub REST API. The returned error means the answer is
// unknown (network failure, timeout, 5xx) and must never be read as
// "starred"; a definitive non-204 status is (false, nil).
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client against baseURL, defaulting to the public GitHub
// API. Tests point it at an httptest server.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// IsStarred issues GET /user/starred/{owner}/{repo}. GitHub answers 204 when
// the repository is starred and 404 (or another status) when it is not.
func (c *Client) IsStarred(ctx context.Context, repository, accessToken string) (bool, error) {
	url := fmt.Sprintf("%s/user/starred/%s", c.baseURL, repository)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build starred request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("github starred check failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusInternalServerError {
		return false, fmt.Errorf("github responded with status %d", resp.StatusCode)
	}

	return resp.StatusCode == http.StatusNoContent, nil
}
