package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ProviderGithub is the Clerk identifier of a linked GitHub account.
const ProviderGithub = "oauth_github"

// Provider resolves the OAuth access token of an external account linked to
// a user. An empty token with a nil error means the user never linked that
// provider.
type Provider interface {
	GetLinkedAccessToken(ctx context.Context, userID, provider string) (string, error)
}

// ClerkProvider fetches linked OAuth access tokens from the Clerk backend
// API. Request auth already goes through the Clerk SDK middleware; this
// client only covers the oauth_access_tokens endpoint.
type ClerkProvider struct {
	baseURL   string
	secretKey string
	http      *http.Client
}

func NewClerkProvider(baseURL, secretKey string) *ClerkProvider {
	if baseURL == "" {
		baseURL = "https://api.clerk.com"
	}
	return &ClerkProvider{
		baseURL:   baseURL,
		secretKey: secretKey,
		http:      &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *ClerkProvider) GetLinkedAccessToken(ctx context.Context, userID, provider string) (string, error) {
	url := fmt.Sprintf("%s/v1/users/%s/oauth_access_tokens/%s", p.baseURL, userID, provider)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch oauth token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("clerk responded with status %d", resp.StatusCode)
	}

	var tokens []struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return "", fmt.Errorf("failed to decode oauth token response: %w", err)
	}
	if len(tokens) == 0 || tokens[0].Token == "" {
		return "", nil
	}

	return tokens[0].Token, nil
}
