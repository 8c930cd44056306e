package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// ErrRefreshRejected is returned when the token endpoint refuses a refresh token.
var ErrRefreshRejected = errors.New("token endpoint rejected the refresh")

// TokenResponse is the OAuth token endpoint response.
type TokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	ExpiresIn        int64  `json:"expires_in,omitempty"`
	TokenType        string `json:"token_type,omitempty"`
	APIDomain        string `json:"api_domain,omitempty"`
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error)
}

// TokenClient calls an OAuth token endpoint with the refresh_token grant.
type TokenClient struct {
	httpClient   *http.Client
	tokenURL     string
	clientID     string
	clientSecret string
}

// NewTokenClient creates a token client. A nil httpClient uses http.DefaultClient.
func NewTokenClient(httpClient *http.Client, tokenURL, clientID, clientSecret string) *TokenClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &TokenClient{
		httpClient:   httpClient,
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// Refresh performs one refresh_token grant.
func (c *TokenClient) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token", ErrRefreshRejected)
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call token endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	var token TokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token response (status %d): %w", resp.StatusCode, err)
	}
	// The accounts server reports some failures with a 200 and an error field.
	if resp.StatusCode >= 300 || token.Error != "" || token.AccessToken == "" {
		reason := token.ErrorDescription
		if reason == "" {
			reason = token.Error
		}
		if reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %s", ErrRefreshRejected, reason)
	}
	return &token, nil
}
