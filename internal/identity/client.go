package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Client errors map the identity provider's failure modes to the small fixed
// set the HTTP layer renders.
var (
	ErrNoToken      = errors.New("no_token")
	ErrNoTokenExp   = errors.New("no_token_exp")
	ErrExpiredToken = errors.New("expired_token")
	ErrUnauthorized = errors.New("unauthorized")
	ErrServerError  = errors.New("server_error")
)

// Session is the identity-provider token state carried by the logged-in
// user's session.
type Session struct {
	Token    string
	TokenExp time.Time
}

// Client fetches verified identity attributes from the identity provider's
// user-info endpoint.
type Client struct {
	httpClient *http.Client
	url        string
}

// NewClient creates a user-info client for the given endpoint.
func NewClient(url string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		url:        url,
	}
}

// UserInfo fetches identity attributes using the session's bearer token.
// Token problems surface as typed errors so the caller can re-prompt login
// instead of treating them as provider outages.
func (c *Client) UserInfo(ctx context.Context, session Session) (UserInfo, error) {
	var info UserInfo

	if session.Token == "" {
		return info, ErrNoToken
	}
	if session.TokenExp.IsZero() {
		return info, ErrNoTokenExp
	}
	if !session.TokenExp.After(time.Now()) {
		return info, ErrExpiredToken
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return info, fmt.Errorf("failed to build user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+session.Token)

	log.Info().
		Str("user_info_url", c.url).
		Msg("Calling identity provider user_info")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error().Err(err).Str("user_info_url", c.url).Msg("User info request failed")
		return info, ErrServerError
	}
	defer resp.Body.Close()

	log.Info().
		Str("user_info_url", c.url).
		Int("status_code", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Identity provider user_info response")

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized:
		return info, ErrUnauthorized
	default:
		return info, ErrServerError
	}

	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		log.Error().Err(err).Msg("Failed to decode user info response")
		return info, ErrServerError
	}

	return info, nil
}
