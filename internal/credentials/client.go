// Package credentials manages an organization's API credentials at the DPC
// API: listing, counting and revoking client tokens, public keys and IP
// addresses.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Credential type labels, also used in audit rows and metrics.
const (
	TypeClientToken = "client_token"
	TypePublicKey   = "public_key"
	TypeIPAddress   = "ip_address"
)

// Credential is one API credential belonging to an organization.
type Credential struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Counts holds per-type credential counts for one organization.
type Counts struct {
	ClientTokens int
	PublicKeys   int
	IPAddresses  int
}

// Complete reports whether the organization holds all three credential kinds
// needed to call the API.
func (c Counts) Complete() bool {
	return c.ClientTokens > 0 && c.PublicKeys > 0 && c.IPAddresses > 0
}

// Client talks to the DPC API's credential endpoints for an organization
// identified by its API organization ID.
type Client interface {
	ListClientTokens(ctx context.Context, apiOrgID string) ([]Credential, error)
	ListPublicKeys(ctx context.Context, apiOrgID string) ([]Credential, error)
	ListIPAddresses(ctx context.Context, apiOrgID string) ([]Credential, error)
	DeleteClientToken(ctx context.Context, apiOrgID, id string) error
	DeletePublicKey(ctx context.Context, apiOrgID, id string) error
	DeleteIPAddress(ctx context.Context, apiOrgID, id string) error
}

// HTTPClient is the DPC API implementation of Client.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates a credential client for the DPC API.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// listResponse is the DPC API's collection envelope.
type listResponse struct {
	Entities []Credential `json:"entities"`
	Count    int          `json:"count"`
}

func (c *HTTPClient) ListClientTokens(ctx context.Context, apiOrgID string) ([]Credential, error) {
	return c.list(ctx, apiOrgID, "Token")
}

func (c *HTTPClient) ListPublicKeys(ctx context.Context, apiOrgID string) ([]Credential, error) {
	return c.list(ctx, apiOrgID, "Key")
}

func (c *HTTPClient) ListIPAddresses(ctx context.Context, apiOrgID string) ([]Credential, error) {
	return c.list(ctx, apiOrgID, "IpAddress")
}

func (c *HTTPClient) DeleteClientToken(ctx context.Context, apiOrgID, id string) error {
	return c.delete(ctx, apiOrgID, "Token", id)
}

func (c *HTTPClient) DeletePublicKey(ctx context.Context, apiOrgID, id string) error {
	return c.delete(ctx, apiOrgID, "Key", id)
}

func (c *HTTPClient) DeleteIPAddress(ctx context.Context, apiOrgID, id string) error {
	return c.delete(ctx, apiOrgID, "IpAddress", id)
}

func (c *HTTPClient) list(ctx context.Context, apiOrgID, resource string) ([]Credential, error) {
	url := fmt.Sprintf("%s/%s", c.baseURL, resource)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, apiOrgID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dpc api request failed: %w", err)
	}
	defer resp.Body.Close()

	log.Debug().
		Str("resource", resource).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("DPC API list request")

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dpc api returned status %d for %s list", resp.StatusCode, resource)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	var parsed listResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse %s list: %w", resource, err)
	}
	return parsed.Entities, nil
}

func (c *HTTPClient) delete(ctx context.Context, apiOrgID, resource, id string) error {
	if id == "" {
		return errors.New("credential id is empty")
	}
	url := fmt.Sprintf("%s/%s/%s", c.baseURL, resource, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, apiOrgID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("dpc api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("dpc api returned status %d deleting %s %s", resp.StatusCode, resource, id)
	}
	return nil
}

func (c *HTTPClient) setHeaders(req *http.Request, apiOrgID string) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-Organization-Id", apiOrgID)
	req.Header.Set("Accept", "application/json")
}
