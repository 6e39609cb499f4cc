// Package gateway adapts the CPI provider/enrollment/sanctions API into
// structured eligibility verdicts.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/dpcportal/portal/internal/metrics"
	"github.com/dpcportal/portal/internal/verification"
)

// ErrNotFound is returned when the gateway reports an unknown NPI or SSN via
// its "code":"404" response shape. It is an answer, not a transport failure.
var ErrNotFound = errors.New("gateway record not found")

// Enrollment statuses as the gateway reports them.
const StatusApproved = "APPROVED"

// RoleCodeAuthorizedOfficial flags an enrollment role as an authorized
// official.
const RoleCodeAuthorizedOfficial = "10"

// Enrollment is one provider enrollment record scoped to an NPI.
type Enrollment struct {
	EnrollmentID string `json:"enrollmentID"`
	Status       string `json:"status"`
	NPI          string `json:"npi"`
}

// EnrollmentRole is one person's role within an enrollment.
type EnrollmentRole struct {
	RoleCode string `json:"roleCode"`
	SSN      string `json:"ssn"`
	PacID    string `json:"pacId"`
}

// MedSanction is a regulatory sanction record. A sanction with a non-empty
// DeletedDate is historical and never disqualifying.
type MedSanction struct {
	SanctionType  string `json:"sanctionType"`
	SanctionDate  string `json:"sanctionDate"`
	DeletedDate   string `json:"deletedDate"`
	ReinstateDate string `json:"reinstatementDate"`
}

// Waiver is a time-bounded exemption neutralizing a sanction.
type Waiver struct {
	Comment   string `json:"comment"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// ProviderInfo is the sanctions/waivers portion of a provider lookup, shared
// by the individual (SSN) and organization (NPI) shapes.
type ProviderInfo struct {
	MedSanctions []MedSanction `json:"medSanctions"`
	Waivers      []Waiver      `json:"waiverInfo"`
}

// Client is the wire-level eligibility gateway consumed by the adapter
// service. Implementations return ErrNotFound for unknown NPIs/SSNs and
// *verification.GatewayError for transport failures.
type Client interface {
	FetchEnrollments(ctx context.Context, npi string) ([]Enrollment, error)
	FetchEnrollmentRoles(ctx context.Context, enrollmentID string) ([]EnrollmentRole, error)
	FetchMedSanctionsAndWaivers(ctx context.Context, ssn string) (ProviderInfo, error)
	FetchOrgInfo(ctx context.Context, npi string) (ProviderInfo, error)
}

// HTTPClient talks to the CPI API gateway over OAuth2 client credentials.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	metrics    *metrics.Metrics
}

// NewHTTPClient builds a gateway client. Token acquisition and refresh is
// handled by the oauth2 client-credentials transport.
func NewHTTPClient(baseURL, clientID, clientSecret string, m *metrics.Metrics) *HTTPClient {
	cc := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     baseURL + "/auth/token",
	}
	httpClient := cc.Client(context.Background())
	httpClient.Timeout = 30 * time.Second
	return &HTTPClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		metrics:    m,
	}
}

type enrollmentsRequest struct {
	ProviderID struct {
		NPI string `json:"npi"`
	} `json:"providerID"`
}

type enrollmentsResponse struct {
	Code        string       `json:"code"`
	Enrollments []Enrollment `json:"enrollments"`
}

// FetchEnrollments looks up all enrollments for an NPI.
func (c *HTTPClient) FetchEnrollments(ctx context.Context, npi string) ([]Enrollment, error) {
	var req enrollmentsRequest
	req.ProviderID.NPI = npi

	var resp enrollmentsResponse
	if err := c.post(ctx, "/api/1.0/ppr/providers/enrollments", req, &resp); err != nil {
		return nil, err
	}
	if resp.Code == "404" {
		return nil, ErrNotFound
	}
	return resp.Enrollments, nil
}

type rolesResponse struct {
	Code  string           `json:"code"`
	Roles []EnrollmentRole `json:"roles"`
}

// FetchEnrollmentRoles looks up the roles attached to one enrollment.
func (c *HTTPClient) FetchEnrollmentRoles(ctx context.Context, enrollmentID string) ([]EnrollmentRole, error) {
	var resp rolesResponse
	path := fmt.Sprintf("/api/1.0/ppr/providers/enrollments/%s/roles", enrollmentID)
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	if resp.Code == "404" {
		return nil, ErrNotFound
	}
	return resp.Roles, nil
}

type providerRequest struct {
	ProviderID struct {
		ProviderType string `json:"providerType"`
		Identity     struct {
			IDType string `json:"idType"`
			ID     string `json:"id"`
		} `json:"identity"`
	} `json:"providerID"`
	DataSets struct {
		SubjectAreas struct {
			All bool `json:"all"`
		} `json:"subjectAreas"`
	} `json:"dataSets"`
}

type providerResponse struct {
	Code     string       `json:"code"`
	Provider ProviderInfo `json:"provider"`
}

// FetchMedSanctionsAndWaivers looks up sanctions and waivers for an
// individual by SSN.
func (c *HTTPClient) FetchMedSanctionsAndWaivers(ctx context.Context, ssn string) (ProviderInfo, error) {
	return c.fetchProvider(ctx, "ind", "ssn", ssn)
}

// FetchOrgInfo looks up sanctions and waivers for an organization by NPI.
func (c *HTTPClient) FetchOrgInfo(ctx context.Context, npi string) (ProviderInfo, error) {
	return c.fetchProvider(ctx, "org", "npi", npi)
}

func (c *HTTPClient) fetchProvider(ctx context.Context, providerType, idType, id string) (ProviderInfo, error) {
	var req providerRequest
	req.ProviderID.ProviderType = providerType
	req.ProviderID.Identity.IDType = idType
	req.ProviderID.Identity.ID = id
	req.DataSets.SubjectAreas.All = true

	var resp providerResponse
	if err := c.post(ctx, "/api/1.0/ppr/providers", req, &resp); err != nil {
		return ProviderInfo{}, err
	}
	if resp.Code == "404" {
		// Unknown subject means no sanctions on record.
		return ProviderInfo{}, nil
	}
	return resp.Provider, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal gateway request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, out)
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, out)
}

func (c *HTTPClient) do(req *http.Request, path string, out any) error {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.ObserveGatewayLatency(path, time.Since(start))
	if err != nil {
		return &verification.GatewayError{Op: path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &verification.GatewayError{Op: path, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
		return &verification.GatewayError{Op: path, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &verification.GatewayError{Op: path, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
