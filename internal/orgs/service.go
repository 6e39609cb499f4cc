package orgs

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Service provides organization and link lookups.
type Service struct {
	pool *pgxpool.Pool
}

// NewService creates a new organization service.
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

const orgColumns = `
	id, name, npi, verification_status, verification_reason,
	last_checked_at, dpc_api_organization_id, tos_accepted_by,
	tos_accepted_at, config_complete, created_at, updated_at
`

func scanOrg(row pgx.Row) (*ProviderOrganization, error) {
	var org ProviderOrganization
	var status, reason *string
	err := row.Scan(
		&org.ID,
		&org.Name,
		&org.NPI,
		&status,
		&reason,
		&org.LastCheckedAt,
		&org.DpcAPIOrgID,
		&org.TosAcceptedBy,
		&org.TosAcceptedAt,
		&org.ConfigComplete,
		&org.CreatedAt,
		&org.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if status != nil {
		org.VerificationStatus = statusFromDB(*status)
	}
	if reason != nil {
		org.VerificationReason = reasonFromDB(*reason)
	}
	return &org, nil
}

// GetByID retrieves an organization by ID.
func (s *Service) GetByID(ctx context.Context, orgID uuid.UUID) (*ProviderOrganization, error) {
	query := `SELECT ` + orgColumns + ` FROM provider_organizations WHERE id = $1`

	org, err := scanOrg(s.pool.QueryRow(ctx, query, orgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrgNotFound
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// GetByNPI retrieves an organization by its National Provider Identifier.
func (s *Service) GetByNPI(ctx context.Context, npi string) (*ProviderOrganization, error) {
	query := `SELECT ` + orgColumns + ` FROM provider_organizations WHERE npi = $1`

	org, err := scanOrg(s.pool.QueryRow(ctx, query, npi))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrgNotFound
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// ListSynced returns all organizations that have been assigned an external
// API organization id, i.e. those that can hold credentials.
func (s *Service) ListSynced(ctx context.Context) ([]ProviderOrganization, error) {
	query := `
		SELECT ` + orgColumns + `
		FROM provider_organizations
		WHERE dpc_api_organization_id IS NOT NULL
		ORDER BY created_at
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list synced organizations: %w", err)
	}
	defer rows.Close()

	var result []ProviderOrganization
	for rows.Next() {
		org, err := scanOrg(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		result = append(result, *org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating organizations: %w", err)
	}
	return result, nil
}

// ListAoLinksForUser returns the user's active AO links, newest first.
func (s *Service) ListAoLinksForUser(ctx context.Context, userID uuid.UUID) ([]AoOrgLink, error) {
	query := `
		SELECT id, user_id, provider_organization_id, verification_status,
		       verification_reason, last_checked_at, invitation_id, created_at
		FROM ao_org_links
		WHERE user_id = $1 AND verification_status
		ORDER BY created_at DESC
	`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ao links: %w", err)
	}
	defer rows.Close()

	var links []AoOrgLink
	for rows.Next() {
		link, err := scanAoLink(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ao link: %w", err)
		}
		links = append(links, *link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ao links: %w", err)
	}
	return links, nil
}

func scanAoLink(row pgx.Row) (*AoOrgLink, error) {
	var link AoOrgLink
	var reason *string
	err := row.Scan(
		&link.ID,
		&link.UserID,
		&link.OrganizationID,
		&link.VerificationStatus,
		&reason,
		&link.LastCheckedAt,
		&link.InvitationID,
		&link.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if reason != nil {
		link.VerificationReason = reasonFromDB(*reason)
	}
	return &link, nil
}
