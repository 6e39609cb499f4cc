package credentials

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dpcportal/portal/internal/metrics"
	"github.com/dpcportal/portal/internal/orgs"
)

// AuditSink records credential removals. Satisfied by audit.Writer.
type AuditSink interface {
	LogCredentialRemoved(ctx context.Context, orgID uuid.UUID, credentialType, credentialID string) error
}

// OrgSource provides the organization lookups the credential jobs need.
// Satisfied by orgs.Service.
type OrgSource interface {
	GetByID(ctx context.Context, orgID uuid.UUID) (*orgs.ProviderOrganization, error)
	ListSynced(ctx context.Context) ([]orgs.ProviderOrganization, error)
}

// RevocationPolicy strips an organization's API credentials when it loses its
// approved status. Leaving rejected later never restores credentials; the
// organization re-provisions them.
type RevocationPolicy struct {
	client  Client
	orgs    OrgSource
	audit   AuditSink
	metrics *metrics.Metrics
}

// NewRevocationPolicy creates a revocation policy.
func NewRevocationPolicy(client Client, orgSource OrgSource, auditSink AuditSink, m *metrics.Metrics) *RevocationPolicy {
	return &RevocationPolicy{client: client, orgs: orgSource, audit: auditSink, metrics: m}
}

// OrgRejected handles an organization's transition to rejected by revoking
// all of its credentials. Satisfies the verification jobs' dispatch
// interface.
func (p *RevocationPolicy) OrgRejected(ctx context.Context, orgID uuid.UUID) {
	org, err := p.orgs.GetByID(ctx, orgID)
	if err != nil {
		log.Error().Err(err).Str("org_id", orgID.String()).Msg("Failed to load rejected organization for revocation")
		return
	}
	if org.DpcAPIOrgID == nil || *org.DpcAPIOrgID == "" {
		// Never synced to the API, nothing to revoke.
		return
	}
	p.RevokeAll(ctx, orgID, *org.DpcAPIOrgID)
}

// kind pairs a credential type's list and delete operations.
type kind struct {
	name   string
	list   func(ctx context.Context, apiOrgID string) ([]Credential, error)
	delete func(ctx context.Context, apiOrgID, id string) error
}

// RevokeAll enumerates and deletes every credential the organization holds.
// Each deletion is independent: one failure is logged and the rest proceed,
// so a flaky API leaves as few live credentials as possible. Every successful
// deletion gets its own audit row. An organization with no credentials
// produces no output beyond the summary.
func (p *RevocationPolicy) RevokeAll(ctx context.Context, orgID uuid.UUID, apiOrgID string) {
	kinds := []kind{
		{TypeClientToken, p.client.ListClientTokens, p.client.DeleteClientToken},
		{TypePublicKey, p.client.ListPublicKeys, p.client.DeletePublicKey},
		{TypeIPAddress, p.client.ListIPAddresses, p.client.DeleteIPAddress},
	}

	deleted, failed := 0, 0
	for _, k := range kinds {
		creds, err := k.list(ctx, apiOrgID)
		if err != nil {
			log.Error().Err(err).
				Str("org_id", orgID.String()).
				Str("credential_type", k.name).
				Msg("Failed to list credentials for revocation")
			failed++
			continue
		}

		for _, cred := range creds {
			if err := k.delete(ctx, apiOrgID, cred.ID); err != nil {
				log.Error().Err(err).
					Str("org_id", orgID.String()).
					Str("credential_type", k.name).
					Str("credential_id", cred.ID).
					Msg("Failed to delete credential")
				p.metrics.IncrementRevocation(k.name, "error")
				failed++
				continue
			}

			if err := p.audit.LogCredentialRemoved(ctx, orgID, k.name, cred.ID); err != nil {
				log.Warn().Err(err).
					Str("credential_id", cred.ID).
					Msg("Failed to audit credential removal")
			}
			p.metrics.IncrementRevocation(k.name, "deleted")
			deleted++
		}
	}

	// An org that never provisioned credentials stays silent.
	if deleted == 0 && failed == 0 {
		return
	}
	log.Info().
		Str("org_id", orgID.String()).
		Int("deleted", deleted).
		Int("failed", failed).
		Msg("Credential revocation completed")
}
