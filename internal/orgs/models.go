// Package orgs holds provider organizations and their durable links to
// authorized officials and credential delegates.
package orgs

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dpcportal/portal/internal/verification"
)

var (
	// ErrOrgNotFound is returned when an organization is not found
	ErrOrgNotFound = errors.New("organization not found")

	// ErrLinkNotFound is returned when an AO or CD link is not found
	ErrLinkNotFound = errors.New("organization link not found")

	// ErrDuplicateLink is returned when a (user, organization) link already exists
	ErrDuplicateLink = errors.New("user is already linked to this organization")
)

// ProviderOrganization is a healthcare organization registered for API
// access. VerificationReason is only meaningful while VerificationStatus is
// rejected.
type ProviderOrganization struct {
	ID                 uuid.UUID           `db:"id"`
	Name               string              `db:"name"`
	NPI                string              `db:"npi"`
	VerificationStatus verification.Status `db:"verification_status"`
	VerificationReason verification.Reason `db:"verification_reason"`
	LastCheckedAt      *time.Time          `db:"last_checked_at"`
	DpcAPIOrgID        *string             `db:"dpc_api_organization_id"`
	TosAcceptedBy      uuid.NullUUID       `db:"tos_accepted_by"`
	TosAcceptedAt      *time.Time          `db:"tos_accepted_at"`
	ConfigComplete     bool                `db:"config_complete"`
	CreatedAt          time.Time           `db:"created_at"`
	UpdatedAt          time.Time           `db:"updated_at"`
}

// Rejected reports whether the organization currently fails verification.
func (o *ProviderOrganization) Rejected() bool {
	return o.VerificationStatus == verification.StatusRejected
}

// AoOrgLink is the durable grant between an authorized official and an
// organization. VerificationStatus is true while the official remains
// eligible; a false link is retired, never re-checked.
type AoOrgLink struct {
	ID                 uuid.UUID           `db:"id"`
	UserID             uuid.UUID           `db:"user_id"`
	OrganizationID     uuid.UUID           `db:"provider_organization_id"`
	VerificationStatus bool                `db:"verification_status"`
	VerificationReason verification.Reason `db:"verification_reason"`
	LastCheckedAt      *time.Time          `db:"last_checked_at"`
	InvitationID       uuid.NullUUID       `db:"invitation_id"`
	CreatedAt          time.Time           `db:"created_at"`
}

// CdOrgLink grants a credential delegate access to an organization. Created
// only through invitation acceptance; CreatedAt is the activation timestamp.
type CdOrgLink struct {
	ID             uuid.UUID     `db:"id"`
	UserID         uuid.UUID     `db:"user_id"`
	OrganizationID uuid.UUID     `db:"provider_organization_id"`
	InvitationID   uuid.NullUUID `db:"invitation_id"`
	DisabledAt     *time.Time    `db:"disabled_at"`
	CreatedAt      time.Time     `db:"created_at"`
}

// Active reports whether the delegate link is currently usable.
func (l *CdOrgLink) Active() bool {
	return l.DisabledAt == nil
}

// Stored values are constrained by CHECK clauses, so parse failures here mean
// schema drift; fall back to the zero value rather than failing reads.
func statusFromDB(s string) verification.Status {
	status, err := verification.ParseStatus(s)
	if err != nil {
		return verification.StatusUnset
	}
	return status
}

func reasonFromDB(s string) verification.Reason {
	reason, err := verification.ParseReason(s)
	if err != nil {
		return verification.ReasonNone
	}
	return reason
}
