// Package invitations implements the invitation lifecycle that gates the
// creation of AO and CD organization links.
package invitations

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvitationNotFound is returned when an invitation does not exist or
	// does not belong to the organization in the request path
	ErrInvitationNotFound = errors.New("invitation not found")

	// ErrNotAcceptable is returned when an invitation cannot be accepted in
	// its current state
	ErrNotAcceptable = errors.New("invitation not acceptable")

	// ErrNotPending is returned when cancelling a non-pending invitation
	ErrNotPending = errors.New("invitation is not pending")

	// ErrCannotRenew is returned when renewal preconditions are not met
	ErrCannotRenew = errors.New("invitation cannot be renewed")

	// ErrCodeMismatch is returned when the supplied verification code does
	// not match. Distinguishable from identity mismatch so the caller can
	// re-render the form instead of denying access.
	ErrCodeMismatch = errors.New("verification code does not match")
)

// Type distinguishes who is being invited.
type Type string

const (
	TypeAuthorizedOfficial Type = "authorized_official"
	TypeCredentialDelegate Type = "credential_delegate"
)

// ParseType validates an invitation type value.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeAuthorizedOfficial, TypeCredentialDelegate:
		return Type(s), nil
	}
	return "", fmt.Errorf("invalid invitation type: %q", s)
}

// Status is the stored lifecycle state. Expiry is derived from CreatedAt and
// never stored.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusCancelled Status = "cancelled"
	StatusRenewed   Status = "renewed"
)

// ExpirationWindow is how long an invitation stays acceptable.
const ExpirationWindow = 48 * time.Hour

// Invitation is an ephemeral offer to join an organization. The invited-*
// fields are PII and are cleared on acceptance; the durable grant is the
// resulting org link.
type Invitation struct {
	ID                uuid.UUID     `db:"id"`
	OrganizationID    uuid.UUID     `db:"provider_organization_id"`
	InvitedBy         uuid.NullUUID `db:"invited_by"`
	Type              Type          `db:"invitation_type"`
	Status            Status        `db:"status"`
	InvitedGivenName  string        `db:"invited_given_name"`
	InvitedFamilyName string        `db:"invited_family_name"`
	InvitedPhone      string        `db:"invited_phone"`
	InvitedEmail      string        `db:"invited_email"`
	VerificationCode  *string       `db:"verification_code"`
	CancelledAt       *time.Time    `db:"cancelled_at"`
	CreatedAt         time.Time     `db:"created_at"`
}

// Expired reports whether the 48-hour acceptance window has passed.
func (i *Invitation) Expired() bool {
	return !time.Now().Before(i.CreatedAt.Add(ExpirationWindow))
}

// ExpiresIn returns the hours and minutes remaining until expiry, both zero
// once expired. Pure computation from CreatedAt, used for countdown display.
func (i *Invitation) ExpiresIn() (hours, minutes int) {
	remaining := time.Until(i.CreatedAt.Add(ExpirationWindow))
	if remaining <= 0 {
		return 0, 0
	}
	return int(remaining / time.Hour), int(remaining % time.Hour / time.Minute)
}

// UnacceptableReason returns "" if the invitation can be accepted now,
// otherwise a code identifying why not. Cancelled invitations are always
// invalid regardless of type or age.
func (i *Invitation) UnacceptableReason() string {
	switch i.Status {
	case StatusCancelled:
		return "invalid"
	case StatusAccepted:
		if i.Type == TypeAuthorizedOfficial {
			return "ao_accepted"
		}
		return "cd_accepted"
	case StatusRenewed:
		return "ao_renewed"
	}
	if i.Expired() {
		if i.Type == TypeAuthorizedOfficial {
			return "ao_expired"
		}
		return "cd_expired"
	}
	return ""
}

// Acceptable reports whether the invitation can be accepted now.
func (i *Invitation) Acceptable() bool {
	return i.UnacceptableReason() == ""
}

// Renewable reports whether Renew would create a new invitation: only
// expired, still-pending AO invitations qualify.
func (i *Invitation) Renewable() bool {
	return i.Type == TypeAuthorizedOfficial && i.Status == StatusPending && i.Expired()
}

// ValidationError carries field-level messages for a rejected create request.
// It is an expected outcome returned to the caller, never propagated across a
// transaction boundary.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invitation validation failed: %d field(s)", len(e.Fields))
}

func (e *ValidationError) add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], message)
}

func (e *ValidationError) empty() bool {
	return len(e.Fields) == 0
}
