// Package users holds portal users identified by an external identity
// provider.
package users

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dpcportal/portal/internal/verification"
)

// ErrUserNotFound is returned when a user is not found
var ErrUserNotFound = errors.New("user not found")

// ProviderOpenIDConnect is the identity provider behind portal logins.
const ProviderOpenIDConnect = "openid_connect"

// User is a person known to the portal. (Provider, UID) identifies them at
// the external identity provider; PacID keys their authorized-official
// record at the eligibility gateway.
type User struct {
	ID                 uuid.UUID           `db:"id"`
	Provider           string              `db:"provider"`
	UID                string              `db:"uid"`
	Email              string              `db:"email"`
	GivenName          string              `db:"given_name"`
	FamilyName         string              `db:"family_name"`
	PacID              *string             `db:"pac_id"`
	VerificationStatus verification.Status `db:"verification_status"`
	VerificationReason verification.Reason `db:"verification_reason"`
	LastCheckedAt      *time.Time          `db:"last_checked_at"`
	CreatedAt          time.Time           `db:"created_at"`
	UpdatedAt          time.Time           `db:"updated_at"`
}
