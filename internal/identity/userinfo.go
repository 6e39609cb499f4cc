// Package identity matches user-supplied identity claims against invitation
// records and identity-provider responses.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/dpcportal/portal/internal/validation"
)

// UserInfo is the verified identity returned by the identity provider for a
// logged-in user. Field availability depends on the assurance level of the
// login, so matchers must treat absent fields as a hard error rather than a
// mismatch.
type UserInfo struct {
	Sub        string   `json:"sub"`
	Email      string   `json:"email"`
	AllEmails  []string `json:"all_emails"`
	GivenName  string   `json:"given_name"`
	FamilyName string   `json:"family_name"`
	Phone      string   `json:"phone"`
	SSN        string   `json:"social_security_number"`
	IAL        string   `json:"ial"`
}

// MissingInfoError reports that the identity provider response lacked a field
// required for a comparison. Silently treating missing data as matched or
// unmatched would be a security hole in either direction.
type MissingInfoError struct {
	Field string
}

func (e *MissingInfoError) Error() string {
	return fmt.Sprintf("identity response missing required field: %s", e.Field)
}

func missing(field string) error {
	return &MissingInfoError{Field: field}
}

// HashedSSN normalizes the identity's SSN to digits and returns its SHA-256
// hex digest, the form the eligibility gateway compares against.
func (u UserInfo) HashedSSN() (string, error) {
	digits := validation.Digits(u.SSN)
	if digits == "" {
		return "", missing("social_security_number")
	}
	sum := sha256.Sum256([]byte(digits))
	return hex.EncodeToString(sum[:]), nil
}

func foldEqual(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
