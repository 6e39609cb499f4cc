// Package verification defines the closed status/reason vocabulary shared by
// organizations, users, AO-org links and the batch re-verification jobs.
package verification

import (
	"errors"
	"fmt"
)

// Status is the verification state of an organization or user. The zero value
// means the subject has never been checked.
type Status string

const (
	StatusUnset    Status = ""
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// ParseStatus validates a stored or user-supplied status value. Unknown values
// are a constructor error, never a runtime surprise deep in business logic.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusUnset, StatusApproved, StatusRejected:
		return Status(s), nil
	}
	return StatusUnset, fmt.Errorf("invalid verification status: %q", s)
}

// Reason explains a rejected status, or records a waived sanction.
type Reason string

const (
	ReasonNone                  Reason = ""
	ReasonBadNPI                Reason = "bad_npi"
	ReasonNoApprovedEnrollment  Reason = "no_approved_enrollment"
	ReasonNotAuthorizedOfficial Reason = "user_not_authorized_official"
	ReasonAoMedSanctions        Reason = "ao_med_sanctions"
	ReasonOrgMedSanctions       Reason = "org_med_sanctions"
	ReasonAoMedSanctionWaived   Reason = "ao_med_sanction_waived"
	ReasonOrgMedSanctionWaived  Reason = "org_med_sanction_waived"
)

// ParseReason validates a reason code.
func ParseReason(s string) (Reason, error) {
	switch Reason(s) {
	case ReasonNone, ReasonBadNPI, ReasonNoApprovedEnrollment,
		ReasonNotAuthorizedOfficial, ReasonAoMedSanctions,
		ReasonOrgMedSanctions, ReasonAoMedSanctionWaived,
		ReasonOrgMedSanctionWaived:
		return Reason(s), nil
	}
	return ReasonNone, fmt.Errorf("invalid verification reason: %q", s)
}

// OrgScoped reports whether a failure reason indicts the organization rather
// than the individual official. Org-scoped failures cascade to the
// organization and all of its active AO links.
func (r Reason) OrgScoped() bool {
	switch r {
	case ReasonBadNPI, ReasonNoApprovedEnrollment, ReasonOrgMedSanctions:
		return true
	}
	return false
}

// Error is a definitive eligibility failure carrying one of the closed reason
// codes. It is not retryable user input; the HTTP layer maps it to an
// access-denied condition.
type Error struct {
	Reason Reason
}

func (e *Error) Error() string {
	return string(e.Reason)
}

// NewError builds a verification failure for the given reason.
func NewError(reason Reason) *Error {
	return &Error{Reason: reason}
}

// AsError unwraps a verification failure from an error chain.
func AsError(err error) (*Error, bool) {
	var verr *Error
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}

// GatewayError is a transport-level failure (network error or 5xx) from the
// eligibility or credential API. Batch jobs log it with subject context and
// leave the record stale; the request path maps it to "try again later".
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// IsGatewayError reports whether err is a transport failure.
func IsGatewayError(err error) bool {
	var gerr *GatewayError
	return errors.As(err, &gerr)
}
