package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dpcportal/portal/internal/validation"
	"github.com/dpcportal/portal/internal/verification"
)

// IDType selects how an authorized official is identified against enrollment
// roles.
type IDType string

const (
	// IDTypeSSN matches the SHA-256 hex digest of the official's SSN. Used on
	// the synchronous invitation-confirmation path, where the SSN comes from
	// the identity provider.
	IDTypeSSN IDType = "ssn"
	// IDTypePacID matches the provider associate control number stored on the
	// user record. Used by the batch re-verification jobs.
	IDTypePacID IDType = "pac_id"
)

// Service resolves NPI -> enrollments -> roles -> sanctions/waivers into a
// single eligibility verdict.
type Service struct {
	client Client
}

// NewService creates an eligibility service on top of a gateway client.
func NewService(client Client) *Service {
	return &Service{client: client}
}

// Result is the verdict of a full eligibility check.
type Result struct {
	Success bool
	Reason  verification.Reason
	AoRole  *EnrollmentRole
}

// CheckAoEligibility verifies that the identified person is an authorized
// official of the organization with the given NPI and is free of active,
// unwaived sanctions. Checks run in strict order and short-circuit; failures
// are returned as *verification.Error with the specific reason, transport
// problems as *verification.GatewayError.
func (s *Service) CheckAoEligibility(ctx context.Context, orgNPI string, idType IDType, idValue string) (*EnrollmentRole, error) {
	enrollments, err := s.client.FetchEnrollments(ctx, orgNPI)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, verification.NewError(verification.ReasonBadNPI)
		}
		return nil, err
	}

	var approved []Enrollment
	for _, e := range enrollments {
		if e.Status == StatusApproved {
			approved = append(approved, e)
		}
	}
	if len(approved) == 0 {
		return nil, verification.NewError(verification.ReasonNoApprovedEnrollment)
	}

	role, err := s.findAoRole(ctx, approved, idType, idValue)
	if err != nil {
		return nil, err
	}
	if role == nil {
		return nil, verification.NewError(verification.ReasonNotAuthorizedOfficial)
	}

	// Sanctions are keyed by the official's SSN, which the matched role
	// carries even when the caller identified them by pac_id.
	info, err := s.client.FetchMedSanctionsAndWaivers(ctx, role.SSN)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	sanctioned, waived := sanctionVerdict(info)
	if sanctioned {
		return nil, verification.NewError(verification.ReasonAoMedSanctions)
	}
	if waived {
		log.Info().
			Str("org_npi", orgNPI).
			Msg("Authorized official has a med sanction waiver")
	}

	return role, nil
}

// CheckEligibility is the synchronous invitation-confirmation check: the AO
// checks plus the organization's own sanction standing.
func (s *Service) CheckEligibility(ctx context.Context, orgNPI, hashedSSN string) (Result, error) {
	role, err := s.CheckAoEligibility(ctx, orgNPI, IDTypeSSN, hashedSSN)
	if err != nil {
		if verr, ok := verification.AsError(err); ok {
			return Result{Success: false, Reason: verr.Reason}, nil
		}
		return Result{}, err
	}

	sanctioned, waived, err := s.OrgHasActiveSanction(ctx, orgNPI)
	if err != nil {
		return Result{}, err
	}
	if sanctioned {
		return Result{Success: false, Reason: verification.ReasonOrgMedSanctions}, nil
	}
	if waived {
		log.Info().Str("org_npi", orgNPI).Msg("Organization has a med sanction waiver")
	}

	return Result{Success: true, AoRole: role}, nil
}

// CheckOrgEligibility verifies the organization itself: at least one approved
// enrollment and no active, unwaived sanctions. Used by the batch
// re-verification jobs, which never re-check officials on this path.
func (s *Service) CheckOrgEligibility(ctx context.Context, orgNPI string) error {
	enrollments, err := s.client.FetchEnrollments(ctx, orgNPI)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return verification.NewError(verification.ReasonBadNPI)
		}
		return err
	}

	approved := false
	for _, e := range enrollments {
		if e.Status == StatusApproved {
			approved = true
			break
		}
	}
	if !approved {
		return verification.NewError(verification.ReasonNoApprovedEnrollment)
	}

	sanctioned, waived, err := s.OrgHasActiveSanction(ctx, orgNPI)
	if err != nil {
		return err
	}
	if sanctioned {
		return verification.NewError(verification.ReasonOrgMedSanctions)
	}
	if waived {
		log.Info().Str("org_npi", orgNPI).Msg("Organization has a med sanction waiver")
	}
	return nil
}

// OrgHasActiveSanction applies the sanction/waiver precedence to the
// organization's own NPI, independent of any specific official.
func (s *Service) OrgHasActiveSanction(ctx context.Context, npi string) (sanctioned, waived bool, err error) {
	info, err := s.client.FetchOrgInfo(ctx, npi)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, false, nil
		}
		return false, false, err
	}
	sanctioned, waived = sanctionVerdict(info)
	return sanctioned, waived, nil
}

func (s *Service) findAoRole(ctx context.Context, enrollments []Enrollment, idType IDType, idValue string) (*EnrollmentRole, error) {
	for _, enrollment := range enrollments {
		roles, err := s.client.FetchEnrollmentRoles(ctx, enrollment.EnrollmentID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		for i := range roles {
			role := roles[i]
			if role.RoleCode != RoleCodeAuthorizedOfficial {
				continue
			}
			if roleMatches(role, idType, idValue) {
				return &role, nil
			}
		}
	}
	return nil, nil
}

func roleMatches(role EnrollmentRole, idType IDType, idValue string) bool {
	switch idType {
	case IDTypeSSN:
		return hashSSN(role.SSN) == idValue
	case IDTypePacID:
		return role.PacID != "" && role.PacID == idValue
	}
	return false
}

// sanctionVerdict applies the precedence rule: an active (non-deleted)
// sanction disqualifies unless any waiver entry exists. Waiver presence is
// taken at face value rather than intersecting date ranges, matching how the
// gateway reports current waivers.
func sanctionVerdict(info ProviderInfo) (sanctioned, waived bool) {
	active := false
	for _, s := range info.MedSanctions {
		if s.DeletedDate == "" {
			active = true
			break
		}
	}
	if !active {
		return false, false
	}
	if len(info.Waivers) > 0 {
		return false, true
	}
	return true, false
}

func hashSSN(ssn string) string {
	sum := sha256.Sum256([]byte(validation.Digits(ssn)))
	return hex.EncodeToString(sum[:])
}
