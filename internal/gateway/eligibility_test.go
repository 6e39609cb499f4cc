package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dpcportal/portal/internal/verification"
)

// fakeClient serves canned gateway responses keyed by NPI, enrollment and SSN.
type fakeClient struct {
	enrollments     map[string][]Enrollment
	enrollmentsErr  error
	roles           map[string][]EnrollmentRole
	sanctionsBySSN  map[string]ProviderInfo
	sanctionsErr    error
	orgInfoByNPI    map[string]ProviderInfo
	orgInfoErr      error
}

func (f *fakeClient) FetchEnrollments(_ context.Context, npi string) ([]Enrollment, error) {
	if f.enrollmentsErr != nil {
		return nil, f.enrollmentsErr
	}
	e, ok := f.enrollments[npi]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

func (f *fakeClient) FetchEnrollmentRoles(_ context.Context, enrollmentID string) ([]EnrollmentRole, error) {
	r, ok := f.roles[enrollmentID]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

func (f *fakeClient) FetchMedSanctionsAndWaivers(_ context.Context, ssn string) (ProviderInfo, error) {
	if f.sanctionsErr != nil {
		return ProviderInfo{}, f.sanctionsErr
	}
	return f.sanctionsBySSN[ssn], nil
}

func (f *fakeClient) FetchOrgInfo(_ context.Context, npi string) (ProviderInfo, error) {
	if f.orgInfoErr != nil {
		return ProviderInfo{}, f.orgInfoErr
	}
	return f.orgInfoByNPI[npi], nil
}

const (
	testNPI = "1234567893"
	testSSN = "123456789"
)

func hashedTestSSN() string {
	sum := sha256.Sum256([]byte(testSSN))
	return hex.EncodeToString(sum[:])
}

func eligibleClient() *fakeClient {
	return &fakeClient{
		enrollments: map[string][]Enrollment{
			testNPI: {{EnrollmentID: "enr-1", Status: StatusApproved, NPI: testNPI}},
		},
		roles: map[string][]EnrollmentRole{
			"enr-1": {
				{RoleCode: "30", SSN: "999999999", PacID: "pac-other"},
				{RoleCode: RoleCodeAuthorizedOfficial, SSN: testSSN, PacID: "pac-1"},
			},
		},
		sanctionsBySSN: map[string]ProviderInfo{},
		orgInfoByNPI:   map[string]ProviderInfo{},
	}
}

func activeSanction() ProviderInfo {
	return ProviderInfo{MedSanctions: []MedSanction{{SanctionType: "EXCLUSION"}}}
}

func requireReason(t *testing.T, err error, want verification.Reason) {
	t.Helper()
	verr, ok := verification.AsError(err)
	require.True(t, ok, "expected verification error, got %v", err)
	require.Equal(t, want, verr.Reason)
}

func TestCheckAoEligibility_SuccessBySSN(t *testing.T) {
	svc := NewService(eligibleClient())

	role, err := svc.CheckAoEligibility(context.Background(), testNPI, IDTypeSSN, hashedTestSSN())
	require.NoError(t, err)
	require.Equal(t, "pac-1", role.PacID)
}

func TestCheckAoEligibility_SuccessByPacID(t *testing.T) {
	svc := NewService(eligibleClient())

	role, err := svc.CheckAoEligibility(context.Background(), testNPI, IDTypePacID, "pac-1")
	require.NoError(t, err)
	require.Equal(t, testSSN, role.SSN)
}

func TestCheckAoEligibility_UnknownNPI(t *testing.T) {
	svc := NewService(&fakeClient{enrollments: map[string][]Enrollment{}})

	_, err := svc.CheckAoEligibility(context.Background(), testNPI, IDTypeSSN, hashedTestSSN())
	requireReason(t, err, verification.ReasonBadNPI)
}

func TestCheckAoEligibility_NoApprovedEnrollment(t *testing.T) {
	client := eligibleClient()
	client.enrollments[testNPI] = []Enrollment{{EnrollmentID: "enr-1", Status: "PENDING"}}
	svc := NewService(client)

	_, err := svc.CheckAoEligibility(context.Background(), testNPI, IDTypeSSN, hashedTestSSN())
	requireReason(t, err, verification.ReasonNoApprovedEnrollment)
}

func TestCheckAoEligibility_NotAuthorizedOfficial(t *testing.T) {
	svc := NewService(eligibleClient())

	// Right role code, wrong identity.
	_, err := svc.CheckAoEligibility(context.Background(), testNPI, IDTypePacID, "pac-unknown")
	requireReason(t, err, verification.ReasonNotAuthorizedOfficial)
}

// An AO role code on a non-matching person must not satisfy the check, and a
// matching person under a different role code must not either.
func TestCheckAoEligibility_RoleCodeMustBeAO(t *testing.T) {
	client := eligibleClient()
	client.roles["enr-1"] = []EnrollmentRole{
		{RoleCode: "30", SSN: testSSN, PacID: "pac-1"},
	}
	svc := NewService(client)

	_, err := svc.CheckAoEligibility(context.Background(), testNPI, IDTypePacID, "pac-1")
	requireReason(t, err, verification.ReasonNotAuthorizedOfficial)
}

func TestCheckAoEligibility_AoSanctioned(t *testing.T) {
	client := eligibleClient()
	client.sanctionsBySSN[testSSN] = activeSanction()
	svc := NewService(client)

	_, err := svc.CheckAoEligibility(context.Background(), testNPI, IDTypeSSN, hashedTestSSN())
	requireReason(t, err, verification.ReasonAoMedSanctions)
}

func TestCheckAoEligibility_WaiverNeutralizesSanction(t *testing.T) {
	client := eligibleClient()
	info := activeSanction()
	info.Waivers = []Waiver{{Comment: "waived"}}
	client.sanctionsBySSN[testSSN] = info
	svc := NewService(client)

	role, err := svc.CheckAoEligibility(context.Background(), testNPI, IDTypeSSN, hashedTestSSN())
	require.NoError(t, err)
	require.NotNil(t, role)
}

func TestCheckAoEligibility_DeletedSanctionIgnored(t *testing.T) {
	client := eligibleClient()
	client.sanctionsBySSN[testSSN] = ProviderInfo{
		MedSanctions: []MedSanction{{SanctionType: "EXCLUSION", DeletedDate: "2020-01-01"}},
	}
	svc := NewService(client)

	_, err := svc.CheckAoEligibility(context.Background(), testNPI, IDTypeSSN, hashedTestSSN())
	require.NoError(t, err)
}

func TestCheckAoEligibility_GatewayErrorPassesThrough(t *testing.T) {
	client := eligibleClient()
	client.sanctionsErr = &verification.GatewayError{Op: "providers", Err: errors.New("status 500")}
	svc := NewService(client)

	_, err := svc.CheckAoEligibility(context.Background(), testNPI, IDTypeSSN, hashedTestSSN())
	require.True(t, verification.IsGatewayError(err))
	_, isVerdict := verification.AsError(err)
	require.False(t, isVerdict)
}

func TestCheckEligibility_OrgSanctionCheckedAfterAo(t *testing.T) {
	client := eligibleClient()
	client.orgInfoByNPI[testNPI] = activeSanction()
	svc := NewService(client)

	result, err := svc.CheckEligibility(context.Background(), testNPI, hashedTestSSN())
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, verification.ReasonOrgMedSanctions, result.Reason)
}

func TestCheckEligibility_Success(t *testing.T) {
	svc := NewService(eligibleClient())

	result, err := svc.CheckEligibility(context.Background(), testNPI, hashedTestSSN())
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "pac-1", result.AoRole.PacID)
}

func TestCheckOrgEligibility(t *testing.T) {
	svc := NewService(eligibleClient())
	require.NoError(t, svc.CheckOrgEligibility(context.Background(), testNPI))

	unknown := NewService(&fakeClient{enrollments: map[string][]Enrollment{}})
	requireReason(t, unknown.CheckOrgEligibility(context.Background(), testNPI), verification.ReasonBadNPI)

	pending := eligibleClient()
	pending.enrollments[testNPI] = []Enrollment{{EnrollmentID: "enr-1", Status: "PENDING"}}
	requireReason(t, NewService(pending).CheckOrgEligibility(context.Background(), testNPI), verification.ReasonNoApprovedEnrollment)

	sanctioned := eligibleClient()
	sanctioned.orgInfoByNPI[testNPI] = activeSanction()
	requireReason(t, NewService(sanctioned).CheckOrgEligibility(context.Background(), testNPI), verification.ReasonOrgMedSanctions)

	waived := eligibleClient()
	info := activeSanction()
	info.Waivers = []Waiver{{Comment: "waived"}}
	waived.orgInfoByNPI[testNPI] = info
	require.NoError(t, NewService(waived).CheckOrgEligibility(context.Background(), testNPI))
}

// The batch path never consults the organization's own sanctions; only the
// synchronous confirmation path does.
func TestCheckAoEligibility_IgnoresOrgSanctions(t *testing.T) {
	client := eligibleClient()
	client.orgInfoByNPI[testNPI] = activeSanction()
	svc := NewService(client)

	_, err := svc.CheckAoEligibility(context.Background(), testNPI, IDTypeSSN, hashedTestSSN())
	require.NoError(t, err)
}
