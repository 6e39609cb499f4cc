package invitations

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dpcportal/portal/internal/apperrors"
	"github.com/dpcportal/portal/internal/gateway"
	"github.com/dpcportal/portal/internal/identity"
	"github.com/dpcportal/portal/internal/orgs"
	"github.com/dpcportal/portal/internal/session"
	"github.com/dpcportal/portal/internal/verification"
)

type fakeIdentityClient struct {
	info identity.UserInfo
	err  error
}

func (f *fakeIdentityClient) UserInfo(_ context.Context, _ identity.Session) (identity.UserInfo, error) {
	return f.info, f.err
}

type fakeEligibility struct {
	result gateway.Result
	err    error

	calls  int
	gotNPI string
	gotSSN string
}

func (f *fakeEligibility) CheckEligibility(_ context.Context, orgNPI, hashedSSN string) (gateway.Result, error) {
	f.calls++
	f.gotNPI = orgNPI
	f.gotSSN = hashedSSN
	return f.result, f.err
}

type fakeOrgLookup struct {
	org *orgs.ProviderOrganization
}

func (f *fakeOrgLookup) GetByID(_ context.Context, _ uuid.UUID) (*orgs.ProviderOrganization, error) {
	if f.org == nil {
		return nil, orgs.ErrOrgNotFound
	}
	return f.org, nil
}

func confirmHandlers(checker *fakeEligibility, org *orgs.ProviderOrganization, info identity.UserInfo) *Handlers {
	return &Handlers{
		svc:           &Service{},
		orgs:          &fakeOrgLookup{org: org},
		identity:      &fakeIdentityClient{info: info},
		eligibility:   checker,
		sessionSecret: "test-secret",
	}
}

func aoInvitation(orgID uuid.UUID) *Invitation {
	return &Invitation{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Type:           TypeAuthorizedOfficial,
		Status:         StatusPending,
		CreatedAt:      time.Now(),
	}
}

func aoUserInfo() identity.UserInfo {
	return identity.UserInfo{
		Sub:   "idp-sub-1",
		Email: "ao@example.com",
		SSN:   "123-45-6789",
	}
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp apperrors.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Error.Code
}

func TestConfirmAo_SanctionedOrgRejected(t *testing.T) {
	org := &orgs.ProviderOrganization{ID: uuid.New(), NPI: "1234567893"}
	checker := &fakeEligibility{result: gateway.Result{
		Success: false,
		Reason:  verification.ReasonOrgMedSanctions,
	}}
	h := confirmHandlers(checker, org, aoUserInfo())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/confirm", nil)
	sess := &session.Claims{}

	ok := h.confirmAo(rec, req, aoInvitation(org.ID), sess)
	require.False(t, ok)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "org_med_sanctions", decodeErrorCode(t, rec))
	require.Empty(t, sess.PacID)
}

func TestConfirmAo_AoCheckRejected(t *testing.T) {
	org := &orgs.ProviderOrganization{ID: uuid.New(), NPI: "1234567893"}
	checker := &fakeEligibility{result: gateway.Result{
		Success: false,
		Reason:  verification.ReasonNotAuthorizedOfficial,
	}}
	h := confirmHandlers(checker, org, aoUserInfo())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/confirm", nil)

	ok := h.confirmAo(rec, req, aoInvitation(org.ID), &session.Claims{})
	require.False(t, ok)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "user_not_authorized_official", decodeErrorCode(t, rec))
}

func TestConfirmAo_SuccessCarriesPacID(t *testing.T) {
	org := &orgs.ProviderOrganization{ID: uuid.New(), NPI: "1234567893"}
	checker := &fakeEligibility{result: gateway.Result{
		Success: true,
		AoRole:  &gateway.EnrollmentRole{RoleCode: "10", PacID: "pac-42"},
	}}
	h := confirmHandlers(checker, org, aoUserInfo())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/confirm", nil)
	sess := &session.Claims{}

	ok := h.confirmAo(rec, req, aoInvitation(org.ID), sess)
	require.True(t, ok)
	require.Equal(t, "pac-42", sess.PacID)

	require.Equal(t, "1234567893", checker.gotNPI)
	sum := sha256.Sum256([]byte("123456789"))
	require.Equal(t, hex.EncodeToString(sum[:]), checker.gotSSN)
}

func TestConfirmAo_GatewayDown(t *testing.T) {
	org := &orgs.ProviderOrganization{ID: uuid.New(), NPI: "1234567893"}
	checker := &fakeEligibility{err: &verification.GatewayError{Op: "enrollments", Err: context.DeadlineExceeded}}
	h := confirmHandlers(checker, org, aoUserInfo())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/confirm", nil)

	ok := h.confirmAo(rec, req, aoInvitation(org.ID), &session.Claims{})
	require.False(t, ok)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestConfirmAo_MissingSSN(t *testing.T) {
	org := &orgs.ProviderOrganization{ID: uuid.New(), NPI: "1234567893"}
	checker := &fakeEligibility{}
	info := aoUserInfo()
	info.SSN = ""
	h := confirmHandlers(checker, org, info)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/confirm", nil)

	ok := h.confirmAo(rec, req, aoInvitation(org.ID), &session.Claims{})
	require.False(t, ok)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Zero(t, checker.calls)
}
