package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dpcportal/portal/internal/orgs"
)

// fakeCredClient tracks deletions and can fail specific credential IDs.
type fakeCredClient struct {
	tokens     []Credential
	keys       []Credential
	ips        []Credential
	listErr    error
	failDelete map[string]bool
	deleted    []string
}

func (f *fakeCredClient) ListClientTokens(context.Context, string) ([]Credential, error) {
	return f.tokens, f.listErr
}
func (f *fakeCredClient) ListPublicKeys(context.Context, string) ([]Credential, error) {
	return f.keys, nil
}
func (f *fakeCredClient) ListIPAddresses(context.Context, string) ([]Credential, error) {
	return f.ips, nil
}

func (f *fakeCredClient) delete(id string) error {
	if f.failDelete[id] {
		return errors.New("delete failed")
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeCredClient) DeleteClientToken(_ context.Context, _, id string) error {
	return f.delete(id)
}
func (f *fakeCredClient) DeletePublicKey(_ context.Context, _, id string) error {
	return f.delete(id)
}
func (f *fakeCredClient) DeleteIPAddress(_ context.Context, _, id string) error {
	return f.delete(id)
}

type auditCall struct {
	credentialType string
	credentialID   string
}

type fakeAudit struct {
	calls []auditCall
}

func (f *fakeAudit) LogCredentialRemoved(_ context.Context, _ uuid.UUID, credentialType, credentialID string) error {
	f.calls = append(f.calls, auditCall{credentialType, credentialID})
	return nil
}

type fakeOrgSource struct {
	org  *orgs.ProviderOrganization
	list []orgs.ProviderOrganization
}

func (f *fakeOrgSource) GetByID(context.Context, uuid.UUID) (*orgs.ProviderOrganization, error) {
	if f.org == nil {
		return nil, orgs.ErrOrgNotFound
	}
	return f.org, nil
}

func (f *fakeOrgSource) ListSynced(context.Context) ([]orgs.ProviderOrganization, error) {
	return f.list, nil
}

func TestRevokeAll_DeletesEveryKindAndAuditsEach(t *testing.T) {
	client := &fakeCredClient{
		tokens: []Credential{{ID: "tok-1"}, {ID: "tok-2"}},
		keys:   []Credential{{ID: "key-1"}},
		ips:    []Credential{{ID: "ip-1"}},
	}
	auditSink := &fakeAudit{}
	policy := NewRevocationPolicy(client, &fakeOrgSource{}, auditSink, nil)

	policy.RevokeAll(context.Background(), uuid.New(), "api-org-1")

	require.ElementsMatch(t, []string{"tok-1", "tok-2", "key-1", "ip-1"}, client.deleted)
	require.Len(t, auditSink.calls, 4)
	require.Contains(t, auditSink.calls, auditCall{TypeClientToken, "tok-1"})
	require.Contains(t, auditSink.calls, auditCall{TypePublicKey, "key-1"})
	require.Contains(t, auditSink.calls, auditCall{TypeIPAddress, "ip-1"})
}

// One failing deletion must not stop the remaining ones, and the failed
// credential gets no audit row.
func TestRevokeAll_FailedDeletionDoesNotStopOthers(t *testing.T) {
	client := &fakeCredClient{
		tokens:     []Credential{{ID: "tok-1"}, {ID: "tok-2"}},
		keys:       []Credential{{ID: "key-1"}},
		failDelete: map[string]bool{"tok-1": true},
	}
	auditSink := &fakeAudit{}
	policy := NewRevocationPolicy(client, &fakeOrgSource{}, auditSink, nil)

	policy.RevokeAll(context.Background(), uuid.New(), "api-org-1")

	require.ElementsMatch(t, []string{"tok-2", "key-1"}, client.deleted)
	require.Len(t, auditSink.calls, 2)
	require.NotContains(t, auditSink.calls, auditCall{TypeClientToken, "tok-1"})
}

// A failing list for one kind still lets the other kinds revoke.
func TestRevokeAll_ListFailureSkipsKindOnly(t *testing.T) {
	client := &fakeCredClient{
		listErr: errors.New("api down"),
		keys:    []Credential{{ID: "key-1"}},
	}
	auditSink := &fakeAudit{}
	policy := NewRevocationPolicy(client, &fakeOrgSource{}, auditSink, nil)

	policy.RevokeAll(context.Background(), uuid.New(), "api-org-1")

	require.Equal(t, []string{"key-1"}, client.deleted)
}

func TestRevokeAll_NoCredentialsNoAudit(t *testing.T) {
	client := &fakeCredClient{}
	auditSink := &fakeAudit{}
	policy := NewRevocationPolicy(client, &fakeOrgSource{}, auditSink, nil)

	policy.RevokeAll(context.Background(), uuid.New(), "api-org-1")

	require.Empty(t, client.deleted)
	require.Empty(t, auditSink.calls)
}

func TestOrgRejected_SkipsUnsyncedOrg(t *testing.T) {
	client := &fakeCredClient{tokens: []Credential{{ID: "tok-1"}}}
	source := &fakeOrgSource{org: &orgs.ProviderOrganization{ID: uuid.New()}}
	policy := NewRevocationPolicy(client, source, &fakeAudit{}, nil)

	policy.OrgRejected(context.Background(), source.org.ID)

	require.Empty(t, client.deleted)
}

func TestOrgRejected_RevokesSyncedOrg(t *testing.T) {
	apiID := "api-org-1"
	client := &fakeCredClient{tokens: []Credential{{ID: "tok-1"}}}
	source := &fakeOrgSource{org: &orgs.ProviderOrganization{ID: uuid.New(), DpcAPIOrgID: &apiID}}
	auditSink := &fakeAudit{}
	policy := NewRevocationPolicy(client, source, auditSink, nil)

	policy.OrgRejected(context.Background(), source.org.ID)

	require.Equal(t, []string{"tok-1"}, client.deleted)
	require.Len(t, auditSink.calls, 1)
}

func TestStatusJob_CountsCompleteness(t *testing.T) {
	full := "api-full"
	partial := "api-partial"
	source := &fakeOrgSource{list: []orgs.ProviderOrganization{
		{ID: uuid.New(), DpcAPIOrgID: &full},
		{ID: uuid.New(), DpcAPIOrgID: &partial},
	}}

	// Both orgs see the same fake counts; with keys but no IPs neither is
	// complete.
	client := &fakeCredClient{
		tokens: []Credential{{ID: "tok-1"}},
		keys:   []Credential{{ID: "key-1"}},
	}
	job := NewStatusJob(client, source)
	require.NoError(t, job.Run(context.Background()))

	client.ips = []Credential{{ID: "ip-1"}}
	require.NoError(t, job.Run(context.Background()))
}

func TestCounts_Complete(t *testing.T) {
	require.True(t, Counts{ClientTokens: 1, PublicKeys: 2, IPAddresses: 3}.Complete())
	require.False(t, Counts{ClientTokens: 1, PublicKeys: 2}.Complete())
	require.False(t, Counts{}.Complete())
}
