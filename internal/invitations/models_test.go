package invitations

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func pendingInvitation(t Type, age time.Duration) *Invitation {
	return &Invitation{
		Type:      t,
		Status:    StatusPending,
		CreatedAt: time.Now().Add(-age),
	}
}

func TestExpired_Boundary(t *testing.T) {
	require.False(t, pendingInvitation(TypeAuthorizedOfficial, 47*time.Hour).Expired())
	require.True(t, pendingInvitation(TypeAuthorizedOfficial, 48*time.Hour).Expired())
	require.True(t, pendingInvitation(TypeAuthorizedOfficial, 72*time.Hour).Expired())
}

func TestExpiresIn(t *testing.T) {
	inv := pendingInvitation(TypeCredentialDelegate, 24*time.Hour+30*time.Minute)
	hours, minutes := inv.ExpiresIn()
	require.Equal(t, 23, hours)
	require.InDelta(t, 29, minutes, 1)

	expired := pendingInvitation(TypeCredentialDelegate, 50*time.Hour)
	hours, minutes = expired.ExpiresIn()
	require.Zero(t, hours)
	require.Zero(t, minutes)
}

func TestUnacceptableReason(t *testing.T) {
	cases := []struct {
		name string
		inv  *Invitation
		want string
	}{
		{"fresh ao", pendingInvitation(TypeAuthorizedOfficial, time.Hour), ""},
		{"fresh cd", pendingInvitation(TypeCredentialDelegate, time.Hour), ""},
		{"expired ao", pendingInvitation(TypeAuthorizedOfficial, 49*time.Hour), "ao_expired"},
		{"expired cd", pendingInvitation(TypeCredentialDelegate, 49*time.Hour), "cd_expired"},
		{
			"accepted ao",
			&Invitation{Type: TypeAuthorizedOfficial, Status: StatusAccepted, CreatedAt: time.Now()},
			"ao_accepted",
		},
		{
			"accepted cd",
			&Invitation{Type: TypeCredentialDelegate, Status: StatusAccepted, CreatedAt: time.Now()},
			"cd_accepted",
		},
		{
			"renewed",
			&Invitation{Type: TypeAuthorizedOfficial, Status: StatusRenewed, CreatedAt: time.Now()},
			"ao_renewed",
		},
		{
			"cancelled reads as invalid",
			&Invitation{Type: TypeCredentialDelegate, Status: StatusCancelled, CreatedAt: time.Now()},
			"invalid",
		},
		{
			// Cancellation wins over age: a cancelled invitation never
			// advertises that it once existed as an expired one.
			"cancelled and expired",
			&Invitation{Type: TypeAuthorizedOfficial, Status: StatusCancelled, CreatedAt: time.Now().Add(-72 * time.Hour)},
			"invalid",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.inv.UnacceptableReason())
			require.Equal(t, tc.want == "", tc.inv.Acceptable())
		})
	}
}

func TestRenewable(t *testing.T) {
	require.True(t, pendingInvitation(TypeAuthorizedOfficial, 49*time.Hour).Renewable())

	// Not expired yet.
	require.False(t, pendingInvitation(TypeAuthorizedOfficial, time.Hour).Renewable())
	// CD invitations are never renewable.
	require.False(t, pendingInvitation(TypeCredentialDelegate, 49*time.Hour).Renewable())
	// Accepted invitations are never renewable even once old.
	accepted := &Invitation{Type: TypeAuthorizedOfficial, Status: StatusAccepted, CreatedAt: time.Now().Add(-72 * time.Hour)}
	require.False(t, accepted.Renewable())
}

func TestParseType(t *testing.T) {
	for _, valid := range []string{"authorized_official", "credential_delegate"} {
		parsed, err := ParseType(valid)
		require.NoError(t, err)
		require.Equal(t, Type(valid), parsed)
	}

	_, err := ParseType("admin")
	require.Error(t, err)
}

func TestGenerateVerificationCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := GenerateVerificationCode()
		require.NoError(t, err)
		require.Len(t, code, VerificationCodeLength)
		for _, c := range code {
			require.True(t, strings.ContainsRune(codeAlphabet, c), "unexpected character %q", c)
		}
		seen[code] = true
	}
	// 50 draws from a 32^6 space colliding down to a handful would mean a
	// broken generator.
	require.Greater(t, len(seen), 40)
}

func TestConfirmCode(t *testing.T) {
	svc := &Service{}
	code := "ABC234"
	inv := &Invitation{Type: TypeCredentialDelegate, VerificationCode: &code}

	require.NoError(t, svc.ConfirmCode(inv, "ABC234"))
	require.NoError(t, svc.ConfirmCode(inv, " abc234 "))

	require.ErrorIs(t, svc.ConfirmCode(inv, "XYZ789"), ErrCodeMismatch)
	require.ErrorIs(t, svc.ConfirmCode(inv, ""), ErrCodeMismatch)

	noCode := &Invitation{Type: TypeCredentialDelegate}
	require.ErrorIs(t, svc.ConfirmCode(noCode, "ABC234"), ErrCodeMismatch)

	// AO invitations have no code to confirm.
	ao := &Invitation{Type: TypeAuthorizedOfficial}
	require.NoError(t, svc.ConfirmCode(ao, ""))
}
