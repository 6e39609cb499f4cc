package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key"

func TestTokenRoundTrip(t *testing.T) {
	invID := uuid.New()
	claims := &Claims{
		IdentityToken:    "idp-token",
		IdentityTokenExp: time.Now().Add(time.Hour).Unix(),
		InvitationID:     invID.String(),
		FlowStep:         StepIdentityVerified,
		PacID:            "pac-1",
	}

	token, err := CreateToken(claims, testSecret)
	require.NoError(t, err)

	parsed, err := ValidateToken(token, testSecret)
	require.NoError(t, err)
	require.Equal(t, "idp-token", parsed.IdentityToken)
	require.Equal(t, StepIdentityVerified, parsed.StepFor(invID))
	require.Equal(t, "pac-1", parsed.PacID)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	token, err := CreateToken(&Claims{IdentityToken: "idp-token"}, testSecret)
	require.NoError(t, err)

	_, err = ValidateToken(token, "other-secret")
	require.Error(t, err)
}

func TestValidateToken_Garbage(t *testing.T) {
	_, err := ValidateToken("not.a.jwt", testSecret)
	require.Error(t, err)
}

func TestIdentitySession(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	claims := &Claims{IdentityToken: "idp-token", IdentityTokenExp: exp.Unix()}

	sess := claims.IdentitySession()
	require.Equal(t, "idp-token", sess.Token)
	require.True(t, sess.TokenExp.Equal(exp))

	require.True(t, (&Claims{}).IdentitySession().TokenExp.IsZero())
}

func TestStepFor_OtherInvitation(t *testing.T) {
	claims := &Claims{}
	first := uuid.New()
	claims.SetStep(first, StepIdentityVerified)

	require.Equal(t, StepIdentityVerified, claims.StepFor(first))
	require.Empty(t, claims.StepFor(uuid.New()))
}

func TestSetStep_SwitchingInvitationsClearsPacID(t *testing.T) {
	claims := &Claims{}
	first := uuid.New()
	claims.SetStep(first, StepConditionsVerified)
	claims.PacID = "pac-1"

	// Same invitation keeps the pac_id.
	claims.SetStep(first, StepConditionsVerified)
	require.Equal(t, "pac-1", claims.PacID)

	second := uuid.New()
	claims.SetStep(second, StepIdentityVerified)
	require.Empty(t, claims.PacID)
	require.Equal(t, StepIdentityVerified, claims.StepFor(second))
	require.Empty(t, claims.StepFor(first))
}

func TestClearFlow_KeepsIdentityToken(t *testing.T) {
	claims := &Claims{IdentityToken: "idp-token"}
	claims.SetStep(uuid.New(), StepConditionsVerified)
	claims.PacID = "pac-1"

	claims.ClearFlow()
	require.Empty(t, claims.InvitationID)
	require.Empty(t, claims.FlowStep)
	require.Empty(t, claims.PacID)
	require.Equal(t, "idp-token", claims.IdentityToken)
}

func TestFromRequest(t *testing.T) {
	t.Run("no cookie", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		require.Empty(t, FromRequest(r, testSecret).IdentityToken)
	})

	t.Run("garbage cookie", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: CookieName, Value: "garbage"})
		require.Empty(t, FromRequest(r, testSecret).IdentityToken)
	})

	t.Run("valid cookie", func(t *testing.T) {
		token, err := CreateToken(&Claims{IdentityToken: "idp-token"}, testSecret)
		require.NoError(t, err)

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: CookieName, Value: token})
		require.Equal(t, "idp-token", FromRequest(r, testSecret).IdentityToken)
	})
}

func TestWriteAndClear(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, Write(w, &Claims{IdentityToken: "idp-token"}, testSecret, true))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	cookie := cookies[0]
	require.Equal(t, CookieName, cookie.Name)
	require.True(t, cookie.HttpOnly)
	require.True(t, cookie.Secure)
	require.Equal(t, http.SameSiteLaxMode, cookie.SameSite)

	cleared := httptest.NewRecorder()
	Clear(cleared)
	clearedCookie := cleared.Result().Cookies()[0]
	require.Empty(t, clearedCookie.Value)
	require.Negative(t, clearedCookie.MaxAge)
}
