// Package session manages the signed cookie that carries a visitor's
// identity-provider token and their progress through an invitation flow.
package session

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dpcportal/portal/internal/identity"
)

const (
	// CookieName is the name of the session cookie
	CookieName = "dpc_session"

	// Lifetime bounds the signed cookie itself; the identity token inside
	// usually expires sooner.
	Lifetime = 12 * time.Hour
)

// Flow step values for an invitation in progress. Confirm requires
// StepIdentityVerified; register requires StepConditionsVerified.
const (
	StepIdentityVerified   = "identity_verified"
	StepConditionsVerified = "conditions_verified"
)

// Claims is the JWT payload of the session cookie. The identity token is
// opaque to us; it is replayed to the identity provider's user-info endpoint
// on every step so a logout upstream takes effect immediately.
type Claims struct {
	IdentityToken    string `json:"identity_token,omitempty"`
	IdentityTokenExp int64  `json:"identity_token_exp,omitempty"`

	// InvitationID and FlowStep track the one invitation flow in progress.
	InvitationID string `json:"invitation_id,omitempty"`
	FlowStep     string `json:"flow_step,omitempty"`

	// PacID is set when the confirm step's eligibility check identifies the
	// authorized official; consumed and cleared by register.
	PacID string `json:"pac_id,omitempty"`

	jwt.RegisteredClaims
}

// IdentitySession converts the stored token fields for the user-info client.
func (c *Claims) IdentitySession() identity.Session {
	var exp time.Time
	if c.IdentityTokenExp != 0 {
		exp = time.Unix(c.IdentityTokenExp, 0)
	}
	return identity.Session{
		Token:    c.IdentityToken,
		TokenExp: exp,
	}
}

// StepFor returns the flow step recorded for an invitation, or "" when the
// session tracks a different invitation.
func (c *Claims) StepFor(invitationID uuid.UUID) string {
	if c.InvitationID != invitationID.String() {
		return ""
	}
	return c.FlowStep
}

// SetStep records flow progress for an invitation. Switching invitations
// discards the previous flow's step and pac_id.
func (c *Claims) SetStep(invitationID uuid.UUID, step string) {
	if c.InvitationID != invitationID.String() {
		c.PacID = ""
	}
	c.InvitationID = invitationID.String()
	c.FlowStep = step
}

// ClearFlow drops all invitation flow state, keeping the identity token.
func (c *Claims) ClearFlow() {
	c.InvitationID = ""
	c.FlowStep = ""
	c.PacID = ""
}

// CreateToken signs the claims with HS256.
func CreateToken(claims *Claims, secret string) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(Lifetime)),
		IssuedAt:  jwt.NewNumericDate(now),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// ValidateToken parses and validates a session token.
// Returns an error if the token is invalid, expired, or malformed.
func ValidateToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// FromRequest reads and validates the session cookie. A missing or invalid
// cookie yields fresh empty claims, never an error; all flow steps gate on
// claim contents.
func FromRequest(r *http.Request, secret string) *Claims {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return &Claims{}
	}

	claims, err := ValidateToken(cookie.Value, secret)
	if err != nil {
		return &Claims{}
	}
	return claims
}

// Write signs the claims and sets the session cookie.
// Cookie is HttpOnly, SameSite=Lax, and Secure in production.
func Write(w http.ResponseWriter, claims *Claims, secret string, isProduction bool) error {
	token, err := CreateToken(claims, secret)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(Lifetime / time.Second),
		HttpOnly: true,
		Secure:   isProduction,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Clear removes the session cookie.
func Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
