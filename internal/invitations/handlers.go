package invitations

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dpcportal/portal/internal/apperrors"
	"github.com/dpcportal/portal/internal/gateway"
	"github.com/dpcportal/portal/internal/identity"
	"github.com/dpcportal/portal/internal/metrics"
	"github.com/dpcportal/portal/internal/orgs"
	"github.com/dpcportal/portal/internal/session"
	"github.com/dpcportal/portal/internal/users"
)

// IdentityClient fetches verified identity attributes for the logged-in user.
type IdentityClient interface {
	UserInfo(ctx context.Context, sess identity.Session) (identity.UserInfo, error)
}

// EligibilityChecker runs the synchronous eligibility check during invitation
// confirmation: the authorized-official checks plus the organization's own
// sanction standing.
type EligibilityChecker interface {
	CheckEligibility(ctx context.Context, orgNPI, hashedSSN string) (gateway.Result, error)
}

// OrgSource provides the organization lookups the flow needs. Satisfied by
// orgs.Service.
type OrgSource interface {
	GetByID(ctx context.Context, orgID uuid.UUID) (*orgs.ProviderOrganization, error)
}

// UserSource resolves logged-in identities to portal users. Satisfied by
// users.Service.
type UserSource interface {
	GetByProviderUID(ctx context.Context, provider, uid string) (*users.User, error)
}

// Handlers serves the invitation flow endpoints.
type Handlers struct {
	svc           *Service
	orgs          OrgSource
	users         UserSource
	identity      IdentityClient
	eligibility   EligibilityChecker
	metrics       *metrics.Metrics
	sessionSecret string
	isProduction  bool
}

// NewHandlers creates the invitation handler set.
func NewHandlers(svc *Service, orgSvc OrgSource, userSvc UserSource, identityClient IdentityClient, eligibility EligibilityChecker, m *metrics.Metrics, sessionSecret string, isProduction bool) *Handlers {
	return &Handlers{
		svc:           svc,
		orgs:          orgSvc,
		users:         userSvc,
		identity:      identityClient,
		eligibility:   eligibility,
		metrics:       m,
		sessionSecret: sessionSecret,
		isProduction:  isProduction,
	}
}

// Mount registers the invitation routes on a router already scoped to
// /organizations/{org_id}/invitations.
func (h *Handlers) Mount(r chi.Router) {
	r.Post("/", h.HandleCreate)
	r.Get("/", h.HandleList)
	r.Get("/{invitation_id}", h.HandleShow)
	r.Post("/{invitation_id}/accept", h.HandleAccept)
	r.Post("/{invitation_id}/confirm", h.HandleConfirm)
	r.Post("/{invitation_id}/register", h.HandleRegister)
	r.Post("/{invitation_id}/renew", h.HandleRenew)
	r.Delete("/{invitation_id}", h.HandleCancel)
}

// invitationResponse is the JSON shape of an invitation in flow responses.
// Never includes the verification code.
type invitationResponse struct {
	ID               uuid.UUID `json:"id"`
	OrganizationID   uuid.UUID `json:"organization_id"`
	Type             Type      `json:"invitation_type"`
	Status           Status    `json:"status"`
	ExpiresInHours   int       `json:"expires_in_hours"`
	ExpiresInMinutes int       `json:"expires_in_minutes"`
	RequiresCode     bool      `json:"requires_verification_code"`
}

func toResponse(inv *Invitation) invitationResponse {
	hours, minutes := inv.ExpiresIn()
	return invitationResponse{
		ID:               inv.ID,
		OrganizationID:   inv.OrganizationID,
		Type:             inv.Type,
		Status:           inv.Status,
		ExpiresInHours:   hours,
		ExpiresInMinutes: minutes,
		RequiresCode:     inv.Type == TypeCredentialDelegate,
	}
}

// load resolves the org and invitation IDs from the URL. A malformed ID, a
// missing invitation and an org mismatch all read as 404.
func (h *Handlers) load(w http.ResponseWriter, r *http.Request) (*Invitation, bool) {
	orgID, err := uuid.Parse(chi.URLParam(r, "org_id"))
	if err != nil {
		apperrors.WriteNotFound(w, r, "Invitation not found")
		return nil, false
	}
	invitationID, err := uuid.Parse(chi.URLParam(r, "invitation_id"))
	if err != nil {
		apperrors.WriteNotFound(w, r, "Invitation not found")
		return nil, false
	}

	inv, err := h.svc.Get(r.Context(), orgID, invitationID)
	if err != nil {
		if errors.Is(err, ErrInvitationNotFound) {
			apperrors.WriteNotFound(w, r, "Invitation not found")
			return nil, false
		}
		log.Error().Err(err).Msg("Failed to load invitation")
		apperrors.WriteInternalError(w, r, "Failed to load invitation")
		return nil, false
	}
	return inv, true
}

// requireAcceptable gates flow endpoints on the invitation's state, writing a
// 403 whose code identifies the state (cancelled reads as "invalid" so a
// withdrawn invitation leaks nothing about its history).
func requireAcceptable(w http.ResponseWriter, r *http.Request, inv *Invitation) bool {
	if reason := inv.UnacceptableReason(); reason != "" {
		apperrors.WriteError(w, r, http.StatusForbidden, reason, "Invitation can no longer be used")
		return false
	}
	return true
}

// userInfo fetches identity attributes for the session, mapping token
// problems to a login prompt and provider outages to 503.
func (h *Handlers) userInfo(w http.ResponseWriter, r *http.Request, sess *session.Claims) (identity.UserInfo, bool) {
	info, err := h.identity.UserInfo(r.Context(), sess.IdentitySession())
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrNoToken),
			errors.Is(err, identity.ErrNoTokenExp),
			errors.Is(err, identity.ErrExpiredToken),
			errors.Is(err, identity.ErrUnauthorized):
			apperrors.WriteUnauthorized(w, r, "Login required")
		default:
			log.Error().Err(err).Msg("Identity provider request failed")
			apperrors.WriteServiceUnavailable(w, r, "Identity provider unavailable, try again later")
		}
		return identity.UserInfo{}, false
	}
	return info, true
}

// createRequest is the JSON body for creating an invitation.
type createRequest struct {
	InvitationType           string `json:"invitation_type"`
	InvitedGivenName         string `json:"invited_given_name"`
	InvitedFamilyName        string `json:"invited_family_name"`
	InvitedPhone             string `json:"invited_phone"`
	InvitedEmail             string `json:"invited_email"`
	InvitedEmailConfirmation string `json:"invited_email_confirmation"`
}

// HandleCreate creates a new invitation for an organization. Credential
// delegate invitations require a logged-in portal user as the inviter.
func (h *Handlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuid.Parse(chi.URLParam(r, "org_id"))
	if err != nil {
		apperrors.WriteNotFound(w, r, "Organization not found")
		return
	}
	if _, err := h.orgs.GetByID(r.Context(), orgID); err != nil {
		if errors.Is(err, orgs.ErrOrgNotFound) {
			apperrors.WriteNotFound(w, r, "Organization not found")
			return
		}
		log.Error().Err(err).Msg("Failed to load organization")
		apperrors.WriteInternalError(w, r, "Failed to load organization")
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteBadRequest(w, r, "Invalid JSON body")
		return
	}

	invType, err := ParseType(req.InvitationType)
	if err != nil {
		apperrors.WriteBadRequest(w, r, "Invalid invitation type")
		return
	}

	params := CreateParams{
		Type:              invType,
		OrganizationID:    orgID,
		GivenName:         req.InvitedGivenName,
		FamilyName:        req.InvitedFamilyName,
		PhoneRaw:          req.InvitedPhone,
		Email:             req.InvitedEmail,
		EmailConfirmation: req.InvitedEmailConfirmation,
	}

	if invType == TypeCredentialDelegate {
		sess := session.FromRequest(r, h.sessionSecret)
		info, ok := h.userInfo(w, r, sess)
		if !ok {
			return
		}
		actor, err := h.users.GetByProviderUID(r.Context(), users.ProviderOpenIDConnect, info.Sub)
		if err != nil {
			if errors.Is(err, users.ErrUserNotFound) {
				apperrors.WriteUnauthorized(w, r, "Login required")
				return
			}
			log.Error().Err(err).Msg("Failed to load inviting user")
			apperrors.WriteInternalError(w, r, "Failed to load inviting user")
			return
		}
		params.InvitedBy = &actor.ID
	}

	inv, err := h.svc.Create(r.Context(), params)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			apperrors.WriteValidationError(w, r, verr.Fields)
			return
		}
		log.Error().Err(err).Msg("Failed to create invitation")
		apperrors.WriteInternalError(w, r, "Failed to create invitation")
		return
	}

	h.metrics.IncrementInvitationEvent(string(inv.Type), "created")
	apperrors.WriteSuccess(w, r, http.StatusCreated, toResponse(inv))
}

// HandleList returns an organization's pending invitations for its members.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuid.Parse(chi.URLParam(r, "org_id"))
	if err != nil {
		apperrors.WriteNotFound(w, r, "Organization not found")
		return
	}

	sess := session.FromRequest(r, h.sessionSecret)
	info, ok := h.userInfo(w, r, sess)
	if !ok {
		return
	}
	if _, err := h.users.GetByProviderUID(r.Context(), users.ProviderOpenIDConnect, info.Sub); err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			apperrors.WriteUnauthorized(w, r, "Login required")
			return
		}
		log.Error().Err(err).Msg("Failed to load user")
		apperrors.WriteInternalError(w, r, "Failed to load user")
		return
	}

	invs, err := h.svc.ListPendingForOrg(r.Context(), orgID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list invitations")
		apperrors.WriteInternalError(w, r, "Failed to list invitations")
		return
	}

	responses := make([]invitationResponse, 0, len(invs))
	for i := range invs {
		responses = append(responses, toResponse(&invs[i]))
	}
	apperrors.WriteSuccess(w, r, http.StatusOK, responses)
}

// HandleShow returns the invitation's flow state for the landing page.
func (h *Handlers) HandleShow(w http.ResponseWriter, r *http.Request) {
	inv, ok := h.load(w, r)
	if !ok {
		return
	}
	if !requireAcceptable(w, r, inv) {
		return
	}
	apperrors.WriteSuccess(w, r, http.StatusOK, toResponse(inv))
}

// HandleAccept verifies the logged-in user's identity against the invitation
// and advances the flow to identity_verified. A mismatch never advances state.
func (h *Handlers) HandleAccept(w http.ResponseWriter, r *http.Request) {
	inv, ok := h.load(w, r)
	if !ok {
		return
	}
	if !requireAcceptable(w, r, inv) {
		return
	}

	sess := session.FromRequest(r, h.sessionSecret)
	info, ok := h.userInfo(w, r, sess)
	if !ok {
		return
	}

	var matched bool
	var err error
	switch inv.Type {
	case TypeAuthorizedOfficial:
		matched, err = identity.EmailMatch(inv.InvitedEmail, info)
	case TypeCredentialDelegate:
		matched, err = identity.CDMatch(identity.CDClaims{
			GivenName:  inv.InvitedGivenName,
			FamilyName: inv.InvitedFamilyName,
			Email:      inv.InvitedEmail,
			Phone:      inv.InvitedPhone,
		}, info)
	}
	if err != nil {
		var miss *identity.MissingInfoError
		if errors.As(err, &miss) {
			log.Warn().Str("field", miss.Field).Msg("Identity response missing required field")
			apperrors.WriteServiceUnavailable(w, r, "Identity information incomplete, try again later")
			return
		}
		log.Error().Err(err).Msg("Identity match failed")
		apperrors.WriteInternalError(w, r, "Identity match failed")
		return
	}
	if !matched {
		apperrors.WriteError(w, r, http.StatusForbidden, "identity_mismatch", "Verified identity does not match this invitation")
		return
	}

	sess.SetStep(inv.ID, session.StepIdentityVerified)
	if err := session.Write(w, sess, h.sessionSecret, h.isProduction); err != nil {
		log.Error().Err(err).Msg("Failed to write session")
		apperrors.WriteInternalError(w, r, "Failed to update session")
		return
	}
	apperrors.WriteSuccess(w, r, http.StatusOK, toResponse(inv))
}

// confirmRequest is the JSON body for the confirm step.
type confirmRequest struct {
	VerificationCode string `json:"verification_code"`
}

// HandleConfirm runs the second flow step: the AO eligibility check for
// authorized officials, the one-time code check for credential delegates.
// A wrong code (400) and a failed eligibility check (403) stay
// distinguishable so callers can re-render the form vs deny access.
func (h *Handlers) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	inv, ok := h.load(w, r)
	if !ok {
		return
	}
	if !requireAcceptable(w, r, inv) {
		return
	}

	sess := session.FromRequest(r, h.sessionSecret)
	step := sess.StepFor(inv.ID)
	if step != session.StepIdentityVerified && step != session.StepConditionsVerified {
		apperrors.WriteError(w, r, http.StatusForbidden, "identity_not_verified", "Complete identity verification first")
		return
	}

	switch inv.Type {
	case TypeAuthorizedOfficial:
		if !h.confirmAo(w, r, inv, sess) {
			return
		}
	case TypeCredentialDelegate:
		var req confirmRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid JSON body")
			return
		}
		if err := h.svc.ConfirmCode(inv, req.VerificationCode); err != nil {
			apperrors.WriteError(w, r, http.StatusBadRequest, "code_mismatch", "Verification code does not match")
			return
		}
	}

	sess.SetStep(inv.ID, session.StepConditionsVerified)
	if err := session.Write(w, sess, h.sessionSecret, h.isProduction); err != nil {
		log.Error().Err(err).Msg("Failed to write session")
		apperrors.WriteInternalError(w, r, "Failed to update session")
		return
	}
	apperrors.WriteSuccess(w, r, http.StatusOK, toResponse(inv))
}

// confirmAo checks that the logged-in user is an authorized official of the
// organization and that the organization itself stands clear of sanctions,
// carrying the matched pac_id in the session for register.
func (h *Handlers) confirmAo(w http.ResponseWriter, r *http.Request, inv *Invitation, sess *session.Claims) bool {
	info, ok := h.userInfo(w, r, sess)
	if !ok {
		return false
	}
	hashedSSN, err := info.HashedSSN()
	if err != nil {
		apperrors.WriteServiceUnavailable(w, r, "Identity information incomplete, try again later")
		return false
	}

	org, err := h.orgs.GetByID(r.Context(), inv.OrganizationID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load organization")
		apperrors.WriteInternalError(w, r, "Failed to load organization")
		return false
	}

	result, err := h.eligibility.CheckEligibility(r.Context(), org.NPI, hashedSSN)
	if err != nil {
		log.Error().Err(err).Str("org_npi", org.NPI).Msg("Eligibility gateway request failed")
		apperrors.WriteServiceUnavailable(w, r, "Verification service unavailable, try again later")
		return false
	}
	if !result.Success {
		apperrors.WriteError(w, r, http.StatusForbidden, string(result.Reason), "Authorized official check failed")
		return false
	}

	sess.PacID = result.AoRole.PacID
	return true
}

// HandleRegister completes the flow: creates the user and org link, clears
// the invitation's PII and drops the flow state from the session.
func (h *Handlers) HandleRegister(w http.ResponseWriter, r *http.Request) {
	inv, ok := h.load(w, r)
	if !ok {
		return
	}
	if !requireAcceptable(w, r, inv) {
		return
	}

	sess := session.FromRequest(r, h.sessionSecret)
	if sess.StepFor(inv.ID) != session.StepConditionsVerified {
		apperrors.WriteError(w, r, http.StatusForbidden, "conditions_not_verified", "Complete invitation confirmation first")
		return
	}

	info, ok := h.userInfo(w, r, sess)
	if !ok {
		return
	}

	accepted, err := h.svc.Accept(r.Context(), inv.OrganizationID, inv.ID, AcceptParams{
		Provider:   users.ProviderOpenIDConnect,
		UID:        info.Sub,
		Email:      info.Email,
		GivenName:  info.GivenName,
		FamilyName: info.FamilyName,
		PacID:      sess.PacID,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvitationNotFound):
			apperrors.WriteNotFound(w, r, "Invitation not found")
		case errors.Is(err, ErrNotAcceptable):
			apperrors.WriteError(w, r, http.StatusForbidden, inv.UnacceptableReason(), "Invitation can no longer be used")
		default:
			log.Error().Err(err).Msg("Failed to accept invitation")
			apperrors.WriteInternalError(w, r, "Failed to complete registration")
		}
		return
	}

	sess.ClearFlow()
	if err := session.Write(w, sess, h.sessionSecret, h.isProduction); err != nil {
		log.Error().Err(err).Msg("Failed to write session")
	}

	h.metrics.IncrementInvitationEvent(string(accepted.Type), "accepted")
	apperrors.WriteSuccess(w, r, http.StatusOK, map[string]string{
		"status":        "registered",
		"invitation_id": accepted.ID.String(),
	})
}

// HandleRenew issues a replacement for an expired authorized official
// invitation.
func (h *Handlers) HandleRenew(w http.ResponseWriter, r *http.Request) {
	inv, ok := h.load(w, r)
	if !ok {
		return
	}

	renewed, err := h.svc.Renew(r.Context(), inv.OrganizationID, inv.ID)
	if err != nil {
		if errors.Is(err, ErrCannotRenew) {
			apperrors.WriteError(w, r, http.StatusForbidden, "cannot_renew", "Only expired authorized official invitations can be renewed")
			return
		}
		log.Error().Err(err).Msg("Failed to renew invitation")
		apperrors.WriteInternalError(w, r, "Failed to renew invitation")
		return
	}

	h.metrics.IncrementInvitationEvent(string(renewed.Type), "renewed")
	apperrors.WriteSuccess(w, r, http.StatusCreated, toResponse(renewed))
}

// HandleCancel withdraws a pending invitation.
func (h *Handlers) HandleCancel(w http.ResponseWriter, r *http.Request) {
	inv, ok := h.load(w, r)
	if !ok {
		return
	}

	sess := session.FromRequest(r, h.sessionSecret)
	info, ok := h.userInfo(w, r, sess)
	if !ok {
		return
	}
	actor, err := h.users.GetByProviderUID(r.Context(), users.ProviderOpenIDConnect, info.Sub)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			apperrors.WriteUnauthorized(w, r, "Login required")
			return
		}
		log.Error().Err(err).Msg("Failed to load cancelling user")
		apperrors.WriteInternalError(w, r, "Failed to load user")
		return
	}

	if err := h.svc.Cancel(r.Context(), inv.OrganizationID, inv.ID, actor.ID); err != nil {
		if errors.Is(err, ErrNotPending) {
			apperrors.WriteConflict(w, r, "Invitation is not pending")
			return
		}
		log.Error().Err(err).Msg("Failed to cancel invitation")
		apperrors.WriteInternalError(w, r, "Failed to cancel invitation")
		return
	}

	h.metrics.IncrementInvitationEvent(string(inv.Type), "cancelled")
	apperrors.WriteSuccess(w, r, http.StatusOK, map[string]string{"status": "cancelled"})
}
