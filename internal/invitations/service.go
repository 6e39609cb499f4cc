package invitations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/dpcportal/portal/internal/audit"
	"github.com/dpcportal/portal/internal/validation"
)

// Notifier delivers invitation emails. Implementations are fire-and-forget:
// delivery failures must not block lifecycle transitions.
type Notifier interface {
	SendInvitationEmail(ctx context.Context, invitation *Invitation, givenName, familyName string)
}

// Service drives the invitation lifecycle.
type Service struct {
	pool     *pgxpool.Pool
	audit    *audit.Writer
	notifier Notifier
}

// NewService creates an invitation service.
func NewService(pool *pgxpool.Pool, auditWriter *audit.Writer, notifier Notifier) *Service {
	return &Service{pool: pool, audit: auditWriter, notifier: notifier}
}

// CreateParams are the fields supplied when inviting someone.
type CreateParams struct {
	Type              Type
	OrganizationID    uuid.UUID
	InvitedBy         *uuid.UUID
	GivenName         string
	FamilyName        string
	PhoneRaw          string
	Email             string
	EmailConfirmation string
}

func (p *CreateParams) validate() *ValidationError {
	verr := &ValidationError{}

	email := strings.TrimSpace(p.Email)
	if email == "" {
		verr.add("invited_email", "can't be blank")
	}
	if err := validation.ValidateEmail(email); err != nil {
		verr.add("invited_email", "is invalid")
	}
	confirmation := strings.TrimSpace(p.EmailConfirmation)
	if email != "" && confirmation == "" {
		verr.add("invited_email_confirmation", "can't be blank")
	} else if !strings.EqualFold(email, confirmation) {
		verr.add("invited_email_confirmation", "doesn't match invited email")
	}

	if p.Type == TypeCredentialDelegate {
		if strings.TrimSpace(p.GivenName) == "" {
			verr.add("invited_given_name", "can't be blank")
		}
		if strings.TrimSpace(p.FamilyName) == "" {
			verr.add("invited_family_name", "can't be blank")
		}
		if strings.TrimSpace(p.PhoneRaw) == "" {
			verr.add("phone_raw", "can't be blank")
		}
		if err := validation.ValidatePhone(p.PhoneRaw); err != nil {
			verr.add("invited_phone", "is invalid")
		}
		if p.InvitedBy == nil {
			verr.add("invited_by", "can't be blank")
		}
	}

	if verr.empty() {
		return nil
	}
	return verr
}

// Create validates and persists a new pending invitation, writes the audit
// entry and sends the invitation email. Field-level problems come back as a
// *ValidationError, not an exception.
func (s *Service) Create(ctx context.Context, params CreateParams) (*Invitation, error) {
	if _, err := ParseType(string(params.Type)); err != nil {
		return nil, err
	}
	if verr := params.validate(); verr != nil {
		return nil, verr
	}

	invitation := &Invitation{
		OrganizationID:    params.OrganizationID,
		Type:              params.Type,
		Status:            StatusPending,
		InvitedGivenName:  strings.TrimSpace(params.GivenName),
		InvitedFamilyName: strings.TrimSpace(params.FamilyName),
		InvitedPhone:      validation.Digits(params.PhoneRaw),
		InvitedEmail:      strings.TrimSpace(params.Email),
	}
	if params.InvitedBy != nil {
		invitation.InvitedBy = uuid.NullUUID{UUID: *params.InvitedBy, Valid: true}
	}

	if params.Type == TypeCredentialDelegate {
		code, err := GenerateVerificationCode()
		if err != nil {
			return nil, err
		}
		invitation.VerificationCode = &code
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO invitations (
		  provider_organization_id, invited_by, invitation_type, status,
		  invited_given_name, invited_family_name, invited_phone,
		  invited_email, verification_code
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`,
		invitation.OrganizationID,
		invitation.InvitedBy,
		invitation.Type,
		invitation.Status,
		invitation.InvitedGivenName,
		invitation.InvitedFamilyName,
		invitation.InvitedPhone,
		invitation.InvitedEmail,
		invitation.VerificationCode,
	).Scan(&invitation.ID, &invitation.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create invitation: %w", err)
	}

	if err := s.audit.LogInvitationCreated(ctx, invitation.OrganizationID, params.InvitedBy, invitation.ID, string(invitation.Type)); err != nil {
		log.Warn().Err(err).Msg("Failed to audit invitation creation")
	}
	s.notifier.SendInvitationEmail(ctx, invitation, invitation.InvitedGivenName, invitation.InvitedFamilyName)

	return invitation, nil
}

const invitationColumns = `
	id, provider_organization_id, invited_by, invitation_type, status,
	invited_given_name, invited_family_name, invited_phone, invited_email,
	verification_code, cancelled_at, created_at
`

func scanInvitation(row pgx.Row) (*Invitation, error) {
	var inv Invitation
	err := row.Scan(
		&inv.ID,
		&inv.OrganizationID,
		&inv.InvitedBy,
		&inv.Type,
		&inv.Status,
		&inv.InvitedGivenName,
		&inv.InvitedFamilyName,
		&inv.InvitedPhone,
		&inv.InvitedEmail,
		&inv.VerificationCode,
		&inv.CancelledAt,
		&inv.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// Get loads an invitation scoped to an organization. An org mismatch is
// indistinguishable from a missing invitation.
func (s *Service) Get(ctx context.Context, orgID, invitationID uuid.UUID) (*Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations WHERE id = $1 AND provider_organization_id = $2`

	inv, err := scanInvitation(s.pool.QueryRow(ctx, query, invitationID, orgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvitationNotFound
		}
		return nil, fmt.Errorf("failed to load invitation: %w", err)
	}
	return inv, nil
}

// ListPendingForOrg returns an organization's open invitations, newest first.
func (s *Service) ListPendingForOrg(ctx context.Context, orgID uuid.UUID) ([]Invitation, error) {
	query := `
		SELECT ` + invitationColumns + `
		FROM invitations
		WHERE provider_organization_id = $1 AND status = 'pending'
		ORDER BY created_at DESC
	`

	rows, err := s.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	var invs []Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		invs = append(invs, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invitations: %w", err)
	}
	return invs, nil
}

// ConfirmCode checks a credential delegate's one-time code. A mismatch is an
// expected control-flow outcome (the caller re-renders the form), never an
// access denial.
func (s *Service) ConfirmCode(invitation *Invitation, code string) error {
	if invitation.Type != TypeCredentialDelegate {
		return nil
	}
	if invitation.VerificationCode == nil || code == "" {
		return ErrCodeMismatch
	}
	if *invitation.VerificationCode != strings.ToUpper(strings.TrimSpace(code)) {
		return ErrCodeMismatch
	}
	return nil
}

// AcceptParams identify the verified person completing registration.
type AcceptParams struct {
	Provider   string
	UID        string
	Email      string
	GivenName  string
	FamilyName string
	// PacID is set on the AO path from the eligibility check; never
	// overwrites an existing value on the user.
	PacID string
}

// Accept finishes an invitation: it creates the user if needed, creates the
// corresponding org link, clears the invited-* PII and flips the status to
// accepted, all in one transaction so a concurrent accept or batch check
// cannot observe a partial transition. Accepting an already-accepted
// invitation fails with ErrNotAcceptable and creates no second link.
func (s *Service) Accept(ctx context.Context, orgID, invitationID uuid.UUID, params AcceptParams) (*Invitation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	query := `SELECT ` + invitationColumns + ` FROM invitations WHERE id = $1 AND provider_organization_id = $2 FOR UPDATE`
	invitation, err := scanInvitation(tx.QueryRow(ctx, query, invitationID, orgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvitationNotFound
		}
		return nil, fmt.Errorf("failed to load invitation: %w", err)
	}

	if !invitation.Acceptable() {
		return nil, ErrNotAcceptable
	}

	userID, err := s.findOrCreateUser(ctx, tx, invitation.Type, params)
	if err != nil {
		return nil, err
	}

	switch invitation.Type {
	case TypeAuthorizedOfficial:
		_, err = tx.Exec(ctx, `
			INSERT INTO ao_org_links (user_id, provider_organization_id, invitation_id, last_checked_at)
			VALUES ($1, $2, $3, NOW())
		`, userID, orgID, invitation.ID)
	case TypeCredentialDelegate:
		_, err = tx.Exec(ctx, `
			INSERT INTO cd_org_links (user_id, provider_organization_id, invitation_id)
			VALUES ($1, $2, $3)
		`, userID, orgID, invitation.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create organization link: %w", err)
	}

	// Acceptance clears the invited-* PII; the link is now the durable grant.
	tag, err := tx.Exec(ctx, `
		UPDATE invitations
		SET status = 'accepted',
		    invited_given_name = '',
		    invited_family_name = '',
		    invited_phone = '',
		    invited_email = '',
		    verification_code = NULL
		WHERE id = $1 AND status = 'pending'
	`, invitation.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark invitation accepted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotAcceptable
	}

	if err := s.audit.LogInvitationAcceptedTx(ctx, tx, orgID, userID, invitation.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	invitation.Status = StatusAccepted
	invitation.InvitedGivenName = ""
	invitation.InvitedFamilyName = ""
	invitation.InvitedPhone = ""
	invitation.InvitedEmail = ""
	invitation.VerificationCode = nil
	return invitation, nil
}

func (s *Service) findOrCreateUser(ctx context.Context, tx pgx.Tx, invType Type, params AcceptParams) (uuid.UUID, error) {
	var userID uuid.UUID
	var pacID *string
	err := tx.QueryRow(ctx, `
		SELECT id, pac_id FROM users WHERE provider = $1 AND uid = $2
	`, params.Provider, params.UID).Scan(&userID, &pacID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("failed to load user: %w", err)
	}

	if errors.Is(err, pgx.ErrNoRows) {
		err = tx.QueryRow(ctx, `
			INSERT INTO users (provider, uid, email, given_name, family_name, pac_id)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
			RETURNING id
		`, params.Provider, params.UID, params.Email, params.GivenName, params.FamilyName, params.PacID).Scan(&userID)
		if err != nil {
			return uuid.Nil, fmt.Errorf("failed to create user: %w", err)
		}
		return userID, nil
	}

	// An existing pac_id is authoritative; only fill it in when absent.
	if invType == TypeAuthorizedOfficial && pacID == nil && params.PacID != "" {
		if _, err := tx.Exec(ctx, `UPDATE users SET pac_id = $1, updated_at = NOW() WHERE id = $2`, params.PacID, userID); err != nil {
			return uuid.Nil, fmt.Errorf("failed to set pac_id: %w", err)
		}
	}
	return userID, nil
}

// Renew replaces an expired AO invitation: the original is marked renewed and
// a fresh pending invitation is created carrying forward the organization and
// email. For CD invitations or non-expired invitations it returns
// ErrCannotRenew and creates nothing.
func (s *Service) Renew(ctx context.Context, orgID, invitationID uuid.UUID) (*Invitation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	query := `SELECT ` + invitationColumns + ` FROM invitations WHERE id = $1 AND provider_organization_id = $2 FOR UPDATE`
	invitation, err := scanInvitation(tx.QueryRow(ctx, query, invitationID, orgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvitationNotFound
		}
		return nil, fmt.Errorf("failed to load invitation: %w", err)
	}

	if !invitation.Renewable() {
		return nil, ErrCannotRenew
	}

	renewed := &Invitation{
		OrganizationID: invitation.OrganizationID,
		InvitedBy:      invitation.InvitedBy,
		Type:           invitation.Type,
		Status:         StatusPending,
		InvitedEmail:   invitation.InvitedEmail,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO invitations (
		  provider_organization_id, invited_by, invitation_type, status, invited_email
		)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`,
		renewed.OrganizationID,
		renewed.InvitedBy,
		renewed.Type,
		renewed.Status,
		renewed.InvitedEmail,
	).Scan(&renewed.ID, &renewed.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create renewed invitation: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE invitations SET status = 'renewed' WHERE id = $1`, invitation.ID); err != nil {
		return nil, fmt.Errorf("failed to mark invitation renewed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if err := s.audit.LogInvitationRenewed(ctx, orgID, invitation.ID, renewed.ID); err != nil {
		log.Warn().Err(err).Msg("Failed to audit invitation renewal")
	}
	log.Info().
		Str("invitation_id", invitation.ID.String()).
		Str("new_invitation_id", renewed.ID.String()).
		Str("org_id", orgID.String()).
		Msg("Invitation renewed")
	s.notifier.SendInvitationEmail(ctx, renewed, renewed.InvitedGivenName, renewed.InvitedFamilyName)

	return renewed, nil
}

// Cancel withdraws a pending invitation.
func (s *Service) Cancel(ctx context.Context, orgID, invitationID, actorUserID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE invitations
		SET status = 'cancelled', cancelled_at = $3
		WHERE id = $1
		  AND provider_organization_id = $2
		  AND status = 'pending'
	`, invitationID, orgID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to cancel invitation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotPending
	}

	if err := s.audit.LogInvitationCancelled(ctx, orgID, actorUserID, invitationID); err != nil {
		log.Warn().Err(err).Msg("Failed to audit invitation cancellation")
	}
	return nil
}
