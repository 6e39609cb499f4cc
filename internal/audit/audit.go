// Package audit writes the append-only trail of state-changing updates.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const (
	EventInvitationCreated   = "invitation.created"
	EventInvitationRenewed   = "invitation.renewed"
	EventInvitationCancelled = "invitation.cancelled"
	EventInvitationAccepted  = "invitation.accepted"
	EventVerificationFailed  = "verification.check_failed"
	EventCredentialRemoved   = "credential.remove"
)

// Event represents an audit log entry.
type Event struct {
	ID          uuid.UUID              `db:"id"`
	OrgID       uuid.NullUUID          `db:"org_id"`
	UserID      uuid.NullUUID          `db:"user_id"`
	ActorUserID uuid.NullUUID          `db:"actor_user_id"`
	Action      string                 `db:"action"`
	Meta        map[string]interface{} `db:"meta"`
	CreatedAt   time.Time              `db:"created_at"`
}

// Execer is satisfied by both *pgxpool.Pool and pgx.Tx, so audit rows can be
// appended inside the transaction that carries the state change they
// describe.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Writer provides methods to write audit log entries.
type Writer struct {
	pool *pgxpool.Pool
}

func NewWriter(pool *pgxpool.Pool) *Writer {
	return &Writer{pool: pool}
}

// LogParams contains parameters for logging an audit event.
type LogParams struct {
	OrgID       *uuid.UUID
	UserID      *uuid.UUID
	ActorUserID *uuid.UUID
	Action      string
	Meta        map[string]interface{}
}

// Log writes an audit entry using the writer's pool.
func (w *Writer) Log(ctx context.Context, params LogParams) error {
	return w.LogTx(ctx, w.pool, params)
}

// LogTx writes an audit entry on the given transaction or pool. State-change
// writers pass their open transaction so the trail commits or rolls back with
// the change itself.
func (w *Writer) LogTx(ctx context.Context, db Execer, params LogParams) error {
	metaJSON := []byte("{}")
	if params.Meta != nil {
		b, err := json.Marshal(params.Meta)
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal audit meta")
			return err
		}
		metaJSON = b
	}

	query := `
		INSERT INTO audit_log (org_id, user_id, actor_user_id, action, meta)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := db.Exec(ctx, query,
		toNullUUID(params.OrgID),
		toNullUUID(params.UserID),
		toNullUUID(params.ActorUserID),
		params.Action,
		metaJSON,
	)
	if err != nil {
		log.Error().Err(err).Str("action", params.Action).Msg("Failed to write audit log")
		return err
	}

	log.Info().
		Str("action", params.Action).
		Interface("org_id", params.OrgID).
		Interface("user_id", params.UserID).
		Interface("actor_user_id", params.ActorUserID).
		Msg("Audit event logged")

	return nil
}

func toNullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func (w *Writer) LogInvitationCreated(ctx context.Context, orgID uuid.UUID, actorUserID *uuid.UUID, inviteID uuid.UUID, invitationType string) error {
	return w.Log(ctx, LogParams{
		OrgID:       &orgID,
		ActorUserID: actorUserID,
		Action:      EventInvitationCreated,
		Meta: map[string]interface{}{
			"invitation_id":   inviteID.String(),
			"invitation_type": invitationType,
		},
	})
}

func (w *Writer) LogInvitationRenewed(ctx context.Context, orgID, oldInviteID, newInviteID uuid.UUID) error {
	return w.Log(ctx, LogParams{
		OrgID:  &orgID,
		Action: EventInvitationRenewed,
		Meta: map[string]interface{}{
			"invitation_id":     oldInviteID.String(),
			"new_invitation_id": newInviteID.String(),
		},
	})
}

func (w *Writer) LogInvitationCancelled(ctx context.Context, orgID, actorUserID, inviteID uuid.UUID) error {
	return w.Log(ctx, LogParams{
		OrgID:       &orgID,
		ActorUserID: &actorUserID,
		Action:      EventInvitationCancelled,
		Meta: map[string]interface{}{
			"invitation_id": inviteID.String(),
		},
	})
}

// LogInvitationAcceptedTx records acceptance inside the accepting
// transaction.
func (w *Writer) LogInvitationAcceptedTx(ctx context.Context, db Execer, orgID, userID, inviteID uuid.UUID) error {
	return w.LogTx(ctx, db, LogParams{
		OrgID:       &orgID,
		ActorUserID: &userID,
		Action:      EventInvitationAccepted,
		Meta: map[string]interface{}{
			"invitation_id": inviteID.String(),
		},
	})
}

// LogVerificationFailedTx records a failed eligibility re-check inside the
// transaction that downgrades the subject.
func (w *Writer) LogVerificationFailedTx(ctx context.Context, db Execer, orgID, userID *uuid.UUID, reason string) error {
	return w.LogTx(ctx, db, LogParams{
		OrgID:  orgID,
		UserID: userID,
		Action: EventVerificationFailed,
		Meta: map[string]interface{}{
			"verification_reason": reason,
		},
	})
}

func (w *Writer) LogCredentialRemoved(ctx context.Context, orgID uuid.UUID, credentialType, credentialID string) error {
	return w.Log(ctx, LogParams{
		OrgID:  &orgID,
		Action: EventCredentialRemoved,
		Meta: map[string]interface{}{
			"credential_type": credentialType,
			"credential_id":   credentialID,
			"action":          "remove",
		},
	})
}
