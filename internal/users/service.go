package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dpcportal/portal/internal/verification"
)

// Service provides user lookups.
type Service struct {
	pool *pgxpool.Pool
}

// NewService creates a new user service.
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

const userColumns = `
	id, provider, uid, email, given_name, family_name, pac_id,
	verification_status, verification_reason, last_checked_at,
	created_at, updated_at
`

func scanUser(row pgx.Row) (*User, error) {
	var user User
	var status, reason *string
	err := row.Scan(
		&user.ID,
		&user.Provider,
		&user.UID,
		&user.Email,
		&user.GivenName,
		&user.FamilyName,
		&user.PacID,
		&status,
		&reason,
		&user.LastCheckedAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if status != nil {
		if parsed, perr := verification.ParseStatus(*status); perr == nil {
			user.VerificationStatus = parsed
		}
	}
	if reason != nil {
		if parsed, perr := verification.ParseReason(*reason); perr == nil {
			user.VerificationReason = parsed
		}
	}
	return &user, nil
}

// GetByID retrieves a user by ID.
func (s *Service) GetByID(ctx context.Context, userID uuid.UUID) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(s.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetByProviderUID retrieves a user by their identity-provider subject.
func (s *Service) GetByProviderUID(ctx context.Context, provider, uid string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE provider = $1 AND uid = $2`

	user, err := scanUser(s.pool.QueryRow(ctx, query, provider, uid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}
