package verify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/dpcportal/portal/internal/audit"
	"github.com/dpcportal/portal/internal/metrics"
	"github.com/dpcportal/portal/internal/verification"
)

// OrgChecker re-runs the organization-level eligibility check.
type OrgChecker interface {
	CheckOrgEligibility(ctx context.Context, orgNPI string) error
}

// orgStore is the job's persistence surface, split out so the paging and
// outcome handling can run against fakes.
type orgStore interface {
	SelectStale(ctx context.Context, lookbackHours, limit int) ([]staleOrg, error)
	Touch(ctx context.Context, orgID uuid.UUID) error
	ApplyFailure(ctx context.Context, org staleOrg, reason verification.Reason) (bool, error)
}

// OrgJob re-verifies a page of stale approved organizations. Runs after the
// AO link job and self-chains until drained.
type OrgJob struct {
	store         orgStore
	checker       OrgChecker
	revoker       Revoker
	metrics       *metrics.Metrics
	maxRecords    int
	lookbackHours int
}

// NewOrgJob creates the organization re-verification job.
func NewOrgJob(pool *pgxpool.Pool, checker OrgChecker, auditWriter *audit.Writer, revoker Revoker, m *metrics.Metrics, maxRecords, lookbackHours int) *OrgJob {
	return &OrgJob{
		store:         &orgDB{pool: pool, audit: auditWriter},
		checker:       checker,
		revoker:       revoker,
		metrics:       m,
		maxRecords:    maxRecords,
		lookbackHours: lookbackHours,
	}
}

func (j *OrgJob) Name() string { return "verify_orgs" }

func (j *OrgJob) Next() Job { return nil }

type staleOrg struct {
	ID  uuid.UUID
	NPI string
}

// Run claims the oldest page of stale approved organizations and checks each
// one in its own transaction.
func (j *OrgJob) Run(ctx context.Context) (Outcome, error) {
	orgs, err := j.store.SelectStale(ctx, j.lookbackHours, j.maxRecords)
	if err != nil {
		return Stop, err
	}
	if len(orgs) == 0 {
		log.Info().Str("job", j.Name()).Msg("No stale organizations to verify")
		return Stop, nil
	}

	counts := map[string]int{}
	for _, org := range orgs {
		if ctx.Err() != nil {
			return Stop, ctx.Err()
		}
		outcome := j.checkOrg(ctx, org)
		counts[outcome]++
		j.metrics.IncrementCheck("org", outcome)
	}

	log.Info().
		Str("job", j.Name()).
		Int("checked", len(orgs)).
		Interface("outcomes", counts).
		Msg("Organization verification batch completed")

	if len(orgs) == j.maxRecords {
		return Repeat, nil
	}
	return Stop, nil
}

func (j *OrgJob) checkOrg(ctx context.Context, org staleOrg) string {
	err := j.checker.CheckOrgEligibility(ctx, org.NPI)
	if err == nil {
		if terr := j.store.Touch(ctx, org.ID); terr != nil {
			log.Error().Err(terr).Str("org_id", org.ID.String()).Msg("Failed to touch verified organization")
			return "error"
		}
		return "success"
	}

	if verr, ok := verification.AsError(err); ok {
		rejected, ferr := j.store.ApplyFailure(ctx, org, verr.Reason)
		if ferr != nil {
			log.Error().Err(ferr).
				Str("org_id", org.ID.String()).
				Str("reason", string(verr.Reason)).
				Msg("Failed to apply organization verification failure, record left unchanged")
			return "error"
		}
		if rejected {
			j.revoker.OrgRejected(ctx, org.ID)
		}
		return string(verr.Reason)
	}

	log.Warn().Err(err).
		Str("org_id", org.ID.String()).
		Str("org_npi", org.NPI).
		Msg("Eligibility gateway unavailable for organization check")
	return "gateway_error"
}

// orgDB is the pgx-backed store.
type orgDB struct {
	pool  *pgxpool.Pool
	audit *audit.Writer
}

// SelectStale also picks up organizations that have never been checked, whose
// last_checked_at is still NULL; those sort first.
func (s *orgDB) SelectStale(ctx context.Context, lookbackHours, limit int) ([]staleOrg, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, npi
		FROM provider_organizations
		WHERE verification_status = 'approved'
		  AND (last_checked_at IS NULL OR last_checked_at < NOW() - make_interval(hours => $1))
		ORDER BY last_checked_at ASC NULLS FIRST, id
		LIMIT $2
	`, lookbackHours, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select stale organizations: %w", err)
	}
	defer rows.Close()

	var orgs []staleOrg
	for rows.Next() {
		var o staleOrg
		if err := rows.Scan(&o.ID, &o.NPI); err != nil {
			return nil, fmt.Errorf("failed to scan stale organization: %w", err)
		}
		orgs = append(orgs, o)
	}
	return orgs, rows.Err()
}

func (s *orgDB) Touch(ctx context.Context, orgID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE provider_organizations SET last_checked_at = NOW() WHERE id = $1
	`, orgID)
	return err
}

// ApplyFailure rejects the organization and downgrades its active AO links.
// The linked users keep their own status: an org losing its enrollment says
// nothing about its officials.
func (s *orgDB) ApplyFailure(ctx context.Context, org staleOrg, reason verification.Reason) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	tag, err := tx.Exec(ctx, `
		UPDATE provider_organizations
		SET verification_status = 'rejected', verification_reason = $2, last_checked_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND verification_status = 'approved'
	`, org.ID, string(reason))
	if err != nil {
		return false, fmt.Errorf("failed to reject organization: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE ao_org_links
		SET verification_status = false, verification_reason = $2, last_checked_at = NOW()
		WHERE provider_organization_id = $1 AND verification_status
	`, org.ID, string(reason)); err != nil {
		return false, fmt.Errorf("failed to downgrade organization's AO links: %w", err)
	}

	if err := s.audit.LogVerificationFailedTx(ctx, tx, &org.ID, nil, string(reason)); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}
