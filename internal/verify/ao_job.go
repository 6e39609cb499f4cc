package verify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/dpcportal/portal/internal/audit"
	"github.com/dpcportal/portal/internal/gateway"
	"github.com/dpcportal/portal/internal/metrics"
	"github.com/dpcportal/portal/internal/verification"
)

// AoChecker re-runs the authorized-official eligibility check for the batch
// path, where the official is identified by stored pac_id.
type AoChecker interface {
	CheckAoEligibility(ctx context.Context, orgNPI string, idType gateway.IDType, idValue string) (*gateway.EnrollmentRole, error)
}

// Revoker reacts to an organization losing its approved status. Dispatched
// explicitly after the rejecting transaction commits.
type Revoker interface {
	OrgRejected(ctx context.Context, orgID uuid.UUID)
}

// aoLinkStore is the job's persistence surface, split out so the paging and
// outcome handling can run against fakes.
type aoLinkStore interface {
	SelectStale(ctx context.Context, lookbackHours, limit int) ([]staleLink, error)
	Touch(ctx context.Context, linkID uuid.UUID) error
	ApplyFailure(ctx context.Context, link staleLink, reason verification.Reason) ([]uuid.UUID, error)
}

// AoLinkJob re-verifies a page of stale active AO links. It repeats while
// full pages remain, then advances to the org job.
type AoLinkJob struct {
	store         aoLinkStore
	checker       AoChecker
	revoker       Revoker
	metrics       *metrics.Metrics
	maxRecords    int
	lookbackHours int
	next          Job
}

// NewAoLinkJob creates the AO link re-verification job. next is enqueued once
// after the last page, typically the org job.
func NewAoLinkJob(pool *pgxpool.Pool, checker AoChecker, auditWriter *audit.Writer, revoker Revoker, m *metrics.Metrics, maxRecords, lookbackHours int, next Job) *AoLinkJob {
	return &AoLinkJob{
		store:         &aoLinkDB{pool: pool, audit: auditWriter},
		checker:       checker,
		revoker:       revoker,
		metrics:       m,
		maxRecords:    maxRecords,
		lookbackHours: lookbackHours,
		next:          next,
	}
}

func (j *AoLinkJob) Name() string { return "verify_ao_links" }

func (j *AoLinkJob) Next() Job { return j.next }

// staleLink is one AO link due for re-verification, joined with the fields
// the eligibility check needs.
type staleLink struct {
	ID     uuid.UUID
	UserID uuid.UUID
	OrgID  uuid.UUID
	OrgNPI string
	PacID  string
}

// Run claims the oldest page of stale links and checks each one. Every
// record's writes happen in their own transaction: a failure mid-batch rolls
// back that record alone and the batch continues.
func (j *AoLinkJob) Run(ctx context.Context) (Outcome, error) {
	links, err := j.store.SelectStale(ctx, j.lookbackHours, j.maxRecords)
	if err != nil {
		return Stop, err
	}
	if len(links) == 0 {
		log.Info().Str("job", j.Name()).Msg("No stale AO links to verify")
		return Advance, nil
	}

	counts := map[string]int{}
	for _, link := range links {
		if ctx.Err() != nil {
			return Stop, ctx.Err()
		}
		outcome := j.checkLink(ctx, link)
		counts[outcome]++
		j.metrics.IncrementCheck("ao_link", outcome)
	}

	log.Info().
		Str("job", j.Name()).
		Int("checked", len(links)).
		Interface("outcomes", counts).
		Msg("AO link verification batch completed")

	// A full page means more stale links may remain.
	if len(links) == j.maxRecords {
		return Repeat, nil
	}
	return Advance, nil
}

// checkLink verifies one link and returns the outcome label for the summary.
func (j *AoLinkJob) checkLink(ctx context.Context, link staleLink) string {
	_, err := j.checker.CheckAoEligibility(ctx, link.OrgNPI, gateway.IDTypePacID, link.PacID)
	if err == nil {
		if terr := j.store.Touch(ctx, link.ID); terr != nil {
			log.Error().Err(terr).Str("link_id", link.ID.String()).Msg("Failed to touch verified AO link")
			return "error"
		}
		return "success"
	}

	if verr, ok := verification.AsError(err); ok {
		rejectedOrgs, ferr := j.store.ApplyFailure(ctx, link, verr.Reason)
		if ferr != nil {
			log.Error().Err(ferr).
				Str("link_id", link.ID.String()).
				Str("reason", string(verr.Reason)).
				Msg("Failed to apply AO verification failure, record left unchanged")
			return "error"
		}
		for _, orgID := range rejectedOrgs {
			j.revoker.OrgRejected(ctx, orgID)
		}
		return string(verr.Reason)
	}

	// Transport trouble is not a verdict: leave the record stale so the next
	// run retries it.
	log.Warn().Err(err).
		Str("link_id", link.ID.String()).
		Str("org_npi", link.OrgNPI).
		Msg("Eligibility gateway unavailable for AO link check")
	return "gateway_error"
}

// aoLinkDB is the pgx-backed store.
type aoLinkDB struct {
	pool  *pgxpool.Pool
	audit *audit.Writer
}

func (s *aoLinkDB) SelectStale(ctx context.Context, lookbackHours, limit int) ([]staleLink, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT l.id, l.user_id, l.provider_organization_id, o.npi, COALESCE(u.pac_id, '')
		FROM ao_org_links l
		JOIN provider_organizations o ON o.id = l.provider_organization_id
		JOIN users u ON u.id = l.user_id
		WHERE l.verification_status
		  AND l.last_checked_at < NOW() - make_interval(hours => $1)
		ORDER BY l.last_checked_at ASC, l.id
		LIMIT $2
	`, lookbackHours, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select stale AO links: %w", err)
	}
	defer rows.Close()

	var links []staleLink
	for rows.Next() {
		var l staleLink
		if err := rows.Scan(&l.ID, &l.UserID, &l.OrgID, &l.OrgNPI, &l.PacID); err != nil {
			return nil, fmt.Errorf("failed to scan stale AO link: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (s *aoLinkDB) Touch(ctx context.Context, linkID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE ao_org_links SET last_checked_at = NOW() WHERE id = $1
	`, linkID)
	return err
}

// ApplyFailure downgrades the link and cascades per the failure reason, all
// in one transaction with the audit row:
//   - ao_med_sanctions: the official is the problem; reject the user and
//     every organization they are the active AO for.
//   - org-scoped reasons: reject the link's organization.
//   - user_not_authorized_official: the link alone; the user may still be a
//     valid AO elsewhere.
//
// Returns the IDs of organizations that moved to rejected, for credential
// revocation after commit.
func (s *aoLinkDB) ApplyFailure(ctx context.Context, link staleLink, reason verification.Reason) ([]uuid.UUID, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	tag, err := tx.Exec(ctx, `
		UPDATE ao_org_links
		SET verification_status = false, verification_reason = $2, last_checked_at = NOW()
		WHERE id = $1 AND verification_status
	`, link.ID, string(reason))
	if err != nil {
		return nil, fmt.Errorf("failed to downgrade AO link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already downgraded by a concurrent accept or check.
		return nil, tx.Commit(ctx)
	}

	var orgIDs []uuid.UUID
	switch {
	case reason == verification.ReasonAoMedSanctions:
		if _, err := tx.Exec(ctx, `
			UPDATE users
			SET verification_status = 'rejected', verification_reason = $2, last_checked_at = NOW(), updated_at = NOW()
			WHERE id = $1
		`, link.UserID, string(reason)); err != nil {
			return nil, fmt.Errorf("failed to reject user: %w", err)
		}

		rows, err := tx.Query(ctx, `
			UPDATE ao_org_links
			SET verification_status = false, verification_reason = $2, last_checked_at = NOW()
			WHERE user_id = $1 AND verification_status
			RETURNING provider_organization_id
		`, link.UserID, string(reason))
		if err != nil {
			return nil, fmt.Errorf("failed to downgrade user's other AO links: %w", err)
		}
		orgIDs = append(orgIDs, link.OrgID)
		for rows.Next() {
			var orgID uuid.UUID
			if err := rows.Scan(&orgID); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan downgraded link: %w", err)
			}
			orgIDs = append(orgIDs, orgID)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}

	case reason.OrgScoped():
		orgIDs = append(orgIDs, link.OrgID)
	}

	var rejectedOrgs []uuid.UUID
	for _, orgID := range dedupe(orgIDs) {
		tag, err := tx.Exec(ctx, `
			UPDATE provider_organizations
			SET verification_status = 'rejected', verification_reason = $2, last_checked_at = NOW(), updated_at = NOW()
			WHERE id = $1 AND verification_status = 'approved'
		`, orgID, string(reason))
		if err != nil {
			return nil, fmt.Errorf("failed to reject organization: %w", err)
		}
		if tag.RowsAffected() > 0 {
			rejectedOrgs = append(rejectedOrgs, orgID)
		}
	}

	if err := s.audit.LogVerificationFailedTx(ctx, tx, &link.OrgID, &link.UserID, string(reason)); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return rejectedOrgs, nil
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	var out []uuid.UUID
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
