package credentials

import (
	"context"

	"github.com/rs/zerolog/log"
)

// StatusJob logs how many synced organizations hold a complete credential
// set. Scheduled daily; purely observational, it never mutates anything.
type StatusJob struct {
	client Client
	orgs   OrgSource
}

// NewStatusJob creates the credential status job.
func NewStatusJob(client Client, orgSource OrgSource) *StatusJob {
	return &StatusJob{client: client, orgs: orgSource}
}

// Run counts credential completeness across all organizations synced to the
// DPC API and emits one summary line. Organizations whose credentials cannot
// be fetched count as incomplete.
func (j *StatusJob) Run(ctx context.Context) error {
	synced, err := j.orgs.ListSynced(ctx)
	if err != nil {
		return err
	}

	complete, incomplete := 0, 0
	for _, org := range synced {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		counts, err := j.countFor(ctx, *org.DpcAPIOrgID)
		if err != nil {
			log.Warn().Err(err).
				Str("org_id", org.ID.String()).
				Msg("Failed to fetch credential counts")
			incomplete++
			continue
		}
		if counts.Complete() {
			complete++
		} else {
			incomplete++
		}
	}

	log.Info().
		Int("have_active_credentials", complete).
		Int("have_incomplete_or_no_credentials", incomplete).
		Msg("Organizations API credential status")
	return nil
}

func (j *StatusJob) countFor(ctx context.Context, apiOrgID string) (Counts, error) {
	var counts Counts

	tokens, err := j.client.ListClientTokens(ctx, apiOrgID)
	if err != nil {
		return counts, err
	}
	counts.ClientTokens = len(tokens)

	keys, err := j.client.ListPublicKeys(ctx, apiOrgID)
	if err != nil {
		return counts, err
	}
	counts.PublicKeys = len(keys)

	addrs, err := j.client.ListIPAddresses(ctx, apiOrgID)
	if err != nil {
		return counts, err
	}
	counts.IPAddresses = len(addrs)

	return counts, nil
}
