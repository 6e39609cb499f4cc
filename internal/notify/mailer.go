// Package notify delivers invitation emails through the mail webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dpcportal/portal/internal/invitations"
)

// Mailer posts invitation emails to the configured mail webhook.
type Mailer struct {
	webhookURL string
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// NewMailer creates a mailer with the specified timeout.
func NewMailer(webhookURL, baseURL string, timeoutMS int) *Mailer {
	timeout := time.Duration(timeoutMS) * time.Millisecond
	return &Mailer{
		webhookURL: webhookURL,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
	}
}

type mailPayload struct {
	To       string `json:"to"`
	Template string `json:"template"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
}

// SendInvitationEmail posts the invitation email to the mail webhook.
// This method NEVER returns errors to the caller - all failures are logged at
// WARN level so mail outages do not impact the invitation lifecycle.
func (m *Mailer) SendInvitationEmail(ctx context.Context, invitation *invitations.Invitation, givenName, familyName string) {
	if m.webhookURL == "" {
		log.Debug().Msg("Mail webhook not configured, skipping invitation email")
		return
	}

	acceptURL := fmt.Sprintf("%s/organizations/%s/invitations/%s",
		m.baseURL, invitation.OrganizationID, invitation.ID)

	payload := mailPayload{
		To:       invitation.InvitedEmail,
		Template: template(invitation.Type),
		Subject:  "You've been invited to the Data at the Point of Care portal",
		Body:     buildBody(invitation.Type, givenName, familyName, acceptURL),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		log.Warn().
			Err(err).
			Str("invitation_id", invitation.ID.String()).
			Msg("Failed to marshal mail payload")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.webhookURL, bytes.NewBuffer(jsonData))
	if err != nil {
		log.Warn().
			Err(err).
			Str("invitation_id", invitation.ID.String()).
			Msg("Failed to create mail request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded || isTimeoutError(err) {
			log.Warn().
				Err(err).
				Dur("timeout", m.timeout).
				Str("invitation_id", invitation.ID.String()).
				Msg("Invitation email timed out")
		} else {
			log.Warn().
				Err(err).
				Str("invitation_id", invitation.ID.String()).
				Msg("Failed to send invitation email")
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Warn().
			Int("status_code", resp.StatusCode).
			Str("invitation_id", invitation.ID.String()).
			Msg("Mail webhook returned error")
		return
	}

	log.Info().
		Str("invitation_id", invitation.ID.String()).
		Str("invitation_type", string(invitation.Type)).
		Msg("Invitation email sent")
}

func template(t invitations.Type) string {
	if t == invitations.TypeAuthorizedOfficial {
		return "invite_ao"
	}
	return "invite_cd"
}

func buildBody(t invitations.Type, givenName, familyName, acceptURL string) string {
	greeting := "Hello,"
	if givenName != "" || familyName != "" {
		greeting = fmt.Sprintf("Hello %s %s,", givenName, familyName)
	}
	role := "a credential delegate"
	if t == invitations.TypeAuthorizedOfficial {
		role = "an authorized official"
	}
	return fmt.Sprintf(
		"%s\n\nYou have been invited as %s for an organization in the Data at the Point of Care portal. "+
			"This invitation expires in 48 hours.\n\nAccept here: %s\n",
		greeting, role, acceptURL)
}

func isTimeoutError(err error) bool {
	netErr, ok := err.(net.Error)
	return ok && netErr.Timeout()
}
