// Package metrics provides observability for the verification pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the portal's Prometheus collectors.
type Metrics struct {
	// Batch re-verification check results by subject kind and outcome
	VerificationChecks *prometheus.CounterVec

	// Gateway call latency by operation
	GatewayLatency *prometheus.HistogramVec

	// Credential deletions during revocation by credential type and result
	CredentialRevocations *prometheus.CounterVec

	// Invitation lifecycle events by type and transition
	InvitationEvents *prometheus.CounterVec
}

// New creates a Metrics instance with all collectors registered on the
// default registry.
func New() *Metrics {
	return &Metrics{
		VerificationChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_verification_checks_total",
			Help: "Batch re-verification check results by subject and outcome",
		}, []string{"subject", "outcome"}), // subject: "ao_link", "org"

		GatewayLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "portal_gateway_request_duration_seconds",
			Help:    "Duration of eligibility gateway calls by operation",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation"}),

		CredentialRevocations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_credential_revocations_total",
			Help: "Credential deletions during revocation by type and result",
		}, []string{"credential_type", "result"}),

		InvitationEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_invitation_events_total",
			Help: "Invitation lifecycle transitions by invitation type",
		}, []string{"invitation_type", "event"}),
	}
}

// IncrementCheck records a batch verification check result.
func (m *Metrics) IncrementCheck(subject, outcome string) {
	if m != nil {
		m.VerificationChecks.WithLabelValues(subject, outcome).Inc()
	}
}

// ObserveGatewayLatency records the duration of a gateway call.
func (m *Metrics) ObserveGatewayLatency(operation string, d time.Duration) {
	if m != nil {
		m.GatewayLatency.WithLabelValues(operation).Observe(d.Seconds())
	}
}

// IncrementRevocation records a credential deletion attempt.
func (m *Metrics) IncrementRevocation(credentialType, result string) {
	if m != nil {
		m.CredentialRevocations.WithLabelValues(credentialType, result).Inc()
	}
}

// IncrementInvitationEvent records an invitation lifecycle transition.
func (m *Metrics) IncrementInvitationEvent(invitationType, event string) {
	if m != nil {
		m.InvitationEvents.WithLabelValues(invitationType, event).Inc()
	}
}
