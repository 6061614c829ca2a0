// Package metrics registers the Prometheus counters the server exports and
// feeds them from the audit event stream.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/sunbeamfin/beacon/internal/audit"
)

var (
	LoginSuccessTotal     prometheus.Counter
	LoginFailureTotal     prometheus.Counter
	SessionsRevokedTotal  prometheus.Counter
	AuthCodesIssuedTotal  prometheus.Counter
	RefreshRotationsTotal prometheus.Counter
	RefreshReuseTotal     prometheus.Counter
	MagicLinksIssuedTotal prometheus.Counter
	ClientGrantsTotal     prometheus.Counter
	PATsCreatedTotal      prometheus.Counter
	TokensRevokedTotal    prometheus.Counter
)

// InitCustomMetrics initializes and registers the auth metrics.
// It should be called once at application startup.
func InitCustomMetrics(reg prometheus.Registerer) {
	LoginSuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "beacon_logins_success_total",
		Help: "Total number of successful logins.",
	})
	LoginFailureTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "beacon_logins_failure_total",
		Help: "Total number of failed login attempts.",
	})
	SessionsRevokedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "beacon_sessions_revoked_total",
		Help: "Total number of sessions revoked.",
	})
	AuthCodesIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "beacon_auth_codes_issued_total",
		Help: "Total number of authorization codes issued.",
	})
	RefreshRotationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "beacon_refresh_rotations_total",
		Help: "Total number of refresh token rotations.",
	})
	RefreshReuseTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "beacon_refresh_reuse_detected_total",
		Help: "Total number of refresh token reuse detections.",
	})
	MagicLinksIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "beacon_magic_links_issued_total",
		Help: "Total number of magic links issued.",
	})
	ClientGrantsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "beacon_client_credentials_grants_total",
		Help: "Total number of client credentials grants.",
	})
	PATsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "beacon_pats_created_total",
		Help: "Total number of personal access tokens created.",
	})
	TokensRevokedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "beacon_tokens_revoked_total",
		Help: "Total number of tokens revoked through the revocation endpoint.",
	})

	if reg == nil {
		log.Error().Msg("prometheus registry is nil, cannot register custom metrics")
		return
	}

	collectors := []prometheus.Collector{
		LoginSuccessTotal,
		LoginFailureTotal,
		SessionsRevokedTotal,
		AuthCodesIssuedTotal,
		RefreshRotationsTotal,
		RefreshReuseTotal,
		MagicLinksIssuedTotal,
		ClientGrantsTotal,
		PATsCreatedTotal,
		TokensRevokedTotal,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("failed to register metric")
		}
	}
	log.Info().Msg("custom prometheus metrics registered")
}

// AuditSink increments counters from the audit stream. Compose it with the
// logging sink so services record each event once and both outputs stay in
// step.
type AuditSink struct{}

// NewAuditSink creates a metrics sink. InitCustomMetrics must run first.
func NewAuditSink() *AuditSink {
	return &AuditSink{}
}

func (s *AuditSink) Emit(_ context.Context, event audit.Event) {
	switch event.Action {
	case audit.ActionLogin, audit.ActionMagicLinkVerified:
		LoginSuccessTotal.Inc()
	case audit.ActionLoginFailed:
		LoginFailureTotal.Inc()
	case audit.ActionSessionRevoked, audit.ActionLogout:
		SessionsRevokedTotal.Inc()
	case audit.ActionCodeIssued:
		AuthCodesIssuedTotal.Inc()
	case audit.ActionRefreshRotated:
		RefreshRotationsTotal.Inc()
	case audit.ActionRefreshReuse:
		RefreshReuseTotal.Inc()
	case audit.ActionMagicLinkIssued:
		MagicLinksIssuedTotal.Inc()
	case audit.ActionClientGrant:
		ClientGrantsTotal.Inc()
	case audit.ActionPATCreated:
		PATsCreatedTotal.Inc()
	case audit.ActionTokenRevoked:
		TokensRevokedTotal.Inc()
	}
}

var _ audit.Sink = (*AuditSink)(nil)
