// Package metrics exposes Prometheus collectors for the gateway
// authentication engine. All recorder methods are safe on a nil *Metrics,
// so components may run without instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "guacauth"

// Outcome label values.
const (
	OutcomeHit     = "hit"
	OutcomeMiss    = "miss"
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics groups the collectors recorded by the engine.
type Metrics struct {
	configCache     *prometheus.CounterVec
	configFetches   *prometheus.CounterVec
	keySetFetches   *prometheus.CounterVec
	validations     *prometheus.CounterVec
	tokenExchanges  *prometheus.CounterVec
	authentications *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
// A nil reg creates unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		configCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workspace_config_cache_total",
			Help:      "Workspace auth config cache lookups by result.",
		}, []string{"result"}),
		configFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workspace_config_fetches_total",
			Help:      "Control-plane workspace fetches by outcome.",
		}, []string{"outcome"}),
		keySetFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jwks_fetches_total",
			Help:      "Signing key set fetches by outcome.",
		}, []string{"outcome"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_validations_total",
			Help:      "Bearer token validations by outcome.",
		}, []string{"outcome"}),
		tokenExchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_exchanges_total",
			Help:      "Authorization code exchanges by outcome.",
		}, []string{"outcome"}),
		authentications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authentications_total",
			Help:      "Authentication attempts by mode and result.",
		}, []string{"mode", "result"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.configCache,
			m.configFetches,
			m.keySetFetches,
			m.validations,
			m.tokenExchanges,
			m.authentications,
		)
	}

	return m
}

// ConfigCache records a cache lookup; hit selects the label.
func (m *Metrics) ConfigCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.configCache.WithLabelValues(OutcomeHit).Inc()
		return
	}
	m.configCache.WithLabelValues(OutcomeMiss).Inc()
}

// ConfigFetch records the outcome of a control-plane fetch.
func (m *Metrics) ConfigFetch(err error) {
	if m == nil {
		return
	}
	m.configFetches.WithLabelValues(outcome(err)).Inc()
}

// KeySetFetch records the outcome of a JWKS fetch.
func (m *Metrics) KeySetFetch(err error) {
	if m == nil {
		return
	}
	m.keySetFetches.WithLabelValues(outcome(err)).Inc()
}

// Validation records the outcome of a token validation.
func (m *Metrics) Validation(err error) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(outcome(err)).Inc()
}

// TokenExchange records the outcome of a code exchange.
func (m *Metrics) TokenExchange(err error) {
	if m == nil {
		return
	}
	m.tokenExchanges.WithLabelValues(outcome(err)).Inc()
}

// Authentication records the result of one Authenticate call.
func (m *Metrics) Authentication(mode, result string) {
	if m == nil {
		return
	}
	m.authentications.WithLabelValues(mode, result).Inc()
}

func outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
