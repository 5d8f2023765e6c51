// SPDX-License-Identifier: ice License 1.0

package upgrade

import (
	stdlibtime "time"

	"github.com/prometheus/client_golang/prometheus"
)

// NewMetrics registers the upgrade collectors on registerer. A nil *Metrics is valid and records nothing.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		negotiations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "httpupgrade",
			Name:      "negotiations_total",
			Help:      "First requests inspected by the upgrade gate, by outcome.",
		}, []string{"outcome"}),
		candidateFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "httpupgrade",
			Name:      "candidate_failures_total",
			Help:      "Upgrade candidates that failed to build their response.",
		}, []string{"protocol"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "httpupgrade",
			Name:      "transitions_total",
			Help:      "Finished protocol transitions, by protocol and result.",
		}, []string{"protocol", "result"}),
		transitionTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "httpupgrade",
			Name:      "transition_duration_seconds",
			Help:      "Time from the end of the upgrade request to the end of the transition.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8), //nolint:mnd,gomnd // 100µs .. ~1.6s.
		}, []string{"protocol"}),
		buffered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "httpupgrade",
			Name:      "buffered_messages_total",
			Help:      "Inbound messages held while a transition was in progress.",
		}),
	}
	registerer.MustRegister(m.negotiations, m.candidateFailures, m.transitions, m.transitionTime, m.buffered)

	return m
}

func (m *Metrics) negotiated(outcome string) {
	if m == nil {
		return
	}
	m.negotiations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) candidateFailed(protocol string) {
	if m == nil {
		return
	}
	m.candidateFailures.WithLabelValues(protocol).Inc()
}

func (m *Metrics) transitioned(protocol string, err error, took stdlibtime.Duration) {
	if m == nil {
		return
	}
	result := resultSuccess
	if err != nil {
		result = resultFailure
	}
	m.transitions.WithLabelValues(protocol, result).Inc()
	m.transitionTime.WithLabelValues(protocol).Observe(took.Seconds())
}

func (m *Metrics) messageBuffered() {
	if m == nil {
		return
	}
	m.buffered.Inc()
}
