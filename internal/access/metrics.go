// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package access

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for permission resolution.
var (
	// resolveDuration tracks the latency of HasPermission and AllPermissions calls.
	resolveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "worldgate_resolve_duration_seconds",
		Help:    "Histogram of permission resolution latency in seconds",
		Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1, .25},
	}, []string{"op"})

	// decisions counts single-permission answers by outcome.
	decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worldgate_decisions_total",
		Help: "Total number of permission decisions",
	}, []string{"outcome"})

	// failClosed counts evaluations denied because a dependency failed.
	failClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worldgate_resolver_fail_closed_total",
		Help: "Total number of evaluations denied because a lookup failed or timed out",
	}, []string{"reason"})
)

// Fail-closed reasons.
const (
	reasonConfig  = "config"
	reasonGrants  = "grants"
	reasonTimeout = "timeout"
)

func recordDecision(op string, start time.Time, allowed bool) {
	resolveDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if op != opHasPermission {
		return
	}
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	decisions.WithLabelValues(outcome).Inc()
}
