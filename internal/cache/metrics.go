// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	cacheConfig = "config"
	cacheGrants = "grants"
)

var (
	hitsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worldgate_cache_hits_total",
		Help: "Total number of cache hits",
	}, []string{"cache"})

	missesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worldgate_cache_misses_total",
		Help: "Total number of cache misses",
	}, []string{"cache"})

	invalidationsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worldgate_cache_invalidations_total",
		Help: "Total number of cache keys invalidated",
	}, []string{"cache"})

	backendErrorsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worldgate_cache_backend_errors_total",
		Help: "Total number of grant cache backend failures",
	}, []string{"op"})
)
