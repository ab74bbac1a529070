package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dimeCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dime_cache_hits_total",
		Help: "Total number of page lookups that found a stored entry",
	})

	dimeCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dime_cache_misses_total",
		Help: "Total number of page lookups without a stored entry",
	})

	dimeCacheErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dime_cache_errors_total",
		Help: "Total number of Redis failures by cache operation",
	}, []string{"operation"})
)
