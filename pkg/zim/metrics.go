package zim

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for reader caches and creator throughput.
var cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "zim_cache_hits_total",
	Help: "The total number of reader cache hits",
}, []string{"cache_type"})

var cacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "zim_cache_misses_total",
	Help: "The total number of reader cache misses",
}, []string{"cache_type"})

var itemsAddedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "zim_creator_items_added_total",
	Help: "The total number of items submitted to creators",
})

var clustersClosedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "zim_creator_clusters_closed_total",
	Help: "The total number of clusters closed and queued for compression",
}, []string{"kind"})
