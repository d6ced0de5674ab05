package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestDuration measures handler latency by route and status code.
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ch_router",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
	}, []string{"route", "code"})

	// routeOutcomes counts route queries by outcome.
	routeOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ch_router",
		Subsystem: "route",
		Name:      "queries_total",
		Help:      "Route queries by outcome",
	}, []string{"outcome"})

	// searchExpanded tracks how many nodes each successful query expanded.
	searchExpanded = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ch_router",
		Subsystem: "route",
		Name:      "expanded_nodes",
		Help:      "Nodes expanded per successful route query",
		Buckets:   prometheus.ExponentialBuckets(8, 2, 14),
	})

	rejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ch_router",
		Subsystem: "http",
		Name:      "rejected_total",
		Help:      "Requests rejected by the concurrency limiter",
	})
)
