package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	conditionsAdded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "productstream_conditions_added_total",
		Help: "Conditions bound into an edit session, by handler and origin.",
	}, []string{"handler", "origin"})

	conditionsRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "productstream_conditions_removed_total",
		Help: "Conditions removed from an edit session.",
	})

	singletonRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "productstream_singleton_rejections_total",
		Help: "Additions rejected because a singleton condition was already active.",
	}, []string{"handler"})

	conditionsDeclined = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "productstream_conditions_declined_total",
		Help: "Additions a handler declined to create.",
	}, []string{"handler"})

	unrecognizedKeys = promauto.NewCounter(prometheus.CounterOpts{
		Name: "productstream_unrecognized_keys_total",
		Help: "Stored condition keys that no registered handler claimed.",
	})

	previewRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "productstream_preview_requests_total",
		Help: "Preview recompute requests emitted, by trigger and result.",
	}, []string{"trigger", "result"})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "productstream_active_sessions",
		Help: "Condition edit sessions currently open.",
	})
)
