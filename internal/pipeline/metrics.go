package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	eventsTotal = promauto.With(ctrlmetrics.Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentry_kubernetes_events_total",
			Help: "Kubernetes events processed by outcome.",
		},
		[]string{"outcome"},
	)
	suppressedTotal = promauto.With(ctrlmetrics.Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentry_kubernetes_events_suppressed_total",
			Help: "Kubernetes events suppressed by the filter chain, by rule.",
		},
		[]string{"rule"},
	)
)
