package source

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

var reconnectsTotal = promauto.With(ctrlmetrics.Registry).NewCounterVec(
	prometheus.CounterOpts{
		Name: "sentry_kubernetes_watch_reconnects_total",
		Help: "Event watch re-establishments, by cause.",
	},
	[]string{"cause"},
)
