package enricher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

var lookupTotal = promauto.With(ctrlmetrics.Registry).NewCounterVec(
	prometheus.CounterOpts{
		Name: "sentry_kubernetes_enrichment_lookups_total",
		Help: "Enrichment lookups against the Kubernetes API by lookup type and result.",
	},
	[]string{"lookup", "result"},
)
