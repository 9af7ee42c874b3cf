package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/alekitto/sentry-kubernetes/internal/types"
)

const (
	breadcrumbCategory = "kubernetes.event"
	nodeContextKey     = "node"

	// SDKName and DefaultSDKVersion identify the forwarder in Sentry.
	SDKName           = "sentry-kubernetes"
	DefaultSDKVersion = "1.0.0"
)

// SentrySinkConfig holds the configuration for creating a SentrySink.
type SentrySinkConfig struct {
	DSN         string
	Environment string
	Release     string
	Debug       bool
	// MaxBreadcrumbs caps the trail kept on the hub (sentry-go default 30, max 100).
	MaxBreadcrumbs int
	// SDKVersion is reported with SDKName. Default DefaultSDKVersion.
	SDKVersion string
	// BeforeSend is passed through to the Sentry client. Used by tests to
	// observe events without a live backend.
	BeforeSend func(*sentry.Event, *sentry.EventHint) *sentry.Event
}

// SentrySink delivers alerts as Sentry events and trail entries as
// breadcrumbs on a dedicated hub. Safe for concurrent use.
type SentrySink struct {
	hub    *sentry.Hub
	logger *zap.Logger
}

// NewSentrySink creates a SentrySink. Returns an error if the DSN is invalid.
func NewSentrySink(logger *zap.Logger, cfg SentrySinkConfig) (*SentrySink, error) {
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:            cfg.DSN,
		Environment:    cfg.Environment,
		Release:        cfg.Release,
		Debug:          cfg.Debug,
		MaxBreadcrumbs: cfg.MaxBreadcrumbs,
		BeforeSend:     withSDKInfo(cfg.SDKVersion, cfg.BeforeSend),
	})
	if err != nil {
		return nil, fmt.Errorf("init sentry client: %w", err)
	}
	return &SentrySink{
		hub:    sentry.NewHub(client, sentry.NewScope()),
		logger: logger.Named("sentry-sink"),
	}, nil
}

// Name implements AlertSink.
func (s *SentrySink) Name() string { return "sentry" }

// SendAlert implements AlertSink.
func (s *SentrySink) SendAlert(_ context.Context, alert AlertPayload) {
	id := s.hub.CaptureEvent(s.toSentryEvent(alert))
	if id == nil {
		alertsTotal.WithLabelValues(s.Name(), "dropped").Inc()
		s.logger.Debug("Sentry event dropped by client", zap.String("culprit", alert.Culprit))
		return
	}
	alertsTotal.WithLabelValues(s.Name(), "sent").Inc()
	s.logger.Debug("Sentry event captured",
		zap.String("event_id", string(*id)),
		zap.String("culprit", alert.Culprit),
	)
}

// AppendTrailEntry implements TrailSink.
func (s *SentrySink) AppendTrailEntry(_ context.Context, entry TrailEntry) {
	b := &sentry.Breadcrumb{
		Type:     "default",
		Category: breadcrumbCategory,
		Data:     entry.Data,
		Level:    sentryLevel(entry.Level),
		Message:  entry.Message,
	}
	if entry.Timestamp != nil {
		b.Timestamp = *entry.Timestamp
	}
	s.hub.AddBreadcrumb(b, nil)
}

// Flush waits up to timeout for buffered events to be delivered.
func (s *SentrySink) Flush(timeout time.Duration) bool {
	return s.hub.Flush(timeout)
}

func (s *SentrySink) toSentryEvent(alert AlertPayload) *sentry.Event {
	ev := sentry.NewEvent()
	ev.Level = sentryLevel(alert.Level)
	ev.Message = alert.Message
	// Sentry replaced the culprit field with the transaction name.
	ev.Transaction = alert.Culprit
	ev.ServerName = alert.ServerName
	ev.Fingerprint = alert.Fingerprint
	for k, v := range alert.Tags {
		ev.Tags[k] = v
	}
	for k, v := range alert.Extra {
		ev.Extra[k] = v
	}
	if alert.Timestamp != nil {
		ev.Timestamp = *alert.Timestamp
	}
	if len(alert.NodeLabels) > 0 {
		labels := make(map[string]interface{}, len(alert.NodeLabels))
		for k, v := range alert.NodeLabels {
			labels[k] = v
		}
		ev.Contexts[nodeContextKey] = sentry.Context{
			"name":   alert.ServerName,
			"labels": labels,
		}
	}
	return ev
}

// withSDKInfo stamps the forwarder's identity on every event before next
// runs. The client sets its own SDK info first, so this has to happen here.
func withSDKInfo(version string, next func(*sentry.Event, *sentry.EventHint) *sentry.Event) func(*sentry.Event, *sentry.EventHint) *sentry.Event {
	if version == "" {
		version = DefaultSDKVersion
	}
	return func(ev *sentry.Event, hint *sentry.EventHint) *sentry.Event {
		ev.Sdk.Name = SDKName
		ev.Sdk.Version = version
		if next == nil {
			return ev
		}
		return next(ev, hint)
	}
}

func sentryLevel(s types.Severity) sentry.Level {
	switch s {
	case types.SeverityDebug:
		return sentry.LevelDebug
	case types.SeverityInfo:
		return sentry.LevelInfo
	case types.SeverityWarning:
		return sentry.LevelWarning
	case types.SeverityFatal:
		return sentry.LevelFatal
	default:
		return sentry.LevelError
	}
}
