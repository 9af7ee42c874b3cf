package sink

import (
	"context"
	"time"

	"github.com/alekitto/sentry-kubernetes/internal/types"
)

// AlertPayload is the outbound alert for one event.
type AlertPayload struct {
	Level       types.Severity         `json:"level"`
	Message     string                 `json:"message,omitempty"`
	Culprit     string                 `json:"culprit"`
	ServerName  string                 `json:"serverName"`
	Timestamp   *time.Time             `json:"timestamp,omitempty"`
	Tags        map[string]string      `json:"tags"`
	Fingerprint []string               `json:"fingerprint"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
	NodeLabels  map[string]string      `json:"nodeLabels,omitempty"`
}

// TrailEntry is the lightweight context record kept for every processed event.
type TrailEntry struct {
	Data      map[string]interface{} `json:"data"`
	Level     types.Severity         `json:"level"`
	Message   string                 `json:"message,omitempty"`
	Timestamp *time.Time             `json:"timestamp,omitempty"`
}

// AlertSink receives alerts.
type AlertSink interface {
	// Name returns the sink's identifier (e.g., "sentry", "webhook").
	Name() string

	// SendAlert delivers or enqueues the alert. Must not block on network I/O
	// longer than the implementation's own timeout.
	SendAlert(ctx context.Context, alert AlertPayload)
}

// TrailSink records trail entries.
type TrailSink interface {
	AppendTrailEntry(ctx context.Context, entry TrailEntry)
}

// Fanout sends each alert to every wrapped sink in order.
type Fanout []AlertSink

// Name implements AlertSink.
func (f Fanout) Name() string { return "fanout" }

// SendAlert implements AlertSink.
func (f Fanout) SendAlert(ctx context.Context, alert AlertPayload) {
	for _, s := range f {
		s.SendAlert(ctx, alert)
	}
}
