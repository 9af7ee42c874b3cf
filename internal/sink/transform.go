package sink

import (
	"maps"
	"strings"
	"time"

	"github.com/alekitto/sentry-kubernetes/internal/types"
)

// Transformer converts CanonicalEvents into sink payloads.
type Transformer struct {
	clusterName string
}

// NewTransformer creates a Transformer. An empty clusterName omits the
// cluster tag.
func NewTransformer(clusterName string) *Transformer {
	return &Transformer{clusterName: clusterName}
}

// ToAlert builds the alert payload for ev.
func (t *Transformer) ToAlert(ev *types.CanonicalEvent) AlertPayload {
	tags := make(map[string]string, 6)
	fingerprint := make([]string, 0, 4)

	if t.clusterName != "" {
		tags["cluster"] = t.clusterName
	}
	if ev.Component != "" {
		tags["component"] = ev.Component
	}
	if ev.Reason != "" {
		tags["reason"] = ev.Reason
		fingerprint = append(fingerprint, ev.Reason)
	}
	if ev.Namespace != "" {
		tags["namespace"] = ev.Namespace
		fingerprint = append(fingerprint, ev.Namespace)
	}
	if ev.ObjectName != "" {
		tags["name"] = ev.ObjectName
		fingerprint = append(fingerprint, ev.ObjectName)
	}
	if ev.ObjectKind != "" {
		tags["kind"] = ev.ObjectKind
		fingerprint = append(fingerprint, ev.ObjectKind)
	}

	alert := AlertPayload{
		Level:       ev.Severity,
		Message:     ev.Message,
		Culprit:     strings.TrimSpace(ev.ObjectRef() + " " + ev.Reason),
		ServerName:  ev.SourceHost,
		Timestamp:   copyTime(ev),
		Tags:        tags,
		Fingerprint: fingerprint,
		Extra:       maps.Clone(ev.RawMetadata),
	}
	if len(ev.NodeLabels) > 0 {
		alert.NodeLabels = maps.Clone(ev.NodeLabels)
	}
	return alert
}

// ToTrailEntry builds the trail entry for ev.
func (t *Transformer) ToTrailEntry(ev *types.CanonicalEvent) TrailEntry {
	return TrailEntry{
		Data: map[string]interface{}{
			"name":      ev.ObjectName,
			"namespace": ev.Namespace,
		},
		Level:     ev.Severity,
		Message:   ev.Message,
		Timestamp: copyTime(ev),
	}
}

func copyTime(ev *types.CanonicalEvent) *time.Time {
	if ev.CreationTimestamp == nil {
		return nil
	}
	ts := *ev.CreationTimestamp
	return &ts
}
