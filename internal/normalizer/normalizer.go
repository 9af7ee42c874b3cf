// Package normalizer converts raw Kubernetes Events into CanonicalEvents.
package normalizer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"

	"github.com/alekitto/sentry-kubernetes/internal/types"
	"github.com/alekitto/sentry-kubernetes/internal/util"
)

// ErrMalformedEvent is returned for events that cannot be normalized. The
// upstream producer emitted something the pipeline has no mapping for.
var ErrMalformedEvent = errors.New("malformed event")

// managedFieldsKey is dropped from RawMetadata; field-manager history is large
// and carries no diagnostic value.
const managedFieldsKey = "managedFields"

// Normalize builds a CanonicalEvent from a Kubernetes Event. It is a pure
// function: the same input always yields an equal result.
func Normalize(ev *corev1.Event) (types.CanonicalEvent, error) {
	if ev == nil {
		return types.CanonicalEvent{}, fmt.Errorf("%w: nil event", ErrMalformedEvent)
	}

	kind := strings.ToLower(ev.Type)
	severity, err := types.SeverityFromKind(kind)
	if err != nil {
		return types.CanonicalEvent{}, fmt.Errorf("%w: event %s/%s: %w",
			ErrMalformedEvent, ev.Namespace, ev.Name, err)
	}

	meta, err := util.ObjectMetaMap(&ev.ObjectMeta, managedFieldsKey)
	if err != nil {
		return types.CanonicalEvent{}, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}

	out := types.CanonicalEvent{
		Kind:              kind,
		Severity:          severity,
		Component:         ev.Source.Component,
		SourceHost:        ev.Source.Host,
		Reason:            ev.Reason,
		Namespace:         namespaceOf(ev),
		ObjectKind:        ev.InvolvedObject.Kind,
		ObjectName:        ev.InvolvedObject.Name,
		Message:           ev.Message,
		CreationTimestamp: creationTime(ev),
		RawMetadata:       meta,
		NodeLabels:        map[string]string{},
	}
	if out.SourceHost == "" {
		out.SourceHost = types.UnknownHost
	}
	return out, nil
}

// namespaceOf prefers the involved object's namespace, then the event's own.
func namespaceOf(ev *corev1.Event) string {
	if ev.InvolvedObject.Namespace != "" {
		return ev.InvolvedObject.Namespace
	}
	if ev.Namespace != "" {
		return ev.Namespace
	}
	return types.DefaultNamespace
}

func creationTime(ev *corev1.Event) *time.Time {
	if ev.CreationTimestamp.IsZero() {
		return nil
	}
	t := ev.CreationTimestamp.Time
	return &t
}
