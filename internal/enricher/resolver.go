// Package enricher attaches host context to events whose source did not
// report a node: the node running the involved pod, then that node's labels.
//
// Every lookup fails soft. A failed or unnecessary lookup leaves the event
// unchanged and processing continues.
package enricher

import (
	"context"

	"go.uber.org/zap"

	"github.com/alekitto/sentry-kubernetes/internal/types"
)

// PodHostResolver finds the node a pod is scheduled on.
type PodHostResolver interface {
	// PodHost returns the node name, or false when the pod is unknown,
	// unscheduled, or the lookup failed.
	PodHost(ctx context.Context, namespace, name string) (string, bool)
}

// NodeLabelResolver returns the labels of a node.
type NodeLabelResolver interface {
	// NodeLabels returns the node's labels, or an empty map on any failure.
	NodeLabels(ctx context.Context, node string) map[string]string
}

// Resolver enriches CanonicalEvents in place.
type Resolver struct {
	pods   PodHostResolver
	nodes  NodeLabelResolver
	logger *zap.Logger
}

// NewResolver creates a Resolver. Either lookup may be nil, which disables it.
func NewResolver(pods PodHostResolver, nodes NodeLabelResolver, logger *zap.Logger) *Resolver {
	return &Resolver{
		pods:   pods,
		nodes:  nodes,
		logger: logger.Named("enricher"),
	}
}

// Enrich resolves the host of ev and its node labels. It never fails; lookup
// failures leave SourceHost and NodeLabels as they were.
func (r *Resolver) Enrich(ctx context.Context, ev *types.CanonicalEvent) {
	host, ok := r.resolveHost(ctx, ev)
	if !ok {
		return
	}
	ev.SourceHost = host

	labels := r.resolveLabels(ctx, host)
	if len(labels) > 0 {
		ev.NodeLabels = labels
	}
}

// resolveHost returns the host already on the event, or the node of the
// involved pod.
func (r *Resolver) resolveHost(ctx context.Context, ev *types.CanonicalEvent) (string, bool) {
	if ev.HasKnownHost() {
		return ev.SourceHost, true
	}
	if ev.ObjectKind != "Pod" || ev.ObjectName == "" || r.pods == nil {
		return "", false
	}
	host, ok := r.pods.PodHost(ctx, ev.Namespace, ev.ObjectName)
	if !ok || host == "" {
		r.logger.Debug("Pod host not resolved",
			zap.String("namespace", ev.Namespace),
			zap.String("pod", ev.ObjectName),
		)
		return "", false
	}
	return host, true
}

func (r *Resolver) resolveLabels(ctx context.Context, host string) map[string]string {
	if r.nodes == nil {
		return nil
	}
	return r.nodes.NodeLabels(ctx, host)
}
