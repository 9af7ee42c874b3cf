package enricher

import (
	"context"
	"maps"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

const (
	defaultNodeCacheSize = 512
	defaultNodeCacheTTL  = 5 * time.Minute
)

// KubeLookupOptions configures KubeLookup.
type KubeLookupOptions struct {
	NodeCacheSize int           // default 512
	NodeCacheTTL  time.Duration // default 5m; negative disables caching
}

// KubeLookup resolves pod hosts and node labels against the Kubernetes API.
// It implements both PodHostResolver and NodeLabelResolver.
type KubeLookup struct {
	client    kubernetes.Interface
	logger    *zap.Logger
	nodeCache *expirable.LRU[string, map[string]string]
}

// NewKubeLookup creates a KubeLookup backed by client.
func NewKubeLookup(client kubernetes.Interface, logger *zap.Logger, opts KubeLookupOptions) *KubeLookup {
	if opts.NodeCacheSize <= 0 {
		opts.NodeCacheSize = defaultNodeCacheSize
	}
	if opts.NodeCacheTTL == 0 {
		opts.NodeCacheTTL = defaultNodeCacheTTL
	}

	k := &KubeLookup{
		client: client,
		logger: logger.Named("kube-lookup"),
	}
	if opts.NodeCacheTTL > 0 {
		k.nodeCache = expirable.NewLRU[string, map[string]string](opts.NodeCacheSize, nil, opts.NodeCacheTTL)
	}
	return k
}

// PodHost implements PodHostResolver.
func (k *KubeLookup) PodHost(ctx context.Context, namespace, name string) (string, bool) {
	pod, err := k.client.CoreV1().Pods(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		k.logLookupError("pod", namespace+"/"+name, err)
		return "", false
	}
	if pod.Spec.NodeName == "" {
		lookupTotal.WithLabelValues("pod", "unscheduled").Inc()
		return "", false
	}
	lookupTotal.WithLabelValues("pod", "success").Inc()
	return pod.Spec.NodeName, true
}

// NodeLabels implements NodeLabelResolver. Results are cached per node.
func (k *KubeLookup) NodeLabels(ctx context.Context, node string) map[string]string {
	if k.nodeCache != nil {
		if labels, ok := k.nodeCache.Get(node); ok {
			lookupTotal.WithLabelValues("node", "cached").Inc()
			return maps.Clone(labels)
		}
	}

	n, err := k.client.CoreV1().Nodes().Get(ctx, node, metav1.GetOptions{})
	if err != nil {
		k.logLookupError("node", node, err)
		return map[string]string{}
	}
	lookupTotal.WithLabelValues("node", "success").Inc()

	labels := maps.Clone(n.Labels)
	if labels == nil {
		labels = map[string]string{}
	}
	if k.nodeCache != nil {
		k.nodeCache.Add(node, labels)
	}
	return maps.Clone(labels)
}

func (k *KubeLookup) logLookupError(lookup, key string, err error) {
	result := "error"
	if apierrors.IsNotFound(err) {
		result = "not_found"
	}
	lookupTotal.WithLabelValues(lookup, result).Inc()
	k.logger.Debug("Lookup failed",
		zap.String("lookup", lookup),
		zap.String("key", key),
		zap.String("result", result),
		zap.Error(err),
	)
}
