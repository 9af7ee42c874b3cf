package pipeline

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	// alertLimiterIdle is how long an unused namespace keeps its bucket.
	alertLimiterIdle = time.Hour
	// alertLimiterNamespaces caps the number of tracked namespaces.
	alertLimiterNamespaces = 4096
)

// alertLimiter caps alerts per namespace with one token bucket each. Buckets
// of namespaces that stay quiet for the idle period expire, so a returning
// namespace starts with a full burst.
type alertLimiter struct {
	mu      sync.Mutex
	buckets *expirable.LRU[string, *rate.Limiter]
	limit   rate.Limit
	burst   int
}

func newAlertLimiter(perMinute int, idle time.Duration) *alertLimiter {
	return &alertLimiter{
		buckets: expirable.NewLRU[string, *rate.Limiter](alertLimiterNamespaces, nil, idle),
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   max(1, perMinute/10),
	}
}

// Allow takes a token from the namespace bucket.
func (l *alertLimiter) Allow(namespace string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	bucket, ok := l.buckets.Get(namespace)
	if !ok {
		bucket = rate.NewLimiter(l.limit, l.burst)
	}
	// Re-adding refreshes the idle deadline.
	l.buckets.Add(namespace, bucket)
	return bucket.Allow()
}
