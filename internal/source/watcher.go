package source

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
)

const (
	defaultRetryDelay = 5 * time.Second
	defaultBuffer     = 100
)

// WatcherOptions configures the Watcher.
type WatcherOptions struct {
	// Namespace restricts the watch. Empty watches every namespace.
	Namespace string
	// RetryDelay is the pause before re-establishing a failed watch.
	RetryDelay time.Duration
	// Buffer is the capacity of the output channel.
	Buffer int
}

// Watcher streams Kubernetes Events.
type Watcher struct {
	logger *zap.Logger
	client kubernetes.Interface
	opts   WatcherOptions
	events chan *corev1.Event
}

// NewWatcher creates a new Watcher.
func NewWatcher(client kubernetes.Interface, logger *zap.Logger, opts WatcherOptions) *Watcher {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	return &Watcher{
		logger: logger.Named("source"),
		client: client,
		opts:   opts,
		events: make(chan *corev1.Event, opts.Buffer),
	}
}

// Events returns the channel of watched events. It is closed when Start returns.
func (w *Watcher) Events() <-chan *corev1.Event {
	return w.events
}

// Start watches events until ctx is cancelled. Blocks.
func (w *Watcher) Start(ctx context.Context) error {
	defer close(w.events)
	w.logger.Info("Starting event watch", zap.String("namespace", w.opts.Namespace))

	for {
		err := w.watchEvents(ctx)
		if ctx.Err() != nil {
			w.logger.Info("Event watch stopped")
			return nil
		}
		if err != nil {
			w.logger.Error("Event watch failed, retrying", zap.Error(err), zap.Duration("delay", w.opts.RetryDelay))
			reconnectsTotal.WithLabelValues("error").Inc()
		} else {
			w.logger.Info("Event watch closed, reconnecting", zap.Duration("delay", w.opts.RetryDelay))
			reconnectsTotal.WithLabelValues("closed").Inc()
		}

		select {
		case <-ctx.Done():
			w.logger.Info("Event watch stopped")
			return nil
		case <-time.After(w.opts.RetryDelay):
		}
	}
}

// watchEvents runs one watch until it closes, fails, or ctx is cancelled.
func (w *Watcher) watchEvents(ctx context.Context) error {
	watcher, err := w.client.CoreV1().Events(w.opts.Namespace).Watch(ctx, metav1.ListOptions{})
	if err != nil {
		return err
	}
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.ResultChan():
			if !ok {
				return nil
			}
			switch event.Type {
			case watch.Added, watch.Modified:
				ev, ok := event.Object.(*corev1.Event)
				if !ok {
					w.logger.Warn("Unexpected object in event watch", zap.String("type", fmt.Sprintf("%T", event.Object)))
					continue
				}
				select {
				case w.events <- ev:
				case <-ctx.Done():
					return ctx.Err()
				}
			case watch.Error:
				return apierrors.FromObject(event.Object)
			}
		}
	}
}
