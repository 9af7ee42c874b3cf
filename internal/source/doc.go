// Package source watches Kubernetes Events across every namespace and
// emits each applied (added or modified) Event on a channel.
//
// # Contract
//
// The Watcher:
//  1. Watches all Events (core/v1) cluster-wide
//  2. Emits Added and Modified objects, in the order the API server sends them
//  3. Reconnects after a delay (5s by default) when the watch fails or closes
//  4. Closes its output channel when the context is cancelled
//
// # Constructor
//
//	func NewWatcher(client kubernetes.Interface, logger *zap.Logger, opts WatcherOptions) *Watcher
//	func (w *Watcher) Start(ctx context.Context) error  // blocking
//	func (w *Watcher) Events() <-chan *corev1.Event
package source
