// Package pipeline wires the event-processing stages together.
//
// # Contract
//
// For every raw Kubernetes Event the Processor:
//  1. Normalizes it into a CanonicalEvent (malformed events are dropped and counted)
//  2. Enriches it with the node running the involved pod and that node's labels
//  3. Applies the filter chain; suppressed events stop here with no trail entry
//  4. Applies the arrival-order guard; stale events stop here
//  5. Sends an alert when the severity is accepted (error always is)
//  6. Appends a trail entry
//
// # Concurrency
//
// Run prepares up to Workers events at once (steps 1 and 2, which perform
// Kubernetes API lookups) and decides them (steps 3 to 6) one at a time in
// arrival order. Stopping the context stops reading from the source; events
// already read are finished with a context that is no longer cancelled.
//
// # Rate Limiting
//
// Optional: at most AlertRateLimitPerMinute alerts per namespace. Excess alerts
// are counted as rate_limited; their trail entry is still recorded.
package pipeline
