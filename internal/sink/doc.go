// Package sink maps canonical events into the outbound alert model and
// delivers them.
//
// # Contract
//
// The Transformer builds two shapes from a CanonicalEvent:
//   - AlertPayload: tags, fingerprint, message, culprit, server name,
//     timestamp, extra metadata and level. Sent through an AlertSink.
//   - TrailEntry: name/namespace data, level, message and timestamp. Appended
//     through a TrailSink for every event that is not explicitly suppressed.
//
// Sinks are fire-and-forget. Implementations log their own failures; callers
// never see an error and never retry.
//
// # Fingerprint
//
// Non-empty reason, namespace, object name and object kind, in that order.
// Identical fingerprints collapse into one issue on the receiving side.
//
// # Implementations
//
//	SentrySink   Sentry events and breadcrumbs through a dedicated hub
//	WebhookSink  JSON POST with a bounded queue, workers and linear backoff
//	Fanout       one alert to many AlertSinks
package sink
