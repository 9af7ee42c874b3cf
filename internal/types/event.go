package types

import (
	"slices"
	"time"
)

// UnknownHost is the SourceHost value of an event whose source carried no host.
const UnknownHost = "n/a"

// DefaultNamespace is used when neither the involved object nor the event
// metadata name a namespace.
const DefaultNamespace = "default"

// CanonicalEvent is the normalized representation of one Kubernetes event.
//
// It is built once by the normalizer, mutated only by the enricher
// (SourceHost, NodeLabels) and read-only afterwards.
type CanonicalEvent struct {
	// Kind is the lowercased event type ("warning", "normal", ...).
	Kind     string
	Severity Severity

	Component string // empty when unknown
	Reason    string // empty when unknown

	// SourceHost is UnknownHost when the source had no host. Empty only
	// before enrichment has been attempted.
	SourceHost string

	Namespace  string // never empty
	ObjectKind string
	ObjectName string
	Message    string

	// CreationTimestamp is nil when the event metadata has no creation time.
	CreationTimestamp *time.Time

	// RawMetadata is the event ObjectMeta without managedFields. Diagnostic
	// payload only; never used for filtering.
	RawMetadata map[string]interface{}

	// NodeLabels holds the labels of SourceHost once enrichment succeeds.
	NodeLabels map[string]string
}

// HasKnownHost reports whether SourceHost names a real node.
func (e *CanonicalEvent) HasKnownHost() bool {
	return e.SourceHost != "" && e.SourceHost != UnknownHost
}

// ObjectRef returns "namespace/name", or just the namespace when the
// involved object has no name.
func (e *CanonicalEvent) ObjectRef() string {
	if e.Namespace != "" && e.ObjectName != "" {
		return e.Namespace + "/" + e.ObjectName
	}
	return e.Namespace
}

// FilterConfig holds the operator-provided filtering rules. Loaded once at
// startup and never mutated.
type FilterConfig struct {
	IncludeNamespaces      []string
	ExcludeNamespaces      []string
	ExcludeComponents      []string
	ExcludeReasons         []string
	AcceptedSeverityLabels []string
}

// DefaultAcceptedSeverityLabels are alerted when no EVENT_LEVELS are configured.
func DefaultAcceptedSeverityLabels() []string {
	return []string{"warning", "error"}
}

// Accepts reports whether the severity label is in the accepted list.
func (c FilterConfig) Accepts(s Severity) bool {
	return slices.Contains(c.AcceptedSeverityLabels, s.String())
}
