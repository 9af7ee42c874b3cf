package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownSeverity is returned when an event kind cannot be mapped to a Severity.
var ErrUnknownSeverity = errors.New("unknown severity")

// Severity is the five-level classification derived from a Kubernetes event type.
type Severity string

const (
	SeverityDebug   Severity = "debug"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityFatal   Severity = "fatal"
)

// String implements fmt.Stringer.
func (s Severity) String() string { return string(s) }

// ParseSeverity maps a severity name to a Severity. Matching is case-insensitive;
// "log" is accepted as an alias of info.
func ParseSeverity(name string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return SeverityDebug, nil
	case "info", "log":
		return SeverityInfo, nil
	case "warning":
		return SeverityWarning, nil
	case "error":
		return SeverityError, nil
	case "fatal":
		return SeverityFatal, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSeverity, name)
	}
}

// SeverityFromKind derives a Severity from a lowercased event kind.
// The Kubernetes "normal" type is reported as info.
func SeverityFromKind(kind string) (Severity, error) {
	if kind == "normal" {
		return SeverityInfo, nil
	}
	return ParseSeverity(kind)
}
