// Package filter decides which events are alert candidates.
//
// Exclusion rules run in a fixed order and the first match wins:
//
//  1. component exclude-list
//  2. reason exclude-list
//  3. namespace exclude-list
//  4. namespace include-list (when non-empty)
//
// A candidate is alerted when its severity label is accepted, and always when
// its severity is error. Exclusions take precedence over that escalation.
package filter

import (
	"slices"

	"github.com/alekitto/sentry-kubernetes/internal/types"
	"github.com/alekitto/sentry-kubernetes/internal/util"
)

// Rule names the exclusion rule that suppressed an event.
type Rule string

const (
	RuleNone                 Rule = ""
	RuleExcludeComponent     Rule = "component"
	RuleExcludeReason        Rule = "reason"
	RuleExcludeNamespace     Rule = "namespace_excluded"
	RuleNamespaceNotIncluded Rule = "namespace_not_included"
)

// Chain evaluates a FilterConfig against events. Safe for concurrent use.
type Chain struct {
	cfg types.FilterConfig
}

// NewChain creates a Chain. Accepted severity labels are lowercased.
func NewChain(cfg types.FilterConfig) *Chain {
	cfg.AcceptedSeverityLabels = util.LowerAll(cfg.AcceptedSeverityLabels)
	return &Chain{cfg: cfg}
}

// Config returns the configuration the chain evaluates.
func (c *Chain) Config() types.FilterConfig {
	return c.cfg
}

// Suppress reports whether ev is excluded and by which rule.
func (c *Chain) Suppress(ev *types.CanonicalEvent) (bool, Rule) {
	switch {
	case slices.Contains(c.cfg.ExcludeComponents, ev.Component):
		return true, RuleExcludeComponent
	case slices.Contains(c.cfg.ExcludeReasons, ev.Reason):
		return true, RuleExcludeReason
	case slices.Contains(c.cfg.ExcludeNamespaces, ev.Namespace):
		return true, RuleExcludeNamespace
	case len(c.cfg.IncludeNamespaces) > 0 && !slices.Contains(c.cfg.IncludeNamespaces, ev.Namespace):
		return true, RuleNamespaceNotIncluded
	}
	return false, RuleNone
}

// ShouldAlert reports whether a candidate is sent as an alert. Error-level
// events are always alerted.
func (c *Chain) ShouldAlert(ev *types.CanonicalEvent) bool {
	return ev.Severity == types.SeverityError || c.cfg.Accepts(ev.Severity)
}
