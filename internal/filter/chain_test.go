package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alekitto/sentry-kubernetes/internal/types"
)

func event(component, reason, ns string, sev types.Severity) *types.CanonicalEvent {
	return &types.CanonicalEvent{
		Component: component,
		Reason:    reason,
		Namespace: ns,
		Severity:  sev,
	}
}

func TestSuppress_Order(t *testing.T) {
	chain := NewChain(types.FilterConfig{
		ExcludeComponents: []string{"kubelet"},
		ExcludeReasons:    []string{"BackOff"},
		ExcludeNamespaces: []string{"kube-public"},
		IncludeNamespaces: []string{"prod"},
	})

	tests := []struct {
		name   string
		ev     *types.CanonicalEvent
		want   bool
		byRule Rule
	}{
		{"component wins over everything", event("kubelet", "BackOff", "kube-public", types.SeverityError), true, RuleExcludeComponent},
		{"reason before namespace", event("scheduler", "BackOff", "kube-public", types.SeverityWarning), true, RuleExcludeReason},
		{"excluded namespace before include-list", event("scheduler", "Failed", "kube-public", types.SeverityWarning), true, RuleExcludeNamespace},
		{"not in include-list", event("scheduler", "Failed", "staging", types.SeverityWarning), true, RuleNamespaceNotIncluded},
		{"passes", event("scheduler", "Failed", "prod", types.SeverityWarning), false, RuleNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, rule := chain.Suppress(tt.ev)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.byRule, rule)
		})
	}
}

func TestSuppress_EmptyConfigPassesEverything(t *testing.T) {
	chain := NewChain(types.FilterConfig{})
	got, _ := chain.Suppress(event("", "", "default", types.SeverityDebug))
	assert.False(t, got)
}

func TestSuppress_IncludeListDefaultNamespace(t *testing.T) {
	chain := NewChain(types.FilterConfig{IncludeNamespaces: []string{"prod"}})
	got, rule := chain.Suppress(event("", "", types.DefaultNamespace, types.SeverityWarning))
	assert.True(t, got)
	assert.Equal(t, RuleNamespaceNotIncluded, rule)

	chain = NewChain(types.FilterConfig{IncludeNamespaces: []string{"prod", "default"}})
	got, _ = chain.Suppress(event("", "", types.DefaultNamespace, types.SeverityWarning))
	assert.False(t, got)
}

func TestSuppress_EmptyComponentOnlyMatchesExplicitEmpty(t *testing.T) {
	chain := NewChain(types.FilterConfig{ExcludeComponents: []string{"kubelet"}})
	got, _ := chain.Suppress(event("", "Failed", "default", types.SeverityWarning))
	assert.False(t, got)
}

func TestShouldAlert(t *testing.T) {
	chain := NewChain(types.FilterConfig{AcceptedSeverityLabels: types.DefaultAcceptedSeverityLabels()})

	assert.True(t, chain.ShouldAlert(event("", "", "default", types.SeverityWarning)))
	assert.True(t, chain.ShouldAlert(event("", "", "default", types.SeverityError)))
	assert.False(t, chain.ShouldAlert(event("", "", "default", types.SeverityInfo)))
	assert.False(t, chain.ShouldAlert(event("", "", "default", types.SeverityFatal)))
}

func TestShouldAlert_ErrorIsForced(t *testing.T) {
	chain := NewChain(types.FilterConfig{AcceptedSeverityLabels: []string{"warning"}})
	assert.True(t, chain.ShouldAlert(event("", "", "default", types.SeverityError)))

	chain = NewChain(types.FilterConfig{})
	assert.True(t, chain.ShouldAlert(event("", "", "default", types.SeverityError)))
	assert.False(t, chain.ShouldAlert(event("", "", "default", types.SeverityWarning)))
}

func TestShouldAlert_LabelsAreLowercased(t *testing.T) {
	chain := NewChain(types.FilterConfig{AcceptedSeverityLabels: []string{"Info", "FATAL"}})
	assert.True(t, chain.ShouldAlert(event("", "", "default", types.SeverityInfo)))
	assert.True(t, chain.ShouldAlert(event("", "", "default", types.SeverityFatal)))
	assert.False(t, chain.ShouldAlert(event("", "", "default", types.SeverityWarning)))
}

func TestNewChain_DoesNotAliasCallerSlice(t *testing.T) {
	labels := []string{"Warning"}
	chain := NewChain(types.FilterConfig{AcceptedSeverityLabels: labels})
	assert.Equal(t, "Warning", labels[0])
	assert.Equal(t, []string{"warning"}, chain.Config().AcceptedSeverityLabels)
}
