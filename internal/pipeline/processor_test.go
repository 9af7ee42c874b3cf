package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	corev1 "k8s.io/api/core/v1"

	"github.com/alekitto/sentry-kubernetes/internal/enricher"
	"github.com/alekitto/sentry-kubernetes/internal/filter"
	"github.com/alekitto/sentry-kubernetes/internal/sink"
	"github.com/alekitto/sentry-kubernetes/internal/testutil"
	"github.com/alekitto/sentry-kubernetes/internal/types"
	"github.com/alekitto/sentry-kubernetes/internal/watermark"
)

// recorder is an AlertSink and TrailSink that keeps everything it receives.
type recorder struct {
	mu     sync.Mutex
	alerts []sink.AlertPayload
	trail  []sink.TrailEntry
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) SendAlert(_ context.Context, a sink.AlertPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
}

func (r *recorder) AppendTrailEntry(_ context.Context, e sink.TrailEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trail = append(r.trail, e)
}

func (r *recorder) Alerts() []sink.AlertPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sink.AlertPayload(nil), r.alerts...)
}

func (r *recorder) Trail() []sink.TrailEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sink.TrailEntry(nil), r.trail...)
}

// lookups resolves pod hosts and node labels from maps, optionally sleeping
// per pod to reorder concurrent preparation.
type lookups struct {
	hosts  map[string]string
	labels map[string]map[string]string
	delay  map[string]time.Duration
}

func (l *lookups) PodHost(_ context.Context, ns, name string) (string, bool) {
	if d, ok := l.delay[name]; ok {
		time.Sleep(d)
	}
	h, ok := l.hosts[ns+"/"+name]
	return h, ok
}

func (l *lookups) NodeLabels(_ context.Context, node string) map[string]string {
	if lb, ok := l.labels[node]; ok {
		return lb
	}
	return map[string]string{}
}

type ProcessorSuite struct {
	suite.Suite
	rec     *recorder
	state   *watermark.State
	lookups *lookups
	cfg     types.FilterConfig
	opts    Options
}

func TestProcessorSuite(t *testing.T) {
	suite.Run(t, new(ProcessorSuite))
}

func (s *ProcessorSuite) SetupTest() {
	s.rec = &recorder{}
	s.state = watermark.NewState()
	s.lookups = &lookups{}
	s.cfg = types.FilterConfig{AcceptedSeverityLabels: types.DefaultAcceptedSeverityLabels()}
	s.opts = DefaultOptions()
}

func (s *ProcessorSuite) processor() *Processor {
	return s.processorWithLogger(zap.NewNop())
}

func (s *ProcessorSuite) processorWithLogger(logger *zap.Logger) *Processor {
	return NewProcessor(logger, Stages{
		Enricher:    enricher.NewResolver(s.lookups, s.lookups, logger),
		Filter:      filter.NewChain(s.cfg),
		Guard:       watermark.NewGuard(s.state),
		Transformer: sink.NewTransformer("test-cluster"),
		Alerts:      s.rec,
		Trail:       s.rec,
	}, s.opts)
}

func (s *ProcessorSuite) TestWarningIsAlertedAndRecorded() {
	p := s.processor()

	out := p.Process(context.Background(), testutil.LoadEvent(s.T(), "coredns-failed.yaml"))

	s.Equal(OutcomeAlerted, out)
	s.Require().Len(s.rec.Alerts(), 1)
	alert := s.rec.Alerts()[0]
	s.Equal(types.SeverityWarning, alert.Level)
	s.Equal([]string{"Failed", "kube-system", "coredns-bbbc4b766-fv96b", "Pod"}, alert.Fingerprint)
	s.Equal("test-cluster", alert.Tags["cluster"])
	s.Len(s.rec.Trail(), 1)
}

func (s *ProcessorSuite) TestNormalIsRecordedOnly() {
	p := s.processor()

	out := p.Process(context.Background(), testutil.LoadEvent(s.T(), "node-not-ready.yaml"))

	s.Equal(OutcomeRecorded, out)
	s.Empty(s.rec.Alerts())
	s.Require().Len(s.rec.Trail(), 1)
	s.Equal(types.SeverityInfo, s.rec.Trail()[0].Level)
}

func (s *ProcessorSuite) TestExclusionWinsOverForcedEscalation() {
	s.cfg.ExcludeComponents = []string{"kubelet"}
	p := s.processor()

	raw := testutil.MakeEvent("kube-system", "coredns-xyz", "Failed")
	raw.Type = "Error"
	out := p.Process(context.Background(), raw)

	s.Equal(OutcomeSuppressed, out)
	s.Empty(s.rec.Alerts())
	s.Empty(s.rec.Trail(), "suppressed events leave no trail entry")
}

func (s *ProcessorSuite) TestForcedEscalation() {
	s.cfg.AcceptedSeverityLabels = []string{"warning"}
	p := s.processor()

	raw := testutil.MakeEvent("kube-system", "coredns-xyz", "Failed")
	raw.Type = "Error"
	out := p.Process(context.Background(), raw)

	s.Equal(OutcomeAlerted, out)
	s.Require().Len(s.rec.Alerts(), 1)
	s.Equal(types.SeverityError, s.rec.Alerts()[0].Level)
}

func (s *ProcessorSuite) TestNamespaceAllowList() {
	s.cfg.IncludeNamespaces = []string{"prod"}
	p := s.processor()

	s.Equal(OutcomeSuppressed, p.Process(context.Background(), testutil.MakeEvent("staging", "web", "Failed")))

	unnamespaced := testutil.MakeEvent("", "web", "Failed")
	s.Equal(OutcomeSuppressed, p.Process(context.Background(), unnamespaced), "defaults to the default namespace")

	s.Equal(OutcomeAlerted, p.Process(context.Background(), testutil.MakeEvent("prod", "web", "Failed")))
}

func (s *ProcessorSuite) TestWatermark() {
	p := s.processor()
	base := testutil.MakeEvent("prod", "web", "Failed")
	ctx := context.Background()

	s.Equal(OutcomeAlerted, p.Process(ctx, testutil.At(base, testutil.BaseTime)))
	s.Equal(OutcomeStale, p.Process(ctx, testutil.At(base, testutil.BaseTime.Add(-24*time.Hour))))
	s.Equal(OutcomeAlerted, p.Process(ctx, testutil.At(base, testutil.BaseTime)))

	s.Len(s.rec.Alerts(), 2)
	s.Len(s.rec.Trail(), 2, "stale events leave no trail entry")
}

func (s *ProcessorSuite) TestSuppressedEventsDoNotMoveWatermark() {
	s.cfg.ExcludeReasons = []string{"BackOff"}
	p := s.processor()
	ctx := context.Background()

	s.Equal(OutcomeSuppressed, p.Process(ctx, testutil.At(testutil.MakeEvent("prod", "a", "BackOff"), testutil.BaseTime.Add(time.Hour))))
	_, ok := s.state.Last()
	s.False(ok)

	s.Equal(OutcomeAlerted, p.Process(ctx, testutil.MakeEvent("prod", "b", "Failed")))
}

func (s *ProcessorSuite) TestEnrichment() {
	s.lookups.hosts = map[string]string{"prod/web": "worker-1"}
	s.lookups.labels = map[string]map[string]string{"worker-1": {"zone": "a"}}
	p := s.processor()

	p.Process(context.Background(), testutil.MakeEvent("prod", "web", "Failed"))

	s.Require().Len(s.rec.Alerts(), 1)
	s.Equal("worker-1", s.rec.Alerts()[0].ServerName)
	s.Equal(map[string]string{"zone": "a"}, s.rec.Alerts()[0].NodeLabels)
}

func (s *ProcessorSuite) TestEnrichmentFallback() {
	p := s.processor()

	p.Process(context.Background(), testutil.MakeEvent("prod", "web", "Failed"))

	s.Require().Len(s.rec.Alerts(), 1)
	alert := s.rec.Alerts()[0]
	s.Equal(types.UnknownHost, alert.ServerName)
	s.Nil(alert.NodeLabels)
	s.Equal("prod/web Failed", alert.Culprit)
	s.Equal([]string{"Failed", "prod", "web", "Pod"}, alert.Fingerprint)
	s.Equal("Error: ImagePullBackOff", alert.Message)
}

func (s *ProcessorSuite) TestMalformedEventIsCountedAndLogged() {
	core, logs := observer.New(zapcore.ErrorLevel)
	p := s.processorWithLogger(zap.New(core))
	before := promtestutil.ToFloat64(eventsTotal.WithLabelValues(string(OutcomeMalformed)))

	raw := testutil.MakeEvent("prod", "web", "Failed")
	raw.Type = "Critical"
	out := p.Process(context.Background(), raw)

	s.Equal(OutcomeMalformed, out)
	s.Empty(s.rec.Alerts())
	s.Empty(s.rec.Trail())
	s.Equal(before+1, promtestutil.ToFloat64(eventsTotal.WithLabelValues(string(OutcomeMalformed))))
	s.Equal(1, logs.FilterMessage("Dropping event with unknown type").Len())
}

func (s *ProcessorSuite) TestRateLimitKeepsTrail() {
	s.opts.AlertRateLimitPerMinute = 1
	p := s.processor()
	ctx := context.Background()

	s.Equal(OutcomeAlerted, p.Process(ctx, testutil.MakeEvent("prod", "a", "Failed")))
	s.Equal(OutcomeRateLimited, p.Process(ctx, testutil.MakeEvent("prod", "b", "Failed")))
	s.Equal(OutcomeAlerted, p.Process(ctx, testutil.MakeEvent("staging", "c", "Failed")), "limits are per namespace")

	s.Len(s.rec.Alerts(), 2)
	s.Len(s.rec.Trail(), 3)
}

func (s *ProcessorSuite) TestRunDecidesInArrivalOrder() {
	s.opts.Workers = 4
	// Earlier events take longer to enrich, so they finish preparing last.
	s.lookups.delay = map[string]time.Duration{
		"pod-0": 80 * time.Millisecond,
		"pod-1": 60 * time.Millisecond,
		"pod-2": 40 * time.Millisecond,
		"pod-3": 20 * time.Millisecond,
	}
	p := s.processor()

	events := make(chan *corev1.Event, 4)
	names := []string{"pod-0", "pod-1", "pod-2", "pod-3"}
	for i, name := range names {
		ev := testutil.MakeEvent("prod", name, "Failed")
		events <- testutil.At(ev, testutil.BaseTime.Add(time.Duration(i)*time.Second))
	}
	close(events)

	s.Require().NoError(p.Run(context.Background(), events))

	alerts := s.rec.Alerts()
	s.Require().Len(alerts, 4, "in-order events must all pass the watermark")
	for i, a := range alerts {
		s.Equal(names[i], a.Tags["name"])
	}
}

func (s *ProcessorSuite) TestRunStopsOnCancel() {
	p := s.processor()
	events := make(chan *corev1.Event)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx, events) }()

	events <- testutil.MakeEvent("prod", "web", "Failed")
	cancel()

	select {
	case err := <-errCh:
		s.NoError(err)
	case <-time.After(5 * time.Second):
		s.Fail("Run did not return after cancellation")
	}
	s.Len(s.rec.Alerts(), 1, "the event read before cancellation is finished")
}

func TestAlertLimiter_PerNamespaceBuckets(t *testing.T) {
	l := newAlertLimiter(10, time.Hour)
	require.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"), "burst of one is spent")
	assert.True(t, l.Allow("b"), "other namespaces keep their own bucket")
}

func TestAlertLimiter_IdleBucketsExpire(t *testing.T) {
	l := newAlertLimiter(10, 20*time.Millisecond)
	require.True(t, l.Allow("a"))
	require.False(t, l.Allow("a"))
	time.Sleep(60 * time.Millisecond)
	assert.True(t, l.Allow("a"), "an expired bucket restarts with a full burst")
	assert.Equal(t, 1, l.buckets.Len())
}

func TestNewProcessor_DefaultWorkers(t *testing.T) {
	p := NewProcessor(zap.NewNop(), Stages{}, Options{})
	assert.Equal(t, DefaultOptions().Workers, p.opts.Workers)
	assert.Nil(t, p.limiter)
}
