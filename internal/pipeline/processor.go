package pipeline

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	corev1 "k8s.io/api/core/v1"

	"github.com/alekitto/sentry-kubernetes/internal/enricher"
	"github.com/alekitto/sentry-kubernetes/internal/filter"
	"github.com/alekitto/sentry-kubernetes/internal/normalizer"
	"github.com/alekitto/sentry-kubernetes/internal/sink"
	"github.com/alekitto/sentry-kubernetes/internal/types"
	"github.com/alekitto/sentry-kubernetes/internal/watermark"
)

const tracerName = "github.com/alekitto/sentry-kubernetes/internal/pipeline"

// Outcome is the terminal state of one processed event.
type Outcome string

const (
	OutcomeAlerted     Outcome = "alerted"      // alert sent and trail entry recorded
	OutcomeRecorded    Outcome = "recorded"     // below threshold, trail entry only
	OutcomeRateLimited Outcome = "rate_limited" // alert dropped by namespace limit, trail entry recorded
	OutcomeSuppressed  Outcome = "suppressed"   // excluded by the filter chain
	OutcomeStale       Outcome = "stale"        // older than the watermark
	OutcomeMalformed   Outcome = "malformed"    // could not be normalized
)

// Options configures the Processor.
type Options struct {
	Workers                 int // default 4
	AlertRateLimitPerMinute int // 0 disables
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{Workers: 4}
}

// Stages are the collaborators of a Processor.
type Stages struct {
	Enricher    *enricher.Resolver
	Filter      *filter.Chain
	Guard       *watermark.Guard
	Transformer *sink.Transformer
	Alerts      sink.AlertSink
	Trail       sink.TrailSink
}

// Processor runs Kubernetes events through the pipeline.
type Processor struct {
	logger  *zap.Logger
	stages  Stages
	opts    Options
	limiter *alertLimiter
}

// NewProcessor creates a Processor.
func NewProcessor(logger *zap.Logger, stages Stages, opts Options) *Processor {
	if opts.Workers <= 0 {
		opts.Workers = DefaultOptions().Workers
	}
	p := &Processor{
		logger: logger.Named("pipeline"),
		stages: stages,
		opts:   opts,
	}
	if opts.AlertRateLimitPerMinute > 0 {
		p.limiter = newAlertLimiter(opts.AlertRateLimitPerMinute, alertLimiterIdle)
	}
	return p
}

// prepared is a normalized and enriched event waiting for its decision.
type prepared struct {
	raw *corev1.Event
	ev  types.CanonicalEvent
	err error
}

// Process runs one event through every stage and returns its outcome.
func (p *Processor) Process(ctx context.Context, raw *corev1.Event) Outcome {
	return p.decide(ctx, p.prepare(ctx, raw))
}

// Run consumes events until the channel closes or ctx is cancelled. Events are
// prepared concurrently and decided in arrival order.
func (p *Processor) Run(ctx context.Context, events <-chan *corev1.Event) error {
	p.logger.Info("Starting pipeline",
		zap.Int("workers", p.opts.Workers),
		zap.Int("alert_rate_limit_per_minute", p.opts.AlertRateLimitPerMinute),
	)
	// In-flight events outlive ctx.
	work := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(p.opts.Workers)

	pending := make(chan chan prepared, p.opts.Workers)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for slot := range pending {
			p.decide(work, <-slot)
		}
	}()

	p.feed(ctx, events, pending, &g, work)
	close(pending)
	<-done
	_ = g.Wait()

	p.logger.Info("Pipeline stopped")
	return nil
}

// feed reads events and schedules their preparation. Slots are queued in
// arrival order before the preparation starts.
func (p *Processor) feed(ctx context.Context, events <-chan *corev1.Event, pending chan<- chan prepared, g *errgroup.Group, work context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-events:
			if !ok {
				return
			}
			// The decision loop always drains pending, so an event that
			// was read is never lost to cancellation.
			slot := make(chan prepared, 1)
			pending <- slot
			g.Go(func() error {
				slot <- p.prepare(work, raw)
				return nil
			})
		}
	}
}

// prepare normalizes and enriches raw.
func (p *Processor) prepare(ctx context.Context, raw *corev1.Event) prepared {
	ev, err := normalizer.Normalize(raw)
	if err != nil {
		return prepared{raw: raw, err: err}
	}
	if p.stages.Enricher != nil {
		p.stages.Enricher.Enrich(ctx, &ev)
	}
	return prepared{raw: raw, ev: ev}
}

// decide applies filter, guard, alerting and trail recording.
func (p *Processor) decide(ctx context.Context, in prepared) Outcome {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline.decide")
	defer span.End()

	outcome := p.decideEvent(ctx, in)

	span.SetAttributes(attribute.String("outcome", string(outcome)))
	if in.err != nil {
		span.SetStatus(codes.Error, in.err.Error())
	} else {
		span.SetAttributes(
			attribute.String("k8s.namespace.name", in.ev.Namespace),
			attribute.String("event.reason", in.ev.Reason),
			attribute.String("event.severity", in.ev.Severity.String()),
		)
	}
	eventsTotal.WithLabelValues(string(outcome)).Inc()
	return outcome
}

func (p *Processor) decideEvent(ctx context.Context, in prepared) Outcome {
	if in.err != nil {
		fields := []zap.Field{zap.Error(in.err)}
		if in.raw != nil {
			fields = append(fields,
				zap.String("namespace", in.raw.Namespace),
				zap.String("event", in.raw.Name),
				zap.String("type", in.raw.Type),
			)
		}
		if errors.Is(in.err, types.ErrUnknownSeverity) {
			p.logger.Error("Dropping event with unknown type", fields...)
		} else {
			p.logger.Error("Dropping malformed event", fields...)
		}
		return OutcomeMalformed
	}

	ev := &in.ev
	if suppressed, rule := p.stages.Filter.Suppress(ev); suppressed {
		suppressedTotal.WithLabelValues(string(rule)).Inc()
		p.logger.Debug("Event suppressed",
			zap.String("rule", string(rule)),
			zap.String("object", ev.ObjectRef()),
			zap.String("reason", ev.Reason),
		)
		return OutcomeSuppressed
	}

	if !p.stages.Guard.Admit(ev) {
		p.logger.Debug("Stale event rejected",
			zap.String("object", ev.ObjectRef()),
			zap.Timep("created", ev.CreationTimestamp),
		)
		return OutcomeStale
	}

	outcome := OutcomeRecorded
	if p.stages.Filter.ShouldAlert(ev) {
		if p.limiter != nil && !p.limiter.Allow(ev.Namespace) {
			p.logger.Debug("Namespace rate limited", zap.String("namespace", ev.Namespace))
			outcome = OutcomeRateLimited
		} else {
			p.stages.Alerts.SendAlert(ctx, p.stages.Transformer.ToAlert(ev))
			outcome = OutcomeAlerted
		}
	} else {
		p.logger.Debug("Below alert threshold",
			zap.String("object", ev.ObjectRef()),
			zap.String("severity", ev.Severity.String()),
		)
	}

	p.stages.Trail.AppendTrailEntry(ctx, p.stages.Transformer.ToTrailEntry(ev))
	return outcome
}
