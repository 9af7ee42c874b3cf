// sentry-kubernetes forwards Kubernetes Events to Sentry.
//
// Every event in the cluster is recorded as a breadcrumb; events at an
// alerting severity are also reported as Sentry events, optionally mirrored
// to a JSON webhook.
//
// Usage:
//
//	DSN=https://key@sentry.example.com/1 sentry-kubernetes
//	sentry-kubernetes --dsn=... --event-levels=warning,error --component-filter=kubelet
//	sentry-kubernetes --config /etc/sentry-kubernetes/config.yaml
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/client-go/kubernetes"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/alekitto/sentry-kubernetes/internal/config"
	"github.com/alekitto/sentry-kubernetes/internal/enricher"
	"github.com/alekitto/sentry-kubernetes/internal/filter"
	"github.com/alekitto/sentry-kubernetes/internal/pipeline"
	"github.com/alekitto/sentry-kubernetes/internal/sink"
	"github.com/alekitto/sentry-kubernetes/internal/source"
	"github.com/alekitto/sentry-kubernetes/internal/tracing"
	"github.com/alekitto/sentry-kubernetes/internal/watermark"
)

const sentryFlushTimeout = 2 * time.Second

var (
	version = "dev"
	scheme  = runtime.NewScheme()
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
}

func main() {
	if err := newRootCmd().ExecuteContext(ctrl.SetupSignalHandler()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var configFile string

	cmd := &cobra.Command{
		Use:   "sentry-kubernetes",
		Short: "Forward Kubernetes events to Sentry",
		Long: `sentry-kubernetes watches Kubernetes Events across the cluster and reports
them to Sentry.

Every event not excluded by a filter is recorded as a breadcrumb. Events whose
severity is listed in --event-levels (or of type Error) are captured as Sentry
events, tagged with cluster, namespace, object and reason.

Every flag can also be set through the environment variable of the same name,
uppercased with dashes replaced by underscores (DSN, EVENT_LEVELS, ...).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "YAML config file. Flags and environment variables take precedence.")
	utilruntime.Must(config.BindFlags(cmd.Flags(), v))
	return cmd
}

func newLogger(level zapcore.Level) (*zap.Logger, error) {
	logConfig := zap.NewProductionConfig()
	logConfig.Level = zap.NewAtomicLevelAt(level)
	logConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return logConfig.Build()
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg.ZapLevel())
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("Starting sentry-kubernetes",
		zap.String("version", version),
		zap.String("cluster", cfg.ClusterName),
		zap.Strings("event_levels", cfg.EventLevels),
		zap.Bool("leader_elect", cfg.LeaderElect),
		zap.Int("workers", cfg.Workers),
	)

	shutdownTracing, err := tracing.Init(ctx, tracing.Options{
		ServiceName:    "sentry-kubernetes",
		ServiceVersion: version,
		Endpoint:       cfg.OTLPEndpoint,
		Protocol:       cfg.OTLPProtocol,
		SamplingRate:   cfg.TraceSamplingRate,
	})
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("Failed to shut down tracing", zap.Error(err))
		}
	}()

	restConfig := ctrl.GetConfigOrDie()
	mgr, err := ctrl.NewManager(restConfig, ctrl.Options{
		Scheme:                 scheme,
		LeaderElection:         cfg.LeaderElect,
		LeaderElectionID:       "sentry-kubernetes-leader",
		HealthProbeBindAddress: cfg.HealthProbeBindAddress,
		Metrics: metricsserver.Options{
			BindAddress: cfg.MetricsBindAddress,
		},
	})
	if err != nil {
		return fmt.Errorf("unable to create manager: %w", err)
	}

	// Register health checks
	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		return fmt.Errorf("unable to set up health check: %w", err)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		return fmt.Errorf("unable to set up readiness check: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return fmt.Errorf("failed to create clientset: %w", err)
	}

	// Build sinks
	sentrySink, err := sink.NewSentrySink(logger, sink.SentrySinkConfig{
		DSN:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		Debug:       cfg.ZapLevel() == zapcore.DebugLevel,
	})
	if err != nil {
		return fmt.Errorf("failed to create sentry sink: %w", err)
	}
	defer sentrySink.Flush(sentryFlushTimeout)

	alerts := sink.Fanout{sentrySink}
	var webhookSink *sink.WebhookSink
	if cfg.WebhookURL != "" {
		webhookSink, err = sink.NewWebhookSink(logger, sink.WebhookSinkConfig{
			URL:                cfg.WebhookURL,
			Timeout:            cfg.WebhookTimeout,
			InsecureSkipVerify: cfg.WebhookInsecureSkipVerify,
			AuthToken:          cfg.WebhookAuthToken,
		})
		if err != nil {
			return fmt.Errorf("failed to create webhook sink: %w", err)
		}
		alerts = append(alerts, webhookSink)
		logger.Info("Webhook sink configured", zap.String("url", sink.RedactURL(cfg.WebhookURL)))
	}

	// Build pipeline
	lookup := enricher.NewKubeLookup(clientset, logger, enricher.KubeLookupOptions{
		NodeCacheTTL: cfg.NodeLabelCacheTTL,
	})
	processor := pipeline.NewProcessor(logger, pipeline.Stages{
		Enricher:    enricher.NewResolver(lookup, lookup, logger),
		Filter:      filter.NewChain(cfg.FilterConfig()),
		Guard:       watermark.NewGuard(watermark.NewState()),
		Transformer: sink.NewTransformer(cfg.ClusterName),
		Alerts:      alerts,
		Trail:       sentrySink,
	}, pipeline.Options{
		Workers:                 cfg.Workers,
		AlertRateLimitPerMinute: cfg.AlertRateLimit,
	})

	watcher := source.NewWatcher(clientset, logger, source.WatcherOptions{})

	// Add runnable to deliver webhook alerts; it drains its queue on shutdown
	if webhookSink != nil {
		if err := mgr.Add(runnableFunc(webhookSink.Run)); err != nil {
			return fmt.Errorf("failed to add webhook sink to manager: %w", err)
		}
	}

	// Add runnable to start event watch
	if err := mgr.Add(runnableFunc(watcher.Start)); err != nil {
		return fmt.Errorf("failed to add event watcher to manager: %w", err)
	}

	// Add runnable to process watched events
	if err := mgr.Add(runnableFunc(func(ctx context.Context) error {
		return processor.Run(ctx, watcher.Events())
	})); err != nil {
		return fmt.Errorf("failed to add pipeline to manager: %w", err)
	}

	// Start manager (blocks until context is cancelled)
	logger.Info("Starting manager")
	if err := mgr.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("manager exited with error: %w", err)
	}

	logger.Info("Shutting down, flushing Sentry", zap.Duration("timeout", sentryFlushTimeout))
	return nil
}

// runnableFunc converts a function to a controller-runtime Runnable.
type runnableFunc func(context.Context) error

func (r runnableFunc) Start(ctx context.Context) error {
	return r(ctx)
}
