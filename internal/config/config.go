// Package config loads the forwarder configuration from flags, environment
// variables and an optional YAML file, in that order of precedence.
//
// Environment variables carry no prefix: DSN, CLUSTER_NAME, EVENT_LEVELS and
// so on are read as-is. List options are comma-separated.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/alekitto/sentry-kubernetes/internal/types"
	"github.com/alekitto/sentry-kubernetes/internal/util"
)

// Keys double as environment variable names once uppercased.
const (
	KeyDSN                       = "dsn"
	KeyEnvironment               = "environment"
	KeyRelease                   = "release"
	KeyClusterName               = "cluster_name"
	KeyEventNamespaces           = "event_namespaces"
	KeyEventNamespacesExcluded   = "event_namespaces_excluded"
	KeyComponentFilter           = "component_filter"
	KeyReasonFilter              = "reason_filter"
	KeyEventLevels               = "event_levels"
	KeyLogLevel                  = "log_level"
	KeyWorkers                   = "workers"
	KeyAlertRateLimit            = "alert_rate_limit"
	KeyNodeLabelCacheTTL         = "node_label_cache_ttl"
	KeyWebhookURL                = "webhook_url"
	KeyWebhookAuthToken          = "webhook_auth_token"
	KeyWebhookTimeout            = "webhook_timeout"
	KeyWebhookInsecureSkipVerify = "webhook_insecure_skip_verify"
	KeyMetricsBindAddress        = "metrics_bind_address"
	KeyHealthProbeBindAddress    = "health_probe_bind_address"
	KeyLeaderElect               = "leader_elect"
	KeyOTLPEndpoint              = "otel_exporter_otlp_endpoint"
	KeyOTLPProtocol              = "otel_exporter_otlp_protocol"
	KeyTraceSamplingRate         = "trace_sampling_rate"
)

// ErrMissingDSN is returned by Validate when no Sentry DSN is configured.
var ErrMissingDSN = errors.New("DSN is required")

// Config is the resolved forwarder configuration.
type Config struct {
	DSN         string
	Environment string
	Release     string
	ClusterName string

	IncludeNamespaces []string
	ExcludeNamespaces []string
	ExcludeComponents []string
	ExcludeReasons    []string
	EventLevels       []string

	LogLevel string

	Workers           int
	AlertRateLimit    int
	NodeLabelCacheTTL time.Duration

	WebhookURL                string
	WebhookAuthToken          string
	WebhookTimeout            time.Duration
	WebhookInsecureSkipVerify bool

	MetricsBindAddress     string
	HealthProbeBindAddress string
	LeaderElect            bool

	OTLPEndpoint      string
	OTLPProtocol      string
	TraceSamplingRate float64
}

// flagName turns a key into its command-line flag name.
func flagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

// BindFlags registers every option on fs and binds it into v.
func BindFlags(fs *pflag.FlagSet, v *viper.Viper) error {
	fs.String(flagName(KeyDSN), "", "Sentry DSN events are reported to.")
	fs.String(flagName(KeyEnvironment), "", "Sentry environment.")
	fs.String(flagName(KeyRelease), "", "Sentry release.")
	fs.String(flagName(KeyClusterName), "", "Cluster name attached to every alert as the cluster tag.")
	fs.String(flagName(KeyEventNamespaces), "", "Comma-separated namespaces to watch. Empty watches all.")
	fs.String(flagName(KeyEventNamespacesExcluded), "", "Comma-separated namespaces to ignore.")
	fs.String(flagName(KeyComponentFilter), "", "Comma-separated source components to ignore.")
	fs.String(flagName(KeyReasonFilter), "", "Comma-separated event reasons to ignore.")
	fs.String(flagName(KeyEventLevels), "warning,error", "Comma-separated severities reported as alerts.")
	fs.String(flagName(KeyLogLevel), "info", "Log level (debug, info, warn, error).")
	fs.Int(flagName(KeyWorkers), 4, "Number of events normalized and enriched concurrently.")
	fs.Int(flagName(KeyAlertRateLimit), 0, "Maximum alerts per minute per namespace. 0 disables the limit.")
	fs.Duration(flagName(KeyNodeLabelCacheTTL), 5*time.Minute, "How long node labels are cached. Negative disables the cache.")
	fs.String(flagName(KeyWebhookURL), "", "URL alerts are additionally POSTed to as JSON.")
	fs.String(flagName(KeyWebhookAuthToken), "", "Bearer token for the webhook Authorization header.")
	fs.Duration(flagName(KeyWebhookTimeout), 10*time.Second, "Webhook HTTP request timeout.")
	fs.Bool(flagName(KeyWebhookInsecureSkipVerify), false, "Disable TLS certificate verification for the webhook (insecure).")
	fs.String(flagName(KeyMetricsBindAddress), ":8080", "The address the metric endpoint binds to.")
	fs.String(flagName(KeyHealthProbeBindAddress), ":8081", "The address the health probe endpoint binds to.")
	fs.Bool(flagName(KeyLeaderElect), false, "Enable leader election so only one replica forwards events.")
	fs.String(flagName(KeyOTLPEndpoint), "", "OTLP collector host:port for traces. Empty disables tracing.")
	fs.String(flagName(KeyOTLPProtocol), "http/protobuf", "OTLP protocol: grpc or http/protobuf.")
	fs.Float64(flagName(KeyTraceSamplingRate), 1.0, "Fraction of processed events traced.")

	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "help" {
			return
		}
		key := strings.ReplaceAll(f.Name, "-", "_")
		errs = append(errs, v.BindPFlag(key, f))
	})
	return errors.Join(errs...)
}

// Load reads configFile (when set) and resolves every option from v.
// Flags must already be bound with BindFlags.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{
		DSN:         v.GetString(KeyDSN),
		Environment: v.GetString(KeyEnvironment),
		Release:     v.GetString(KeyRelease),
		ClusterName: v.GetString(KeyClusterName),

		IncludeNamespaces: list(v, KeyEventNamespaces),
		ExcludeNamespaces: list(v, KeyEventNamespacesExcluded),
		ExcludeComponents: list(v, KeyComponentFilter),
		ExcludeReasons:    list(v, KeyReasonFilter),
		EventLevels:       severityLabels(list(v, KeyEventLevels)),

		LogLevel: v.GetString(KeyLogLevel),

		Workers:           v.GetInt(KeyWorkers),
		AlertRateLimit:    v.GetInt(KeyAlertRateLimit),
		NodeLabelCacheTTL: v.GetDuration(KeyNodeLabelCacheTTL),

		WebhookURL:                v.GetString(KeyWebhookURL),
		WebhookAuthToken:          v.GetString(KeyWebhookAuthToken),
		WebhookTimeout:            v.GetDuration(KeyWebhookTimeout),
		WebhookInsecureSkipVerify: v.GetBool(KeyWebhookInsecureSkipVerify),

		MetricsBindAddress:     v.GetString(KeyMetricsBindAddress),
		HealthProbeBindAddress: v.GetString(KeyHealthProbeBindAddress),
		LeaderElect:            v.GetBool(KeyLeaderElect),

		OTLPEndpoint:      v.GetString(KeyOTLPEndpoint),
		OTLPProtocol:      v.GetString(KeyOTLPProtocol),
		TraceSamplingRate: v.GetFloat64(KeyTraceSamplingRate),
	}
	if len(cfg.EventLevels) == 0 {
		cfg.EventLevels = types.DefaultAcceptedSeverityLabels()
	}
	return cfg, nil
}

// list reads a list option given either as a comma-separated string
// (flags, environment) or as a YAML sequence.
func list(v *viper.Viper, key string) []string {
	if s, ok := v.Get(key).(string); ok {
		return util.UniqueStrings(util.SplitCSV(s))
	}
	var out []string
	for _, item := range v.GetStringSlice(key) {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return util.UniqueStrings(out)
}

// severityLabels rewrites each level to its canonical severity label, so
// aliases such as "log" match the severities events carry. Unknown levels
// are kept lowercased for Validate to report.
func severityLabels(levels []string) []string {
	out := make([]string, 0, len(levels))
	for _, level := range levels {
		if sev, err := types.ParseSeverity(level); err == nil {
			out = append(out, sev.String())
		} else {
			out = append(out, strings.ToLower(level))
		}
	}
	return util.UniqueStrings(out)
}

// Validate checks the configuration for values the forwarder cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.DSN == "" {
		errs = append(errs, ErrMissingDSN)
	}
	for _, level := range c.EventLevels {
		if _, err := types.ParseSeverity(level); err != nil {
			errs = append(errs, fmt.Errorf("EVENT_LEVELS: %w", err))
		}
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("WORKERS must be positive, got %d", c.Workers))
	}
	if c.AlertRateLimit < 0 {
		errs = append(errs, fmt.Errorf("ALERT_RATE_LIMIT must not be negative, got %d", c.AlertRateLimit))
	}
	if c.WebhookURL != "" && c.WebhookTimeout <= 0 {
		errs = append(errs, fmt.Errorf("WEBHOOK_TIMEOUT must be positive, got %s", c.WebhookTimeout))
	}
	if c.TraceSamplingRate < 0 || c.TraceSamplingRate > 1 {
		errs = append(errs, fmt.Errorf("TRACE_SAMPLING_RATE must be within [0, 1], got %g", c.TraceSamplingRate))
	}
	return errors.Join(errs...)
}

// FilterConfig returns the filtering rules of the configuration.
func (c *Config) FilterConfig() types.FilterConfig {
	return types.FilterConfig{
		IncludeNamespaces:      c.IncludeNamespaces,
		ExcludeNamespaces:      c.ExcludeNamespaces,
		ExcludeComponents:      c.ExcludeComponents,
		ExcludeReasons:         c.ExcludeReasons,
		AcceptedSeverityLabels: c.EventLevels,
	}
}

// OffLevel is above every level zap emits, so a logger at OffLevel is silent.
const OffLevel = zapcore.FatalLevel + 1

// levelAliases maps level names zap does not know to its own.
var levelAliases = map[string]string{
	"trace":    "debug",
	"warning":  "warn",
	"critical": "fatal",
}

// ZapLevel parses LogLevel case-insensitively. "off" silences logging.
// Unrecognised levels fall back to error.
func (c *Config) ZapLevel() zapcore.Level {
	name := strings.ToLower(strings.TrimSpace(c.LogLevel))
	if name == "off" {
		return OffLevel
	}
	if alias, ok := levelAliases[name]; ok {
		name = alias
	}
	lvl, err := zapcore.ParseLevel(name)
	if err != nil {
		return zapcore.ErrorLevel
	}
	return lvl
}
