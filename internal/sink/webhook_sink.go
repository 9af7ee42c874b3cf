package sink

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/wait"
)

const (
	webhookEnvelopeType  = "sentry-kubernetes.alert"
	webhookSchemaVersion = "1"
	idempotencyHeader    = "Idempotency-Key"

	defaultWebhookTimeout   = 10 * time.Second
	defaultWebhookQueueSize = 100
	defaultWebhookWorkers   = 3
)

// defaultWebhookBackoff makes up to three attempts, 1s then 2s apart.
var defaultWebhookBackoff = wait.Backoff{Duration: time.Second, Factor: 2, Jitter: 0.1, Steps: 3}

// WebhookEnvelope is the JSON body POSTed for one alert.
type WebhookEnvelope struct {
	Type          string `json:"type"`
	SchemaVersion string `json:"schemaVersion"`
	// Key identifies the alert occurrence. It is also sent as the
	// Idempotency-Key header and is identical across retries.
	Key string `json:"key"`
	// Level is the Sentry level name the alert is reported with.
	Level   string       `json:"level"`
	Culprit string       `json:"culprit"`
	Alert   AlertPayload `json:"alert"`
}

// NewWebhookEnvelope wraps alert for delivery.
func NewWebhookEnvelope(alert AlertPayload) WebhookEnvelope {
	return WebhookEnvelope{
		Type:          webhookEnvelopeType,
		SchemaVersion: webhookSchemaVersion,
		Key:           AlertKey(alert),
		Level:         string(sentryLevel(alert.Level)),
		Culprit:       alert.Culprit,
		Alert:         alert,
	}
}

// AlertKey derives a stable key from the alert fingerprint and its creation
// time. The same event delivered twice yields the same key.
func AlertKey(alert AlertPayload) string {
	h := sha256.New()
	for _, part := range alert.Fingerprint {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	if alert.Timestamp != nil {
		h.Write([]byte(alert.Timestamp.UTC().Format(time.RFC3339Nano)))
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// WebhookSinkConfig holds the configuration for creating a WebhookSink.
type WebhookSinkConfig struct {
	URL                string
	Timeout            time.Duration // per attempt, default 10s
	InsecureSkipVerify bool
	// AuthToken is sent as a bearer token when set.
	AuthToken string
	QueueSize int // default 100
	Workers   int // default 3
	// Backoff paces retries. Zero value: 3 attempts, 1s then 2s apart.
	Backoff wait.Backoff
}

type webhookDelivery struct {
	key     string
	culprit string
	body    []byte
}

// WebhookSink mirrors alerts to an HTTP endpoint as JSON. Alerts are queued
// and delivered by Run; SendAlert never blocks the pipeline.
type WebhookSink struct {
	client    *http.Client
	logger    *zap.Logger
	endpoint  string
	authToken string
	backoff   wait.Backoff
	workers   int

	mu     sync.RWMutex
	closed bool
	queue  chan webhookDelivery
}

// NewWebhookSink creates a WebhookSink. Returns an error if the URL is not
// an absolute http(s) URL.
func NewWebhookSink(logger *zap.Logger, cfg WebhookSinkConfig) (*WebhookSink, error) {
	u, err := url.ParseRequestURI(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("webhook URL must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("webhook URL must include a host")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultWebhookTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultWebhookQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWebhookWorkers
	}
	if cfg.Backoff.Steps <= 0 {
		cfg.Backoff = defaultWebhookBackoff
	}

	logger = logger.Named("webhook-sink")
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // user-configured
		logger.Warn("Webhook TLS certificate verification is disabled", zap.String("url", RedactURL(cfg.URL)))
	}

	return &WebhookSink{
		client:    &http.Client{Timeout: cfg.Timeout, Transport: transport},
		logger:    logger,
		endpoint:  u.String(),
		authToken: cfg.AuthToken,
		backoff:   cfg.Backoff,
		workers:   cfg.Workers,
		queue:     make(chan webhookDelivery, cfg.QueueSize),
	}, nil
}

// Name implements AlertSink.
func (ws *WebhookSink) Name() string { return "webhook" }

// SendAlert implements AlertSink. The alert is dropped when the queue is
// full or Run has returned.
func (ws *WebhookSink) SendAlert(_ context.Context, alert AlertPayload) {
	envelope := NewWebhookEnvelope(alert)
	body, err := json.Marshal(envelope)
	if err != nil {
		alertsTotal.WithLabelValues(ws.Name(), "error").Inc()
		ws.logger.Error("Failed to encode webhook alert", zap.String("culprit", alert.Culprit), zap.Error(err))
		return
	}

	ws.mu.RLock()
	defer ws.mu.RUnlock()
	if ws.closed {
		alertsTotal.WithLabelValues(ws.Name(), "dropped").Inc()
		ws.logger.Warn("Webhook sink stopped, dropping alert", zap.String("culprit", alert.Culprit))
		return
	}
	select {
	case ws.queue <- webhookDelivery{key: envelope.Key, culprit: alert.Culprit, body: body}:
	default:
		alertsTotal.WithLabelValues(ws.Name(), "dropped").Inc()
		ws.logger.Warn("Webhook queue full, dropping alert", zap.String("culprit", alert.Culprit))
	}
}

// Run delivers queued alerts until ctx is cancelled, then delivers whatever
// is still queued and returns. Blocks.
func (ws *WebhookSink) Run(ctx context.Context) error {
	var g errgroup.Group
	for range ws.workers {
		g.Go(func() error {
			for d := range ws.queue {
				ws.deliver(d)
			}
			return nil
		})
	}
	ws.logger.Info("Webhook sink started",
		zap.String("url", RedactURL(ws.endpoint)),
		zap.Int("workers", ws.workers),
	)

	<-ctx.Done()
	ws.mu.Lock()
	ws.closed = true
	close(ws.queue)
	ws.mu.Unlock()

	err := g.Wait()
	ws.logger.Info("Webhook sink drained")
	return err
}

// deliver POSTs one alert, retrying transport errors, 429 and 5xx responses.
// Deliveries are not tied to the Run context so queued alerts survive shutdown.
func (ws *WebhookSink) deliver(d webhookDelivery) {
	var lastErr error
	attempts := 0
	err := wait.ExponentialBackoffWithContext(context.Background(), ws.backoff, func(ctx context.Context) (bool, error) {
		attempts++
		lastErr = ws.post(ctx, d)
		if lastErr == nil {
			return true, nil
		}
		var rejected *rejectedError
		if errors.As(lastErr, &rejected) {
			return false, lastErr
		}
		ws.logger.Debug("Webhook delivery failed, will retry",
			zap.String("key", d.key),
			zap.Int("attempt", attempts),
			zap.Error(lastErr),
		)
		return false, nil
	})
	if attempts > 1 {
		alertsTotal.WithLabelValues(ws.Name(), "retry").Add(float64(attempts - 1))
	}
	if err == nil {
		alertsTotal.WithLabelValues(ws.Name(), "sent").Inc()
		return
	}

	alertsTotal.WithLabelValues(ws.Name(), "error").Inc()
	ws.logger.Error("Webhook delivery failed",
		zap.String("url", RedactURL(ws.endpoint)),
		zap.String("key", d.key),
		zap.String("culprit", d.culprit),
		zap.Int("attempts", attempts),
		zap.Error(lastErr),
	)
}

func (ws *WebhookSink) post(ctx context.Context, d webhookDelivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.endpoint, bytes.NewReader(d.body))
	if err != nil {
		return &rejectedError{err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", SDKName+"/"+DefaultSDKVersion)
	req.Header.Set(idempotencyHeader, d.key)
	if ws.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+ws.authToken)
	}

	start := time.Now()
	resp, err := ws.client.Do(req)
	if err != nil {
		webhookSendDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		webhookSendDuration.WithLabelValues("success").Observe(time.Since(start).Seconds())
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		webhookSendDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return fmt.Errorf("webhook responded %s", resp.Status)
	default:
		webhookSendDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return &rejectedError{err: fmt.Errorf("webhook rejected alert: %s", resp.Status)}
	}
}

// rejectedError is a delivery failure that retrying cannot fix.
type rejectedError struct {
	err error
}

func (e *rejectedError) Error() string { return e.err.Error() }
func (e *rejectedError) Unwrap() error { return e.err }

// RedactURL hides the password and the query string of rawURL for logging.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid-url>"
	}
	if u.RawQuery != "" {
		u.RawQuery = "redacted"
	}
	return u.Redacted()
}
