package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telehealth/rxdesk/internal/platform/telemetry"
)

// Publisher emits domain events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient overrides the default HTTP client used for deliveries.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.httpClient = c }
}

// WithMaxAttempts sets how many times one endpoint is tried per event.
func WithMaxAttempts(n int) Option {
	return func(d *Dispatcher) { d.maxAttempts = n }
}

// WithInitialInterval sets the first retry delay.
func WithInitialInterval(iv time.Duration) Option {
	return func(d *Dispatcher) { d.initialInterval = iv }
}

// WithLogSize bounds the in-memory delivery log.
func WithLogSize(n int) Option {
	return func(d *Dispatcher) { d.logSize = n }
}

type Dispatcher struct {
	endpoints       []Endpoint
	httpClient      *http.Client
	maxAttempts     int
	initialInterval time.Duration
	logSize         int
	metrics         *telemetry.Metrics
	logger          zerolog.Logger

	mu  sync.Mutex
	log []DeliveryAttempt
}

func NewDispatcher(endpoints []Endpoint, metrics *telemetry.Metrics, logger zerolog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		endpoints:       endpoints,
		httpClient:      &http.Client{Timeout: 10 * time.Second},
		maxAttempts:     3,
		initialInterval: 500 * time.Millisecond,
		logSize:         200,
		metrics:         metrics,
		logger:          logger.With().Str("component", "webhook").Logger(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Publish delivers e to every subscribed endpoint. It returns an error
// naming the endpoints that still failed after all attempts.
func (d *Dispatcher) Publish(ctx context.Context, e Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal webhook event: %w", err)
	}

	var failed []string
	for _, ep := range d.endpoints {
		if !ep.subscribes(e.Type) {
			continue
		}
		if !d.deliver(ctx, ep, e, payload) {
			failed = append(failed, ep.URL)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("webhook %s undelivered to %v", e.Type, failed)
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, ep Endpoint, e Event, payload []byte) bool {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.initialInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(d.maxAttempts-1)), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		a := d.post(ctx, ep, e, payload, attempt)
		d.record(a)
		if a.Success {
			return nil
		}
		if a.StatusCode >= 400 && a.StatusCode < 500 && a.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(fmt.Errorf("%s", a.Error))
		}
		return fmt.Errorf("%s", a.Error)
	}, policy)

	if err != nil {
		d.metrics.WebhookDelivery(e.Type, "failed")
		d.logger.Warn().Err(err).Str("event", e.Type).Str("url", ep.URL).Int("attempts", attempt).
			Msg("webhook delivery failed")
		return false
	}
	d.metrics.WebhookDelivery(e.Type, "delivered")
	return true
}

func (d *Dispatcher) post(ctx context.Context, ep Endpoint, e Event, payload []byte, attempt int) DeliveryAttempt {
	now := time.Now()
	a := DeliveryAttempt{EventID: e.ID, EventType: e.Type, URL: ep.URL, Attempt: attempt, At: now.UTC()}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		a.Error = err.Error()
		return a
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", "sha256="+SignPayload(payload, ep.Secret))
	req.Header.Set("X-Webhook-Event", e.Type)
	req.Header.Set("X-Webhook-ID", e.ID)
	req.Header.Set("X-Webhook-Timestamp", now.UTC().Format(time.RFC3339))

	resp, err := d.httpClient.Do(req)
	a.Duration = time.Since(now)
	if err != nil {
		a.Error = err.Error()
		return a
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	a.StatusCode = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		a.Success = true
	} else {
		a.Error = fmt.Sprintf("non-2xx response: %d", resp.StatusCode)
	}
	return a
}

func (d *Dispatcher) record(a DeliveryAttempt) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log = append(d.log, a)
	if over := len(d.log) - d.logSize; over > 0 {
		d.log = append(d.log[:0:0], d.log[over:]...)
	}
}

// Deliveries returns up to limit recent attempts, newest first.
func (d *Dispatcher) Deliveries(limit int) []DeliveryAttempt {
	d.mu.Lock()
	defer d.mu.Unlock()
	if limit <= 0 || limit > len(d.log) {
		limit = len(d.log)
	}
	out := make([]DeliveryAttempt, 0, limit)
	for i := len(d.log) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, d.log[i])
	}
	return out
}

// Endpoints returns the configured endpoints.
func (d *Dispatcher) Endpoints() []Endpoint { return d.endpoints }

// Nop discards events. It is used when no endpoints are configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi publishes each event to every publisher in turn. The ID and
// timestamp are assigned once so every sink sees the same event.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
