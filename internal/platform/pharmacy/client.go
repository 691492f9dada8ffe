package pharmacy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/telehealth/rxdesk/internal/platform/telemetry"
)

// ErrUnavailable is returned when the router kept answering 503.
var ErrUnavailable = errors.New("pharmacy router unavailable")

// StatusError is a non-retryable rejection from the router.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("pharmacy router returned %d: %s", e.Code, e.Message)
}

// Router forwards orders to a pharmacy.
type Router interface {
	Submit(ctx context.Context, o Order) (*Result, error)
}

type Config struct {
	BaseURL         string
	ClientID        string
	ClientSecret    string
	TokenURL        string
	MaxAttempts     int
	InitialInterval time.Duration
	Timeout         time.Duration
}

// Client talks to the pharmacy router over HTTPS. Requests carry an OAuth2
// client-credentials token when a client id is configured.
type Client struct {
	cfg     Config
	http    *http.Client
	metrics *telemetry.Metrics
	logger  zerolog.Logger
}

func NewClient(cfg Config, metrics *telemetry.Metrics, logger zerolog.Logger) *Client {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 250 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	base := &http.Client{Timeout: cfg.Timeout}
	hc := base
	if cfg.ClientID != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		hc = cc.Client(context.WithValue(context.Background(), oauth2.HTTPClient, base))
		hc.Timeout = cfg.Timeout
	}

	return &Client{
		cfg:     cfg,
		http:    hc,
		metrics: metrics,
		logger:  logger.With().Str("component", "pharmacy").Logger(),
	}
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.MaxAttempts-1)), ctx)
}

// Submit posts the order. Only 503 responses are retried, up to
// MaxAttempts in total; other failures return immediately.
func (c *Client) Submit(ctx context.Context, o Order) (*Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "pharmacy.submit",
		attribute.String("rx.reference_id", o.ReferenceID),
		attribute.Int("rx.lines", len(o.Lines)))
	defer span.End()

	body, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}

	start := time.Now()
	attempts := 0
	var result *Result
	op := func() error {
		attempts++
		res, err := c.post(ctx, body)
		if err == nil {
			result = res
			return nil
		}
		if errors.Is(err, ErrUnavailable) {
			c.logger.Warn().Int("attempt", attempts).Str("reference_id", o.ReferenceID).Msg("pharmacy router unavailable, retrying")
			return err
		}
		return backoff.Permanent(err)
	}

	err = backoff.Retry(op, c.newBackOff(ctx))
	span.SetAttributes(attribute.Int("rx.attempts", attempts))

	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrUnavailable):
		outcome = "unavailable"
	default:
		outcome = "error"
	}
	c.metrics.PharmacyRequest(outcome, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, body []byte) (*Result, error) {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/orders"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build pharmacy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call pharmacy router: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable:
		io.Copy(io.Discard, resp.Body)
		return nil, ErrUnavailable
	case resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &StatusError{Code: resp.StatusCode, Message: routerMessage(msg)}
	}

	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode pharmacy response: %w", err)
	}
	if res.OrderID == "" {
		return nil, fmt.Errorf("pharmacy response missing order_id")
	}
	return &res, nil
}

// routerMessage pulls "message" or "error" out of a JSON error body, falling
// back to the raw text.
func routerMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	return strings.TrimSpace(string(body))
}

// LocalRouter accepts every order without forwarding it. It stands in for
// the router in development when no base URL is configured.
type LocalRouter struct {
	Logger zerolog.Logger
}

func (r LocalRouter) Submit(_ context.Context, o Order) (*Result, error) {
	id := "local-" + uuid.NewString()
	r.Logger.Info().Str("reference_id", o.ReferenceID).Str("order_id", id).Int("lines", len(o.Lines)).
		Msg("pharmacy router not configured, order accepted locally")
	return &Result{OrderID: id, Status: "accepted"}, nil
}
