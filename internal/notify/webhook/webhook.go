// Package webhook delivers alerts to configured HTTP destinations with
// severity-based routing, optional HMAC signing, and bounded retry.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/sift/internal/signal"
)

const (
	defaultMaxRetries     = 3
	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 10 * time.Second
	defaultTimeout        = 10 * time.Second

	signatureHeader = "X-Webhook-Signature"
)

// Config selects destinations and delivery policy. An empty resolved
// destination means the dispatcher is disabled for that severity: a valid
// no-op, not an error.
type Config struct {
	// DefaultURL receives alerts with no severity-specific route.
	DefaultURL string

	// Routes maps a severity to a dedicated destination (e.g. a separate
	// critical channel). Built once at startup; no ambient lookups.
	Routes map[signal.Severity]string

	// Secret enables HMAC-SHA256 request signing when non-empty.
	Secret string

	// MaxRetries bounds retries after the first attempt. Zero disables
	// retrying entirely.
	MaxRetries int

	// InitialBackoff and MaxBackoff shape the doubling backoff schedule.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Timeout applies per HTTP request.
	Timeout time.Duration
}

// Payload is the alert to deliver. Meta entries beyond the channel
// rendering cap are dropped from block layouts but kept in flat ones.
type Payload struct {
	Message  string
	Severity signal.Severity
	TraceID  string
	Meta     map[string]string
}

// Result describes a delivery attempt. Dispatch never returns an error;
// callers must check OK.
type Result struct {
	OK         bool
	NoOp       bool
	Attempts   int
	Diagnostic string

	// Body is the serialized payload that was sent, or would have been
	// sent in the no-op case.
	Body []byte
}

// Hooks receives delivery observations (wired to Prometheus by main).
type Hooks struct {
	OnDelivery func(outcome string, attempts int, seconds float64)
}

// Dispatcher sends alert payloads to webhook destinations.
type Dispatcher struct {
	cfg    Config
	client *http.Client
	logger log.Logger
	hooks  Hooks

	now func() time.Time
}

// New creates a dispatcher. Zero-valued durations take the defaults (1s
// initial backoff doubling to a 10s cap). A MaxRetries of 0 is honored as
// a single attempt; only negative values fall back to the default of 3.
func New(cfg Config, logger log.Logger, hooks Hooks) *Dispatcher {
	if logger == nil {
		logger = log.Nop()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Dispatcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		hooks:  hooks,
		now:    time.Now,
	}
}

// Enabled reports whether any destination is configured.
func (d *Dispatcher) Enabled() bool {
	if d.cfg.DefaultURL != "" {
		return true
	}
	for _, url := range d.cfg.Routes {
		if url != "" {
			return true
		}
	}
	return false
}

func (d *Dispatcher) resolveURL(sev signal.Severity) string {
	if url, ok := d.cfg.Routes[sev]; ok && url != "" {
		return url
	}
	return d.cfg.DefaultURL
}

// Dispatch delivers the payload to the destination resolved by severity.
// The retry loop blocks the caller through its backoff sleeps; a caller
// needing bounded latency should wrap ctx with its own timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, p *Payload) Result {
	start := d.now()

	url := d.resolveURL(p.Severity)
	body, err := d.buildBody(url, p)
	if err != nil {
		// Payload maps marshal unconditionally; kept as a guard.
		return Result{Diagnostic: fmt.Sprintf("marshal payload: %v", err)}
	}

	if url == "" {
		d.observe("noop", 0, start)
		return Result{OK: true, NoOp: true, Diagnostic: "no destination configured", Body: body}
	}

	attempts := 0
	op := func() (string, error) {
		attempts++
		return d.post(ctx, url, body)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.cfg.InitialBackoff
	bo.MaxInterval = d.cfg.MaxBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	diag, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(d.cfg.MaxRetries+1)),
	)
	if err != nil {
		d.observe("failed", attempts, start)
		d.logger.Warn(ctx, "alert delivery failed",
			"severity", string(p.Severity),
			"attempts", attempts,
			"error", err.Error(),
		)
		return Result{
			Attempts:   attempts,
			Diagnostic: fmt.Sprintf("failed after %d attempts: %v", attempts, err),
			Body:       body,
		}
	}

	d.observe("delivered", attempts, start)
	return Result{OK: true, Attempts: attempts, Diagnostic: diag, Body: body}
}

// post performs one delivery attempt. 2xx succeeds, 4xx is terminal
// (backoff.Permanent), 5xx and transport errors are retryable.
func (d *Dispatcher) post(ctx context.Context, url string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if d.cfg.Secret != "" {
		req.Header.Set(signatureHeader, sign(d.cfg.Secret, body))
	}

	resp, err := d.client.Do(req) //nolint:gosec // G704: destination is from trusted config, not user input
	if err != nil {
		return "", fmt.Errorf("post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return fmt.Sprintf("delivered with status %d", resp.StatusCode), nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return "", backoff.Permanent(fmt.Errorf("client error %d: %s", resp.StatusCode, string(respBody)))
	default:
		return "", fmt.Errorf("server error %d: %s", resp.StatusCode, string(respBody))
	}
}

func (d *Dispatcher) observe(outcome string, attempts int, start time.Time) {
	if d.hooks.OnDelivery != nil {
		d.hooks.OnDelivery(outcome, attempts, d.now().Sub(start).Seconds())
	}
}
