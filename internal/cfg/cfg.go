package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config adds sift-specific configuration fields to the common
// cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int

	DatabaseURL string

	WebhookURL                 string
	WebhookCriticalURL         string
	WebhookSecret              string
	WebhookMaxRetries          int
	WebhookRetryInitialSeconds int
	WebhookRetryCapSeconds     int

	DedupTTLMinutes   int
	DedupMaxLocalKeys int

	IngestToken string

	ClaudeAPIKey string
	ClaudeModel  string

	TVLDropThreshold float64
	TVLFloor         float64
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store and dedup gate)")
	fs.StringVar(&c.WebhookURL, "webhook-url", "", "default alert webhook destination (empty = alerts recorded, not delivered)")
	fs.StringVar(&c.WebhookCriticalURL, "webhook-critical-url", "", "dedicated destination for critical alerts (empty = default destination)")
	fs.StringVar(&c.WebhookSecret, "webhook-secret", "", "HMAC-SHA256 signing secret for outbound webhooks (empty = unsigned)")
	fs.IntVar(&c.WebhookMaxRetries, "webhook-max-retries", 3, "delivery retries after the first attempt (0..10)")
	fs.IntVar(&c.WebhookRetryInitialSeconds, "webhook-retry-initial-seconds", 1, "initial delivery backoff in seconds (1..60)")
	fs.IntVar(&c.WebhookRetryCapSeconds, "webhook-retry-cap-seconds", 10, "delivery backoff ceiling in seconds (1..300)")
	fs.IntVar(&c.DedupTTLMinutes, "dedup-ttl-minutes", 360, "fingerprint suppression window in minutes (1..10080)")
	fs.IntVar(&c.DedupMaxLocalKeys, "dedup-max-local-keys", 100_000, "fingerprint cap for the in-memory dedup gate")
	fs.StringVar(&c.IngestToken, "ingest-token", "", "bearer token required on mutating endpoints (empty = auth disabled)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the triage advisor (empty = advisor disabled)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model for the triage advisor")
	fs.Float64Var(&c.TVLDropThreshold, "tvl-drop-threshold", -0.12, "signed 24h change fraction that triggers a TVL alert (-1..0, exclusive)")
	fs.Float64Var(&c.TVLFloor, "tvl-floor", 1_000_000, "absolute TVL floor used when no 24h change is supplied (>= 0)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// Webhook delivery policy
	if c.WebhookMaxRetries < 0 || c.WebhookMaxRetries > 10 {
		errs = append(errs, fmt.Errorf("invalid WEBHOOK_MAX_RETRIES %d (must be 0..10)", c.WebhookMaxRetries))
	}
	if c.WebhookRetryInitialSeconds <= 0 || c.WebhookRetryInitialSeconds > 60 {
		errs = append(errs, fmt.Errorf("invalid WEBHOOK_RETRY_INITIAL_SECONDS %d (must be 1..60)", c.WebhookRetryInitialSeconds))
	}
	if c.WebhookRetryCapSeconds <= 0 || c.WebhookRetryCapSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid WEBHOOK_RETRY_CAP_SECONDS %d (must be 1..300)", c.WebhookRetryCapSeconds))
	} else if c.WebhookRetryCapSeconds < c.WebhookRetryInitialSeconds {
		errs = append(errs, fmt.Errorf("WEBHOOK_RETRY_CAP_SECONDS %d must be at least WEBHOOK_RETRY_INITIAL_SECONDS %d", c.WebhookRetryCapSeconds, c.WebhookRetryInitialSeconds))
	}

	// Dedup window
	if c.DedupTTLMinutes <= 0 || c.DedupTTLMinutes > 10080 {
		errs = append(errs, fmt.Errorf("invalid DEDUP_TTL_MINUTES %d (must be 1..10080)", c.DedupTTLMinutes))
	}
	if c.DedupMaxLocalKeys <= 0 {
		errs = append(errs, fmt.Errorf("invalid DEDUP_MAX_LOCAL_KEYS %d (must be positive)", c.DedupMaxLocalKeys))
	}

	// Advisor model is only needed when the advisor is on
	if c.ClaudeAPIKey != "" && c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required when CLAUDE_API_KEY is set"))
	}

	// TVL thresholds
	if !(c.TVLDropThreshold > -1 && c.TVLDropThreshold < 0) {
		errs = append(errs, fmt.Errorf("invalid TVL_DROP_THRESHOLD %g (must be in (-1, 0))", c.TVLDropThreshold))
	}
	if c.TVLFloor < 0 {
		errs = append(errs, fmt.Errorf("invalid TVL_FLOOR %g (must be non-negative)", c.TVLFloor))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
