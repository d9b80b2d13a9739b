// Package judge wraps the language models used to grade interactions.
package judge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/learnloop/internal/config"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultAnthropicModel = "claude-sonnet-4-5"
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultMaxTokens      = 1024
	defaultTimeout        = 60 * time.Second
	defaultBaseBackoff    = 1 * time.Second
	defaultRateLimit      = 2.0
	defaultBurst          = 2
	// Low temperature keeps scores stable across re-evaluations.
	defaultTemperature = 0.0
)

var (
	// ErrNoAPIKey is returned when a provider is configured without a key.
	ErrNoAPIKey = errors.New("judge: API key required")

	// ErrEmptyResponse is returned when the model produced no text.
	ErrEmptyResponse = errors.New("judge: empty response from model")

	// ErrUnknownProvider is returned for an unsupported provider name.
	ErrUnknownProvider = errors.New("judge: unknown provider")
)

// Client sends a prompt to a model and returns its text reply.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Schema describes the JSON object a reply must be. Providers that support
// it enforce the shape; callers still validate what comes back.
type Schema struct {
	Name        string
	Description string
	Properties  map[string]any
	Required    []string
}

// document renders s as a closed JSON Schema object.
func (s *Schema) document() map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           s.Properties,
		"required":             s.Required,
		"additionalProperties": false,
	}
}

func scoreProperty(desc string) map[string]any {
	return map[string]any{"type": "number", "minimum": 0, "maximum": 1, "description": desc}
}

func feedbackProperty(desc string) map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": desc}
}

// GradeSchema is the rubric reply: five dimension scores in [0,1] and
// free-text feedback.
var GradeSchema = Schema{
	Name:        "record_grade",
	Description: "Record the rubric grade for the interaction.",
	Properties: map[string]any{
		"grounding":              scoreProperty("Answer is traceable to the cited evidence."),
		"accuracy":               scoreProperty("Claims are factually correct."),
		"completeness":           scoreProperty("The question is fully answered."),
		"domain_appropriateness": scoreProperty("Fits the curriculum and audience."),
		"clarity":                scoreProperty("Clear and well organised."),
		"strengths":              feedbackProperty("What the answer did well."),
		"weaknesses":             feedbackProperty("What the answer got wrong or missed."),
		"suggestions":            feedbackProperty("Concrete improvements."),
	},
	Required: []string{
		"grounding", "accuracy", "completeness", "domain_appropriateness", "clarity",
		"strengths", "weaknesses", "suggestions",
	},
}

// Config configures a judge client.
type Config struct {
	Provider  string
	Model     string
	APIKey    config.Secret
	BaseURL   string
	System    string
	MaxTokens int64
	// Schema, when set, is requested as the provider's structured output.
	Schema     *Schema
	MaxRetries int
	// RateLimit is requests per second; zero uses the default.
	RateLimit float64
	Timeout   time.Duration
	// Backoff is the first retry delay, doubled per attempt.
	Backoff time.Duration
}

// FromSettings maps the application judge section onto a Config.
func FromSettings(s config.JudgeConfig) Config {
	return Config{
		Provider:   s.Provider,
		Model:      s.Model,
		APIKey:     s.APIKey,
		BaseURL:    s.BaseURL,
		Schema:     &GradeSchema,
		MaxRetries: s.MaxRetries,
		RateLimit:  s.RateLimit,
		Timeout:    s.Timeout.Duration(),
	}
}

func (c *Config) applyDefaults() {
	if c.MaxTokens == 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
	if c.Backoff == 0 {
		c.Backoff = defaultBaseBackoff
	}
	if c.RateLimit == 0 {
		c.RateLimit = defaultRateLimit
	}
}

// New creates the client named by cfg.Provider.
func New(cfg Config, logger *zap.Logger) (Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Provider {
	case "anthropic", "":
		return NewAnthropic(cfg, logger)
	case "openai":
		return NewOpenAI(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

// retryableError marks failures worth another attempt.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var r *retryableError
	return errors.As(err, &r)
}

// retryableStatus reports HTTP statuses worth retrying.
func retryableStatus(code int) bool {
	return code == 429 || code >= 500
}

// retrier applies rate limiting and exponential backoff around one call.
type retrier struct {
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
	logger     *zap.Logger
}

func newRetrier(cfg Config, logger *zap.Logger) *retrier {
	return &retrier{
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), defaultBurst),
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
		logger:     logger,
	}
}

func (r *retrier) do(ctx context.Context, call func(ctx context.Context) (string, error)) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := r.backoff * time.Duration(1<<(attempt-1))
			r.logger.Debug("retrying judge request", zap.Int("attempt", attempt), zap.Duration("backoff", backoff), zap.Error(lastErr))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		if err := r.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter error: %w", err)
		}

		text, err := call(ctx)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}
