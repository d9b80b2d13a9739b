package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Config configures the TEI client.
type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Validate reports a missing base URL.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	return nil
}

// Service embeds questions through a Text Embeddings Inference server's
// /embed endpoint.
type Service struct {
	endpoint string
	model    string
	client   *http.Client
	metrics  *Metrics
}

// NewService creates a TEI client. Timeout defaults to 30s.
func NewService(cfg Config, logger *zap.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Service{
		endpoint: strings.TrimSuffix(cfg.BaseURL, "/") + "/embed",
		model:    cfg.Model,
		client:   &http.Client{Timeout: cfg.Timeout},
		metrics:  NewMetrics(logger),
	}, nil
}

type embedRequest struct {
	Inputs   string `json:"inputs"`
	Truncate bool   `json:"truncate"`
}

// EmbedQuery embeds one text. Over-long input is truncated by the server.
func (s *Service) EmbedQuery(ctx context.Context, text string) (vec []float32, err error) {
	defer func(start time.Time) {
		s.metrics.Observe(ctx, "tei", s.model, start, len(text), err)
	}(time.Now())

	if text == "" {
		return nil, ErrEmptyInput
	}
	body, err := json.Marshal(embedRequest{Inputs: text, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, bytes.TrimSpace(detail))
	}

	// TEI answers a single input with a one-element batch.
	var batch [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(batch) == 0 || len(batch[0]) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrEmbeddingFailed)
	}
	return batch[0], nil
}
