package judge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

// AnthropicClient grades with Claude via the Messages API.
type AnthropicClient struct {
	client  anthropic.Client
	cfg     Config
	retrier *retrier
}

// NewAnthropic creates an Anthropic-backed judge.
func NewAnthropic(cfg Config, logger *zap.Logger) (*AnthropicClient, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("anthropic: %w", ErrNoAPIKey)
	}
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
	}
	cfg.applyDefaults()

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey.Value()),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicClient{
		client:  anthropic.NewClient(opts...),
		cfg:     cfg,
		retrier: newRetrier(cfg, logger.Named("anthropic")),
	}, nil
}

// Complete sends prompt as a single user message. With a Schema the reply
// is the input of the forced tool call; otherwise it is the text content.
func (a *AnthropicClient) Complete(ctx context.Context, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.cfg.Model),
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: anthropic.Float(defaultTemperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if a.cfg.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: a.cfg.System}}
	}
	if sc := a.cfg.Schema; sc != nil {
		// A forced tool call is how the Messages API returns schema-shaped JSON.
		params.Tools = []anthropic.ToolUnionParam{{OfTool: &anthropic.ToolParam{
			Name:        sc.Name,
			Description: anthropic.String(sc.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties:  sc.Properties,
				Required:    sc.Required,
				ExtraFields: map[string]any{"additionalProperties": false},
			},
		}}}
		params.ToolChoice = anthropic.ToolChoiceParamOfTool(sc.Name)
	}

	return a.retrier.do(ctx, func(ctx context.Context) (string, error) {
		resp, err := a.client.Messages.New(ctx, params)
		if err != nil {
			var apiErr *anthropic.Error
			if errors.As(err, &apiErr) && !retryableStatus(apiErr.StatusCode) {
				return "", fmt.Errorf("anthropic API error (%d): %w", apiErr.StatusCode, err)
			}
			return "", &retryableError{err: fmt.Errorf("anthropic request failed: %w", err)}
		}

		var sb strings.Builder
		for _, block := range resp.Content {
			switch block.Type {
			case "tool_use":
				if a.cfg.Schema != nil && block.Name == a.cfg.Schema.Name && len(block.Input) > 0 {
					return string(block.Input), nil
				}
			case "text":
				sb.WriteString(block.AsText().Text)
			}
		}
		if sb.Len() == 0 {
			return "", ErrEmptyResponse
		}
		return sb.String(), nil
	})
}
