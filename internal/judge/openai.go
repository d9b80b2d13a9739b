package judge

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"
)

// OpenAIClient grades with the Chat Completions API.
type OpenAIClient struct {
	client  openai.Client
	cfg     Config
	retrier *retrier
}

// NewOpenAI creates an OpenAI-backed judge. BaseURL may point at any
// OpenAI-compatible server.
func NewOpenAI(cfg Config, logger *zap.Logger) (*OpenAIClient, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("openai: %w", ErrNoAPIKey)
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
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

	return &OpenAIClient{
		client:  openai.NewClient(opts...),
		cfg:     cfg,
		retrier: newRetrier(cfg, logger.Named("openai")),
	}, nil
}

// Complete sends prompt as a single user message.
func (o *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if o.cfg.System != "" {
		messages = append(messages, openai.SystemMessage(o.cfg.System))
	}
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(o.cfg.Model),
		Messages:            messages,
		Temperature:         openai.Float(defaultTemperature),
		MaxCompletionTokens: openai.Int(o.cfg.MaxTokens),
	}
	if sc := o.cfg.Schema; sc != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        sc.Name,
					Description: openai.String(sc.Description),
					Schema:      sc.document(),
					Strict:      openai.Bool(true),
				},
			},
		}
	}

	return o.retrier.do(ctx, func(ctx context.Context) (string, error) {
		resp, err := o.client.Chat.Completions.New(ctx, params)
		if err != nil {
			var apiErr *openai.Error
			if errors.As(err, &apiErr) && !retryableStatus(apiErr.StatusCode) {
				return "", fmt.Errorf("openai API error (%d): %w", apiErr.StatusCode, err)
			}
			return "", &retryableError{err: fmt.Errorf("openai request failed: %w", err)}
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
			return "", ErrEmptyResponse
		}
		return resp.Choices[0].Message.Content, nil
	})
}
