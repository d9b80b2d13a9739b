package judge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyrsmithlabs/learnloop/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func anthropicReply(text string) map[string]any {
	return map[string]any{
		"id":            "msg_test",
		"type":          "message",
		"role":          "assistant",
		"model":         "claude-test",
		"stop_reason":   "end_turn",
		"stop_sequence": nil,
		"content":       []map[string]any{{"type": "text", "text": text}},
		"usage":         map[string]any{"input_tokens": 10, "output_tokens": 5},
	}
}

func openAIReply(text string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "gpt-test",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": text},
		}},
	}
}

// scriptedServer replies with statuses in order, then 200 with body.
func scriptedServer(t *testing.T, path string, statuses []int, body map[string]any) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, path), "unexpected path %s", r.URL.Path)
		n := int(calls.Add(1)) - 1
		w.Header().Set("Content-Type", "application/json")
		if n < len(statuses) {
			w.WriteHeader(statuses[n])
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"scripted failure"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func testConfig(provider, baseURL string) Config {
	return Config{
		Provider:   provider,
		APIKey:     config.Secret("test-key"),
		BaseURL:    baseURL,
		MaxRetries: 2,
		RateLimit:  1000,
		Backoff:    time.Millisecond,
	}
}

func TestNew(t *testing.T) {
	_, err := New(Config{Provider: "anthropic"}, nil)
	assert.ErrorIs(t, err, ErrNoAPIKey)

	_, err = New(Config{Provider: "openai"}, nil)
	assert.ErrorIs(t, err, ErrNoAPIKey)

	_, err = New(Config{Provider: "cohere", APIKey: "k"}, nil)
	assert.ErrorIs(t, err, ErrUnknownProvider)

	c, err := New(Config{Provider: "openai", APIKey: "k"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, c)
}

func TestAnthropic_Complete(t *testing.T) {
	srv, calls := scriptedServer(t, "/v1/messages", nil, anthropicReply(`{"grounding": 0.9}`))
	c, err := NewAnthropic(testConfig("anthropic", srv.URL), nil)
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), "grade this")
	require.NoError(t, err)
	assert.Equal(t, `{"grounding": 0.9}`, out)
	assert.EqualValues(t, 1, calls.Load())
}

func TestAnthropic_RetriesServerErrors(t *testing.T) {
	srv, calls := scriptedServer(t, "/v1/messages",
		[]int{http.StatusInternalServerError, http.StatusTooManyRequests},
		anthropicReply("ok"))
	c, err := NewAnthropic(testConfig("anthropic", srv.URL), nil)
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), "grade this")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.EqualValues(t, 3, calls.Load())
}

func TestAnthropic_ClientErrorNotRetried(t *testing.T) {
	srv, calls := scriptedServer(t, "/v1/messages", []int{http.StatusBadRequest}, anthropicReply("unused"))
	c, err := NewAnthropic(testConfig("anthropic", srv.URL), nil)
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), "grade this")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.EqualValues(t, 1, calls.Load())
}

func TestAnthropic_RetriesExhausted(t *testing.T) {
	srv, calls := scriptedServer(t, "/v1/messages",
		[]int{http.StatusBadGateway, http.StatusBadGateway, http.StatusBadGateway},
		anthropicReply("unused"))
	c, err := NewAnthropic(testConfig("anthropic", srv.URL), nil)
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), "grade this")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.EqualValues(t, 3, calls.Load())
}

func TestOpenAI_Complete(t *testing.T) {
	srv, calls := scriptedServer(t, "/chat/completions",
		[]int{http.StatusServiceUnavailable},
		openAIReply(`{"accuracy": 0.8}`))
	c, err := NewOpenAI(testConfig("openai", srv.URL), nil)
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), "grade this")
	require.NoError(t, err)
	assert.Equal(t, `{"accuracy": 0.8}`, out)
	assert.EqualValues(t, 2, calls.Load())
}

func TestOpenAI_EmptyChoice(t *testing.T) {
	srv, _ := scriptedServer(t, "/chat/completions", nil, openAIReply(""))
	c, err := NewOpenAI(testConfig("openai", srv.URL), nil)
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), "grade this")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestRetrier_ContextCanceled(t *testing.T) {
	r := newRetrier(Config{MaxRetries: 5, RateLimit: 1000, Backoff: time.Hour}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := r.do(ctx, func(context.Context) (string, error) {
		calls++
		return "", &retryableError{err: assert.AnError}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(config.JudgeConfig{
		Provider:   "openai",
		Model:      "gpt-4o",
		APIKey:     config.Secret("sk"),
		MaxRetries: 4,
		RateLimit:  3,
		Timeout:    config.Duration(5 * time.Second),
	})
	assert.Equal(t, "openai", cfg.Provider)
	assert.Equal(t, 4, cfg.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Same(t, &GradeSchema, cfg.Schema)
}

// captureServer records the last request body and always replies with body.
func captureServer(t *testing.T, body map[string]any) (*httptest.Server, *atomic.Value) {
	t.Helper()
	var last atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		last.Store(req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &last
}

const gradeJSON = `{"grounding":0.9,"accuracy":0.8,"completeness":0.7,"domain_appropriateness":0.9,"clarity":1,"strengths":[],"weaknesses":[],"suggestions":[]}`

func TestAnthropic_SchemaForcesToolCall(t *testing.T) {
	reply := anthropicReply("")
	reply["stop_reason"] = "tool_use"
	reply["content"] = []map[string]any{
		{"type": "text", "text": "Here is the grade."},
		{"type": "tool_use", "id": "toolu_1", "name": GradeSchema.Name, "input": json.RawMessage(gradeJSON)},
	}
	srv, last := captureServer(t, reply)

	cfg := testConfig("anthropic", srv.URL)
	cfg.Schema = &GradeSchema
	c, err := NewAnthropic(cfg, nil)
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), "grade this")
	require.NoError(t, err)
	assert.JSONEq(t, gradeJSON, out)

	req := last.Load().(map[string]any)
	choice, ok := req["tool_choice"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "tool", choice["type"])
	assert.Equal(t, GradeSchema.Name, choice["name"])

	tools, ok := req["tools"].([]any)
	require.True(t, ok)
	require.Len(t, tools, 1)
	schema := tools[0].(map[string]any)["input_schema"].(map[string]any)
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, false, schema["additionalProperties"])
	assert.Len(t, schema["required"], len(GradeSchema.Required))
}

func TestAnthropic_SchemaFallsBackToText(t *testing.T) {
	srv, _ := captureServer(t, anthropicReply("Grade: "+gradeJSON))
	cfg := testConfig("anthropic", srv.URL)
	cfg.Schema = &GradeSchema
	c, err := NewAnthropic(cfg, nil)
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), "grade this")
	require.NoError(t, err)
	assert.Equal(t, "Grade: "+gradeJSON, out)
}

func TestOpenAI_SchemaSetsResponseFormat(t *testing.T) {
	srv, last := captureServer(t, openAIReply(gradeJSON))
	cfg := testConfig("openai", srv.URL)
	cfg.Schema = &GradeSchema
	c, err := NewOpenAI(cfg, nil)
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), "grade this")
	require.NoError(t, err)
	assert.Equal(t, gradeJSON, out)

	req := last.Load().(map[string]any)
	format, ok := req["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_schema", format["type"])
	js := format["json_schema"].(map[string]any)
	assert.Equal(t, GradeSchema.Name, js["name"])
	assert.Equal(t, true, js["strict"])
	schema := js["schema"].(map[string]any)
	assert.Equal(t, false, schema["additionalProperties"])
	assert.Contains(t, schema["properties"], "domain_appropriateness")
}

func TestOpenAI_NoSchemaNoResponseFormat(t *testing.T) {
	srv, last := captureServer(t, openAIReply("free text"))
	c, err := NewOpenAI(testConfig("openai", srv.URL), nil)
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), "grade this")
	require.NoError(t, err)
	assert.NotContains(t, last.Load().(map[string]any), "response_format")
}

func TestGradeSchema_RequiresEveryProperty(t *testing.T) {
	for name := range GradeSchema.Properties {
		assert.Contains(t, GradeSchema.Required, name)
	}
	assert.Len(t, GradeSchema.Required, len(GradeSchema.Properties))
}
