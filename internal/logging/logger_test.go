package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	t.Run("default config", func(t *testing.T) {
		logger, err := NewLogger(NewDefaultConfig(), nil)
		require.NoError(t, err)
		assert.True(t, logger.Enabled(zapcore.InfoLevel))
		assert.False(t, logger.Enabled(zapcore.DebugLevel))
	})

	t.Run("invalid format", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Format = "xml"
		_, err := NewLogger(cfg, nil)
		require.Error(t, err)
	})

	t.Run("otel only without provider", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Output = OutputConfig{OTEL: true}
		_, err := NewLogger(cfg, nil)
		require.Error(t, err)
	})
}

func TestFromSettings(t *testing.T) {
	cfg, err := FromSettings("debug", "console")
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)

	_, err = FromSettings("loud", "json")
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"no outputs", func(c *Config) { c.Output = OutputConfig{} }, true},
		{"zero tick", func(c *Config) { c.Sampling.Tick = 0 }, true},
		{"bad pattern", func(c *Config) { c.Redaction.Patterns = []string{"("} }, true},
		{"empty field value", func(c *Config) { c.Fields = map[string]string{"env": ""} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLogger_ContextFields(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithInteractionID(context.Background(), "int-1")
	ctx = WithWorkflowID(ctx, "evaluate-int-1")

	tl.Info(ctx, "evaluation started", zap.Int("attempt", 1))

	tl.AssertLogged(t, zapcore.InfoLevel, "evaluation started")
	tl.AssertField(t, "evaluation started", "interaction.id", "int-1")
	tl.AssertField(t, "evaluation started", "workflow.id", "evaluate-int-1")
	tl.AssertField(t, "evaluation started", "attempt", int64(1))
}

func TestLogger_WithAndNamed(t *testing.T) {
	tl := NewTestLogger()
	child := tl.With(zap.String("component", "judge")).Named("anthropic")

	child.Warn(context.Background(), "rate limited")

	entries := tl.FilterMessage("rate limited").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "anthropic", entries[0].LoggerName)
	assert.Equal(t, "judge", entries[0].ContextMap()["component"])
}

func TestLevelFromString(t *testing.T) {
	lvl, err := LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	lvl, err = LevelFromString("nope")
	require.Error(t, err)
	assert.Equal(t, zapcore.InfoLevel, lvl)
}

func TestSampledCore_ErrorsAlwaysPass(t *testing.T) {
	core, observed := newObservedSampledCore(t)
	zl := zap.New(core)

	for i := 0; i < 10; i++ {
		zl.Info("repeated")
		zl.Error("failure")
	}

	assert.Equal(t, 10, observed.FilterMessage("failure").Len())
	assert.Less(t, observed.FilterMessage("repeated").Len(), 10)
}
