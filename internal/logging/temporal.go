package logging

import (
	"fmt"

	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

// TemporalAdapter routes Temporal SDK logs through zap.
type TemporalAdapter struct {
	zl *zap.Logger
}

var _ log.Logger = (*TemporalAdapter)(nil)
var _ log.WithLogger = (*TemporalAdapter)(nil)

// NewTemporalAdapter wraps zl for client.Options.Logger.
func NewTemporalAdapter(zl *zap.Logger) *TemporalAdapter {
	if zl == nil {
		zl = zap.NewNop()
	}
	return &TemporalAdapter{zl: zl.WithOptions(zap.AddCallerSkip(1))}
}

func (a *TemporalAdapter) Debug(msg string, keyvals ...interface{}) {
	a.zl.Debug(msg, keyvalsToFields(keyvals)...)
}

func (a *TemporalAdapter) Info(msg string, keyvals ...interface{}) {
	a.zl.Info(msg, keyvalsToFields(keyvals)...)
}

func (a *TemporalAdapter) Warn(msg string, keyvals ...interface{}) {
	a.zl.Warn(msg, keyvalsToFields(keyvals)...)
}

func (a *TemporalAdapter) Error(msg string, keyvals ...interface{}) {
	a.zl.Error(msg, keyvalsToFields(keyvals)...)
}

// With implements log.WithLogger.
func (a *TemporalAdapter) With(keyvals ...interface{}) log.Logger {
	return &TemporalAdapter{zl: a.zl.With(keyvalsToFields(keyvals)...)}
}

// keyvalsToFields converts alternating key/value pairs. A dangling key is
// kept under "extra".
func keyvalsToFields(keyvals []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keyvals)/2+1)
	for i := 0; i < len(keyvals); i += 2 {
		if i+1 >= len(keyvals) {
			fields = append(fields, zap.Any("extra", keyvals[i]))
			break
		}
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprint(keyvals[i])
		}
		if err, isErr := keyvals[i+1].(error); isErr {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, keyvals[i+1]))
	}
	return fields
}
