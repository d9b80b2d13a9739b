// Package logging provides structured logging for learnloop.
//
// Logger wraps Zap with context-aware methods that append correlation
// fields (trace, interaction, workflow, request) taken from the context:
//
//	ctx = logging.WithInteractionID(ctx, "7d0c...")
//	logger.Info(ctx, "memory written", zap.String("memory_id", id))
//
// Output goes to stdout (JSON or console) and optionally to an OpenTelemetry
// log provider. Below-error entries are sampled; errors never are. Field
// keys such as api_key and values matching bearer-token patterns are
// redacted before encoding.
//
// TemporalAdapter lets the Temporal SDK log through the same core.
package logging
