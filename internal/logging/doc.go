// Package logging provides context-aware structured logging on top of zap.
//
// Loggers take a context on every call and prepend correlation fields found
// in it: the OpenTelemetry trace and span ids, the pipeline run id, the stage
// being executed and the HTTP request id.
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithRunID(ctx, result.RunID)
//	logger.Info(ctx, "pipeline completed", zap.Int64("duration_ms", ms))
//
// Field names listed in RedactionConfig (api_key, token, ...) and values
// matching its patterns are replaced before encoding. Provider credentials
// should be logged with Secret so the raw value never reaches an encoder.
//
// Sampling applies to Warn and below; errors always pass through. Output can
// be mirrored to an OpenTelemetry LoggerProvider through the otelzap bridge.
package logging
