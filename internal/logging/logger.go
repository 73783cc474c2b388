package logging

import (
	"go.uber.org/zap"
)

// NewLogger builds a structured logger. Non-production environments get the
// development config so pipeline decisions stay readable during local runs.
func NewLogger(env string) (*zap.Logger, error) {
	if env == "development" {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	return cfg.Build()
}

// WithOperation enriches the logger with operation and subject identifiers.
func WithOperation(logger *zap.Logger, operation, subjectID string) *zap.Logger {
	fields := []zap.Field{zap.String("operation", operation)}
	if subjectID != "" {
		fields = append(fields, zap.String("subject_id", subjectID))
	}
	return logger.With(fields...)
}
