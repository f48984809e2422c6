package logger

import (
	"fmt"

	"paper-trade-engine-go/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger creates a zap.Logger from the logger configuration. The engine name is
// attached to every entry so logs of several paper accounts can share a sink.
func NewLogger(cfg config.Logger, engineName string) (*zap.Logger, error) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	logLevel, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var zc zap.Config
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
		// Risk triggers arrive in bursts; sampling would drop them.
		zc.Sampling = nil
	} else {
		zc = zap.NewDevelopmentConfig()
	}

	zc.Level = zap.NewAtomicLevelAt(logLevel)
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	log, err := zc.Build()
	if err != nil {
		return nil, err
	}
	if engineName != "" {
		log = log.With(zap.String("engine", engineName))
	}
	return log, nil
}
