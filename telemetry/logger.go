// Package telemetry wires the repository/universe packages' small
// logging, tracing and metrics contracts (kanlog.Logger, universe.Tracer,
// universe.PrometheusCollector, universe.SigNozExporter) to real
// third-party backends: go.uber.org/zap, go.opentelemetry.io/otel and
// prometheus/client_golang.
package telemetry

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/KonstantinTomashevich/Kan-sub009/kanlog"
)

// zapLogger adapts a *zap.SugaredLogger to kanlog.Logger.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewLogger wraps an already-constructed zap logger.
func NewLogger(base *zap.Logger) kanlog.Logger {
	return zapLogger{sugar: base.Sugar()}
}

// NewDefaultLogger builds a zap logger from ENV_NAME and LOG_LEVEL
// environment variables, production config with capital level encoding in
// production, development config otherwise — mirroring the corpus's
// zap bootstrap convention.
func NewDefaultLogger() kanlog.Logger {
	var cfg zap.Config
	if os.Getenv("ENV_NAME") == "production" {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if val, ok := os.LookupEnv("LOG_LEVEL"); ok {
		var lvl zapcore.Level
		if err := lvl.Set(val); err == nil {
			cfg.Level = zap.NewAtomicLevelAt(lvl)
		}
	}
	cfg.DisableStacktrace = true

	base, err := cfg.Build()
	if err != nil {
		return kanlog.Noop{}
	}
	return NewLogger(base)
}

func (l zapLogger) With(key string, value any) kanlog.Logger {
	return zapLogger{sugar: l.sugar.With(key, value)}
}

func (l zapLogger) Info(msg string, args ...any) {
	l.sugar.Infow(msg, args...)
}

func (l zapLogger) Error(msg string, args ...any) {
	l.sugar.Errorw(msg, args...)
}

var _ kanlog.Logger = zapLogger{}
