package observability

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/KachiAlex/ojawaecommerce-sub002/internal/platform/requestctx"
)

const defaultLogLevel = "info"

// LoggerOptions tags every entry with the emitting service.
type LoggerOptions struct {
	// Level overrides LOG_LEVEL when set.
	Level       string
	Service     string
	Version     string
	Environment string
}

// NewLogger constructs a zap logger emitting Cloud Logging compatible JSON to stdout.
func NewLogger(opts LoggerOptions) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	raw := strings.TrimSpace(opts.Level)
	if raw == "" {
		raw = os.Getenv("LOG_LEVEL")
	}
	if err := level.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(raw)))); err != nil || raw == "" {
		_ = level.UnmarshalText([]byte(defaultLogLevel))
	}

	encoderCfg := zapcore.EncoderConfig{
		MessageKey: "message",
		TimeKey:    "timestamp",
		LevelKey:   "severity",
		EncodeTime: zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(strings.ToUpper(level.String()))
		},
		EncodeDuration: zapcore.StringDurationEncoder,
		CallerKey:      "caller",
		EncodeCaller:   zapcore.ShortCallerEncoder,
		StacktraceKey:  "stacktrace",
	}

	cfg := zap.Config{
		Level:             level,
		Encoding:          "json",
		EncoderConfig:     encoderCfg,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	var fields []zap.Field
	if v := strings.TrimSpace(opts.Service); v != "" {
		fields = append(fields, zap.String("service", v))
	}
	if v := strings.TrimSpace(opts.Version); v != "" {
		fields = append(fields, zap.String("version", v))
	}
	if v := strings.TrimSpace(opts.Environment); v != "" {
		fields = append(fields, zap.String("env", v))
	}
	return logger.With(fields...), nil
}

// WithLogger injects the logger into the provided context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return requestctx.WithLogger(ctx, logger)
}

// FromContext retrieves the logger from context, defaulting to a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	return requestctx.Logger(ctx)
}
