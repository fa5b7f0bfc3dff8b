package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"
	redistrace "github.com/zerofox-oss/go-redistrace"
	"github.com/zerofox-oss/go-redistrace/backends/redis"
	"github.com/zerofox-oss/go-redistrace/decorators/otel/tracing"
	octracing "github.com/zerofox-oss/go-redistrace/decorators/tracing"
	"github.com/zerofox-oss/go-redistrace/mem"
	octrace "go.opencensus.io/trace"
	ocbridge "go.opentelemetry.io/otel/bridge/opencensus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// env holds what a command needs to run: a traced client and the
// tracer provider printing its spans.
type env struct {
	client redistrace.Client
	tp     *sdktrace.TracerProvider
	logger *zap.Logger
	closer io.Closer
}

func newLogger(verbose bool) (*zap.Logger, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	level := zap.InfoLevel
	if verbose {
		level = zap.DebugLevel
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         "json",
		EncoderConfig:    encoderCfg,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
		InitialFields: map[string]interface{}{
			"pid": os.Getpid(),
		},
	}
	return config.Build()
}

// newTracerProvider creates a tracer provider exporting every span as
// soon as it ends, to the trace.file flag or the app's writer.
func newTracerProvider(c *cli.Context) (*sdktrace.TracerProvider, io.Closer, error) {
	w := c.App.Writer
	var closer io.Closer

	if name := c.String("trace.file"); name != "" {
		f, err := os.Create(name)
		if err != nil {
			return nil, nil, err
		}
		w, closer = f, f
	}

	exp, err := stdouttrace.New(
		stdouttrace.WithWriter(w),
		stdouttrace.WithPrettyPrint(),
		stdouttrace.WithoutTimestamps(),
	)
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSyncer(exp),
	)
	return tp, closer, nil
}

func setup(c *cli.Context) (_ *env, retErr error) {
	logger, err := newLogger(c.Bool("verbose"))
	if err != nil {
		return nil, err
	}

	cfg, err := redis.LoadConfig()
	if err != nil {
		return nil, err
	}
	if c.IsSet("addr") {
		cfg.Addr = c.String("addr")
	}
	if c.IsSet("prefix") {
		cfg.Prefix = c.String("prefix")
	}

	tp, closer, err := newTracerProvider(c)
	if err != nil {
		return nil, err
	}
	defer func() {
		if retErr != nil {
			tp.Shutdown(context.Background())
			if closer != nil {
				closer.Close()
			}
		}
	}()

	e := &env{tp: tp, logger: logger, closer: closer}

	if c.Bool("opencensus") {
		ocbridge.InstallTraceBridge(ocbridge.WithTracerProvider(tp))

		base := redistrace.Client(mem.NewClient())
		if !c.Bool("mem") {
			base = redis.Dial(cfg, redis.WithLogger(logger))
		}
		e.client = octracing.Client(base,
			octracing.WithPrefix(cfg.Prefix),
			octracing.WithLogger(logger),
			octracing.WithStartOption(octrace.StartOptions{Sampler: octrace.AlwaysSample()}),
		)
		return e, nil
	}

	err = tracing.Init(
		tracing.WithTracerProvider(tp),
		tracing.WithPrefix(cfg.Prefix),
		tracing.WithLogger(logger),
		tracing.WithTraceAllClients(true),
	)
	if err != nil {
		return nil, err
	}

	if c.Bool("mem") {
		e.client = tracing.Client(mem.NewClient())
	} else {
		e.client = redis.NewClient(cfg, redis.WithLogger(logger))
	}

	logger.Debug("client ready",
		zap.String("addr", cfg.Addr),
		zap.Bool("mem", c.Bool("mem")),
		zap.Bool("opencensus", c.Bool("opencensus")),
	)
	return e, nil
}

func (e *env) Close(ctx context.Context) error {
	defer e.logger.Sync()

	if err := e.client.Close(); err != nil {
		e.logger.Warn("failed to close client", zap.Error(err))
	}
	if err := e.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("tracing shutdown failed: %w", err)
	}
	if e.closer != nil {
		return e.closer.Close()
	}
	return nil
}
