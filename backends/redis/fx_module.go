package redis

import (
	"context"

	redistrace "github.com/zerofox-oss/go-redistrace"
	"github.com/zerofox-oss/go-redistrace/decorators/otel/tracing"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// FXModule provides a redistrace.Client built from a Config, traced
// according to Config.TraceAll and Config.Prefix, and closes it when the
// application stops.
//
// Usage:
//
//	app := fx.New(
//	    fx.Provide(redis.LoadConfig),
//	    redis.FXModule,
//	    // other modules...
//	)
var FXModule = fx.Module("redistrace",
	fx.Provide(NewClientWithDI),
	fx.Invoke(RegisterLifecycle),
)

type ClientParams struct {
	fx.In

	Config         Config
	Logger         *zap.Logger          `optional:"true"`
	TracerProvider trace.TracerProvider `optional:"true"`
}

// NewClientWithDI sets the tracing defaults from the injected Config and
// returns a client built by NewClient.
func NewClientWithDI(p ClientParams) (redistrace.Client, error) {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []tracing.Option{
		tracing.WithTraceAllClients(p.Config.TraceAll),
		tracing.WithPrefix(p.Config.Prefix),
		tracing.WithLogger(logger),
	}
	if p.TracerProvider != nil {
		opts = append(opts, tracing.WithTracerProvider(p.TracerProvider))
	}
	if err := tracing.Init(opts...); err != nil {
		return nil, err
	}

	return NewClient(p.Config, WithLogger(logger)), nil
}

type LifecycleParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Client    redistrace.Client
	Logger    *zap.Logger `optional:"true"`
}

// RegisterLifecycle closes the client on application shutdown.
func RegisterLifecycle(p LifecycleParams) {
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if p.Logger != nil {
				p.Logger.Info("closing redis client")
			}
			return p.Client.Close()
		},
	})
}
