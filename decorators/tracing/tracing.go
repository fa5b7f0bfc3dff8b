package tracing

import (
	"context"
	"fmt"

	redistrace "github.com/zerofox-oss/go-redistrace"
	"github.com/zerofox-oss/go-redistrace/internal/instrument"
	"go.opencensus.io/trace"
	"go.uber.org/zap"
)

type Options struct {
	Prefix       string
	StartOptions trace.StartOptions

	// Tracer starts the spans; trace.DefaultTracer is used when nil.
	Tracer trace.Tracer

	StartSpanCallback func(ctx context.Context, span *trace.Span) error
	ErrorFilter       func(error) bool
	Logger            *zap.Logger
}

type Option func(*Options)

func WithPrefix(prefix string) Option {
	return func(o *Options) {
		o.Prefix = prefix
	}
}

func WithStartOption(so trace.StartOptions) Option {
	return func(o *Options) {
		o.StartOptions = so
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(o *Options) {
		o.Tracer = t
	}
}

// WithStartSpanCallback sets a function called with every span before
// the traced call runs. Its errors and panics are logged and dropped.
func WithStartSpanCallback(cb func(ctx context.Context, span *trace.Span) error) Option {
	return func(o *Options) {
		o.StartSpanCallback = cb
	}
}

// WithErrorFilter sets a function reporting whether an error should be
// recorded on its span.
func WithErrorFilter(f func(error) bool) Option {
	return func(o *Options) {
		o.ErrorFilter = f
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// Client wraps a redistrace.Client, starting a span for every command.
func Client(next redistrace.Client, opts ...Option) redistrace.Client {
	return instrument.Client(next, NewInstrumenter(opts...))
}

// Pipeline wraps a redistrace.Pipeline, starting one MULTI span per flush.
func Pipeline(next redistrace.Pipeline, opts ...Option) redistrace.Pipeline {
	return instrument.Pipeline(next, NewInstrumenter(opts...))
}

// PubSub wraps a redistrace.PubSub, starting one SUB span per received
// message.
func PubSub(next redistrace.PubSub, opts ...Option) redistrace.PubSub {
	return instrument.PubSub(next, NewInstrumenter(opts...))
}

// Instrumenter maps redis calls to OpenCensus spans.
type Instrumenter struct {
	options *Options
}

func NewInstrumenter(opts ...Option) *Instrumenter {
	options := &Options{
		StartOptions: trace.StartOptions{},
	}

	for _, opt := range opts {
		opt(options)
	}

	if options.Logger == nil {
		options.Logger = zap.NewNop()
	}
	return &Instrumenter{options: options}
}

func (in *Instrumenter) Command(ctx context.Context, cmd redistrace.Cmd, next func(context.Context) (interface{}, error)) (interface{}, error) {
	ctx, span := in.start(ctx, cmd.Name(), cmd.String())
	defer span.End()

	res, err := next(ctx)
	in.fail(span, err)
	return res, err
}

func (in *Instrumenter) Batch(ctx context.Context, cmds []redistrace.Cmd, next func(context.Context) ([]interface{}, error)) ([]interface{}, error) {
	ctx, span := in.start(ctx, redistrace.MultiOperation, redistrace.Statement(cmds))
	defer span.End()

	res, err := next(ctx)
	in.fail(span, err)
	return res, err
}

func (in *Instrumenter) Message(ctx context.Context, next func(context.Context) (interface{}, error)) (interface{}, error) {
	ctx, span := in.start(ctx, redistrace.SubOperation, "")
	defer span.End()

	res, err := next(ctx)
	in.fail(span, err)
	return res, err
}

func (in *Instrumenter) start(ctx context.Context, name, statement string) (context.Context, *trace.Span) {
	tracer := in.options.Tracer
	if tracer == nil {
		tracer = trace.DefaultTracer
	}

	ctx, span := tracer.StartSpan(
		ctx,
		redistrace.OperationName(in.options.Prefix, name),
		trace.WithSampler(in.options.StartOptions.Sampler),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.AddAttributes(
		trace.StringAttribute(redistrace.TagComponent, redistrace.Component),
		trace.StringAttribute(redistrace.TagDBType, redistrace.DBType),
		trace.StringAttribute(redistrace.TagSpanKind, redistrace.SpanKindClient),
		trace.StringAttribute(redistrace.TagStatement, statement),
	)

	in.callback(ctx, span)
	return ctx, span
}

func (in *Instrumenter) callback(ctx context.Context, span *trace.Span) {
	cb := in.options.StartSpanCallback
	if cb == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			in.options.Logger.Debug("start span callback panicked", zap.Any("panic", r))
		}
	}()

	if err := cb(ctx, span); err != nil {
		in.options.Logger.Debug("start span callback failed", zap.Error(err))
	}
}

func (in *Instrumenter) fail(span *trace.Span, err error) {
	if err == nil {
		return
	}
	if in.options.ErrorFilter != nil && !in.options.ErrorFilter(err) {
		return
	}

	span.AddAttributes(trace.BoolAttribute(redistrace.TagError, true))
	span.Annotate([]trace.Attribute{
		trace.StringAttribute("event", "error"),
		trace.StringAttribute("error.object", err.Error()),
		trace.StringAttribute("error.kind", fmt.Sprintf("%T", err)),
	}, "error")
	span.SetStatus(trace.Status{Code: trace.StatusCodeUnknown, Message: err.Error()})
}
