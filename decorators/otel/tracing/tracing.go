package tracing

import (
	"context"
	"fmt"

	redistrace "github.com/zerofox-oss/go-redistrace"
	"github.com/zerofox-oss/go-redistrace/internal/instrument"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Client wraps a redistrace.Client, starting a span for every command
// it sends. Pipelines and subscriptions created through the returned
// Client are traced too.
func Client(next redistrace.Client, opts ...Option) redistrace.Client {
	return instrument.Client(next, NewInstrumenter(opts...))
}

// Pipeline wraps a redistrace.Pipeline. Exec starts one MULTI span
// covering every queued command; Do starts a span of its own.
func Pipeline(next redistrace.Pipeline, opts ...Option) redistrace.Pipeline {
	return instrument.Pipeline(next, NewInstrumenter(opts...))
}

// PubSub wraps a redistrace.PubSub. Each call to Receive starts a SUB
// span; subscription commands are traced like any other command.
func PubSub(next redistrace.PubSub, opts ...Option) redistrace.PubSub {
	return instrument.PubSub(next, NewInstrumenter(opts...))
}

// Instrumenter maps redis calls to OpenTelemetry spans.
type Instrumenter struct {
	options *Options
}

// NewInstrumenter returns an Instrumenter configured from the defaults
// set by Init and opts.
func NewInstrumenter(opts ...Option) *Instrumenter {
	return &Instrumenter{options: newOptions(opts)}
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

func (in *Instrumenter) start(ctx context.Context, name, statement string) (context.Context, trace.Span) {
	opts := append([]trace.SpanStartOption{trace.WithSpanKind(trace.SpanKindClient)}, in.options.StartOptions...)

	ctx, span := in.options.tracer().Start(ctx, redistrace.OperationName(in.options.Prefix, name), opts...)
	span.SetAttributes(
		attribute.String(redistrace.TagComponent, redistrace.Component),
		attribute.String(redistrace.TagDBType, redistrace.DBType),
		attribute.String(redistrace.TagSpanKind, redistrace.SpanKindClient),
		attribute.String(redistrace.TagStatement, statement),
	)

	in.callback(ctx, span)
	return ctx, span
}

// callback runs the start span callback. Nothing it does may reach the
// traced call.
func (in *Instrumenter) callback(ctx context.Context, span trace.Span) {
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

// fail records err on span.
func (in *Instrumenter) fail(span trace.Span, err error) {
	if !in.options.record(err) {
		return
	}

	span.SetAttributes(attribute.Bool(redistrace.TagError, true))
	span.AddEvent("error", trace.WithAttributes(
		attribute.String("event", "error"),
		attribute.String("error.object", err.Error()),
		attribute.String("error.kind", fmt.Sprintf("%T", err)),
	))
	span.SetStatus(codes.Error, err.Error())
}
