package tracing

import (
	"context"
	"fmt"
	"sync/atomic"

	redistrace "github.com/zerofox-oss/go-redistrace"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/zerofox-oss/go-redistrace/decorators/otel/tracing"

// ErrInvalidCallback is returned by Init when a start span callback is
// supplied but cannot be called.
var ErrInvalidCallback = fmt.Errorf("%w: start span callback is not callable", redistrace.ErrInvalidArgument)

// StartSpanCallback is called with every span after its tags are set and
// before the traced call runs. Errors and panics are logged and dropped.
type StartSpanCallback func(ctx context.Context, span trace.Span) error

type Options struct {
	// Tracer starts the spans. If nil, the tracer of the global
	// TracerProvider is used at the time each span starts.
	Tracer trace.Tracer

	// TraceAllClients asks backends to decorate every client they build.
	TraceAllClients bool

	// Prefix is prepended to operation names as "<Prefix>/<name>".
	Prefix string

	StartSpanCallback StartSpanCallback
	StartOptions      []trace.SpanStartOption

	// ErrorFilter reports whether an error returned by a traced call
	// should be recorded on its span. All errors are recorded if nil.
	ErrorFilter func(error) bool

	Logger *zap.Logger

	err error
}

type Option func(*Options)

// WithTracer sets the tracer. A tracer exposing its delegate through
// Unwrap() trace.Tracer is replaced by that delegate.
func WithTracer(t trace.Tracer) Option {
	return func(o *Options) {
		if u, ok := t.(interface{ Unwrap() trace.Tracer }); ok {
			t = u.Unwrap()
		}
		o.Tracer = t
	}
}

// WithTracerProvider sets the tracer to one obtained from tp.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return WithTracer(tp.Tracer(instrumentationName))
}

func WithTraceAllClients(all bool) Option {
	return func(o *Options) {
		o.TraceAllClients = all
	}
}

func WithPrefix(prefix string) Option {
	return func(o *Options) {
		o.Prefix = prefix
	}
}

// WithStartSpanCallback sets the start span callback. Passing nil makes
// Init fail with ErrInvalidCallback; decorators ignore it.
func WithStartSpanCallback(cb StartSpanCallback) Option {
	return func(o *Options) {
		if cb == nil {
			o.err = ErrInvalidCallback
			return
		}
		o.StartSpanCallback = cb
	}
}

func WithStartOption(so trace.SpanStartOption) Option {
	return func(o *Options) {
		o.StartOptions = append(o.StartOptions, so)
	}
}

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

var defaults atomic.Pointer[Options]

// Init replaces the process wide defaults that decorators start from.
// TraceAllClients defaults to true. If any option is invalid the previous
// defaults are kept and the error is returned.
func Init(opts ...Option) error {
	o := &Options{TraceAllClients: true}
	for _, opt := range opts {
		opt(o)
	}
	if o.err != nil {
		return o.err
	}

	defaults.Store(o)
	return nil
}

// Reset clears the process wide defaults.
func Reset() {
	defaults.Store(nil)
}

// Tracer returns the default tracer, falling back to the global
// TracerProvider.
func Tracer() trace.Tracer {
	o := current()
	return o.tracer()
}

// TraceAllClients reports whether backends should decorate every client
// they build.
func TraceAllClients() bool {
	return current().TraceAllClients
}

func current() Options {
	if o := defaults.Load(); o != nil {
		return *o
	}
	return Options{}
}

// newOptions applies opts on top of a copy of the defaults.
func newOptions(opts []Option) *Options {
	o := current()
	o.StartOptions = append([]trace.SpanStartOption(nil), o.StartOptions...)
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return &o
}

func (o *Options) tracer() trace.Tracer {
	if o.Tracer != nil {
		return o.Tracer
	}
	return otel.GetTracerProvider().Tracer(instrumentationName)
}

func (o *Options) record(err error) bool {
	if err == nil {
		return false
	}
	return o.ErrorFilter == nil || o.ErrorFilter(err)
}
