package tracing_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	redistrace "github.com/zerofox-oss/go-redistrace"
	"github.com/zerofox-oss/go-redistrace/decorators/otel/tracing"
	"github.com/zerofox-oss/go-redistrace/mem"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"pgregory.net/rapid"
)

func newRecorder(t *testing.T) (*tracetest.SpanRecorder, *tracesdk.TracerProvider) {
	t.Helper()

	sr := tracetest.NewSpanRecorder()
	tp := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(sr))
	t.Cleanup(func() { tp.Shutdown(context.Background()) })
	t.Cleanup(tracing.Reset)

	return sr, tp
}

func attributes(span tracesdk.ReadOnlySpan) map[string]interface{} {
	attrs := make(map[string]interface{})
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	return attrs
}

func expectedTags(statement string) map[string]interface{} {
	return map[string]interface{}{
		"component":    "go-redis",
		"db.type":      "redis",
		"span.kind":    "client",
		"db.statement": statement,
	}
}

func TestClient_SingleCommand(t *testing.T) {
	sr, tp := newRecorder(t)
	ctx := context.Background()

	c := tracing.Client(mem.NewClient(), tracing.WithTracerProvider(tp))
	if _, err := c.Do(ctx, "SET", "k", "v"); err != nil {
		t.Fatal(err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "SET" {
		t.Errorf("expected span name SET, got %s", spans[0].Name())
	}
	if spans[0].SpanKind() != trace.SpanKindClient {
		t.Errorf("expected client span, got %s", spans[0].SpanKind())
	}
	if diff := cmp.Diff(expectedTags("SET k v"), attributes(spans[0])); diff != "" {
		t.Errorf("unexpected tags (-want +got):\n%s", diff)
	}
}

func TestInit_Prefix(t *testing.T) {
	sr, tp := newRecorder(t)
	ctx := context.Background()

	if err := tracing.Init(tracing.WithTracerProvider(tp), tracing.WithPrefix("Prod")); err != nil {
		t.Fatal(err)
	}

	m := mem.NewClient()
	m.Do(ctx, "SET", "k", "v")

	res, err := tracing.Client(m).Do(ctx, "GET", "k")
	if err != nil {
		t.Fatal(err)
	}
	if res != "v" {
		t.Errorf("expected v, got %v", res)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "Prod/GET" {
		t.Errorf("expected Prod/GET, got %s", spans[0].Name())
	}
	if s := attributes(spans[0])["db.statement"]; s != "GET k" {
		t.Errorf("expected statement GET k, got %v", s)
	}
}

func TestPipeline_Multi(t *testing.T) {
	sr, tp := newRecorder(t)
	ctx := context.Background()

	c := tracing.Client(mem.NewClient(), tracing.WithTracerProvider(tp))
	pipe := c.Pipeline()
	pipe.Queue(ctx, "LPUSH", "L", 1, 3)
	pipe.Queue(ctx, "LPUSH", "L", 5, 7)

	if _, err := pipe.Exec(ctx); err != nil {
		t.Fatal(err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "MULTI" {
		t.Errorf("expected MULTI, got %s", spans[0].Name())
	}
	if diff := cmp.Diff(expectedTags("LPUSH L 1 3;LPUSH L 5 7"), attributes(spans[0])); diff != "" {
		t.Errorf("unexpected tags (-want +got):\n%s", diff)
	}
}

func TestPipeline_Empty(t *testing.T) {
	sr, tp := newRecorder(t)
	ctx := context.Background()

	m := mem.NewClient()
	pipe := tracing.Pipeline(m.TxPipeline(), tracing.WithTracerProvider(tp))

	if _, err := pipe.Exec(ctx); err != nil {
		t.Fatal(err)
	}

	if n := len(sr.Ended()); n != 0 {
		t.Errorf("expected no spans, got %d", n)
	}
	if m.Flushes() != 1 {
		t.Errorf("expected the underlying flush to run once, got %d", m.Flushes())
	}
}

func TestPipeline_ImmediateCommand(t *testing.T) {
	sr, tp := newRecorder(t)
	ctx := context.Background()

	pipe := tracing.Client(mem.NewClient(), tracing.WithTracerProvider(tp)).TxPipeline()
	if _, err := pipe.Do(ctx, "WATCH", "k"); err != nil {
		t.Fatal(err)
	}
	pipe.Queue(ctx, "SET", "k", "v")
	if _, err := pipe.Exec(ctx); err != nil {
		t.Fatal(err)
	}

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name() != "WATCH" || spans[1].Name() != "MULTI" {
		t.Errorf("unexpected spans %s, %s", spans[0].Name(), spans[1].Name())
	}
	if s := attributes(spans[1])["db.statement"]; s != "SET k v" {
		t.Errorf("expected the batch to hold only queued commands, got %v", s)
	}
}

func TestPubSub_Sub(t *testing.T) {
	sr, tp := newRecorder(t)
	ctx := context.Background()

	m := mem.NewClient()
	c := tracing.Client(m, tracing.WithTracerProvider(tp), tracing.WithPrefix("Prod"))

	ps, err := c.Subscribe(ctx, "news")
	if err != nil {
		t.Fatal(err)
	}
	defer ps.Close()

	m.Do(ctx, "PUBLISH", "news", "hello")

	for i := 0; i < 2; i++ {
		if _, err := ps.Receive(ctx); err != nil {
			t.Fatal(err)
		}
	}

	spans := sr.Ended()
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(spans))
	}
	if spans[0].Name() != "Prod/SUBSCRIBE" {
		t.Errorf("expected Prod/SUBSCRIBE, got %s", spans[0].Name())
	}
	if diff := cmp.Diff(expectedTags("SUBSCRIBE news"), attributes(spans[0])); diff != "" {
		t.Errorf("unexpected tags (-want +got):\n%s", diff)
	}
	for _, span := range spans[1:] {
		if span.Name() != "Prod/SUB" {
			t.Errorf("expected Prod/SUB, got %s", span.Name())
		}
		if diff := cmp.Diff(expectedTags(""), attributes(span)); diff != "" {
			t.Errorf("unexpected tags (-want +got):\n%s", diff)
		}
	}
}

func TestPubSub_ReceiveError(t *testing.T) {
	sr, tp := newRecorder(t)

	ps, _ := mem.NewClient().Subscribe(context.Background())
	traced := tracing.PubSub(ps, tracing.WithTracerProvider(tp))
	ps.Close()

	if _, err := traced.Receive(context.Background()); !errors.Is(err, redistrace.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if attributes(spans[0])["error"] != true {
		t.Errorf("expected span to be marked errored")
	}
}

func TestClient_Error(t *testing.T) {
	sr, tp := newRecorder(t)
	ctx := context.Background()

	m := mem.NewClient()
	m.Do(ctx, "LPUSH", "L", 1)

	c := tracing.Client(m, tracing.WithTracerProvider(tp))
	_, err := c.Do(ctx, "GET", "L")
	if err != mem.ErrWrongType {
		t.Fatalf("expected the original error, got %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]

	if attributes(span)["error"] != true {
		t.Errorf("expected error=true, got %v", attributes(span)["error"])
	}
	if span.Status().Code != codes.Error {
		t.Errorf("expected error status, got %v", span.Status())
	}

	events := span.Events()
	if len(events) != 1 || events[0].Name != "error" {
		t.Fatalf("expected one error event, got %v", events)
	}
	got := make(map[string]interface{})
	for _, kv := range events[0].Attributes {
		got[string(kv.Key)] = kv.Value.AsInterface()
	}
	want := map[string]interface{}{
		"event":        "error",
		"error.object": mem.ErrWrongType.Error(),
		"error.kind":   fmt.Sprintf("%T", mem.ErrWrongType),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected event (-want +got):\n%s", diff)
	}
}

func TestPipeline_Error(t *testing.T) {
	sr, tp := newRecorder(t)
	ctx := context.Background()

	pipe := tracing.Client(mem.NewClient(), tracing.WithTracerProvider(tp)).Pipeline()
	pipe.Queue(ctx, "BOGUS")

	_, err := pipe.Exec(ctx)
	if !errors.Is(err, mem.ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("expected error status")
	}
}

func TestErrorFilter(t *testing.T) {
	sr, tp := newRecorder(t)
	ctx := context.Background()

	miss := errors.New("miss")
	next := redistrace.ExecutorFunc(func(ctx context.Context, args ...interface{}) (interface{}, error) {
		return nil, miss
	})

	c := tracing.Client(&executorClient{Executor: next},
		tracing.WithTracerProvider(tp),
		tracing.WithErrorFilter(func(err error) bool { return err != miss }),
	)

	if _, err := c.Do(ctx, "GET", "k"); err != miss {
		t.Fatalf("expected the original error, got %v", err)
	}

	span := sr.Ended()[0]
	if _, ok := attributes(span)["error"]; ok {
		t.Errorf("expected filtered error not to be recorded")
	}
	if span.Status().Code == codes.Error {
		t.Errorf("expected filtered error not to set the status")
	}
}

func TestStartSpanCallback_Rename(t *testing.T) {
	sr, tp := newRecorder(t)
	ctx := context.Background()

	c := tracing.Client(mem.NewClient(),
		tracing.WithTracerProvider(tp),
		tracing.WithStartSpanCallback(func(ctx context.Context, span trace.Span) error {
			span.SetName("renamed")
			return nil
		}),
	)
	c.Do(ctx, "PING")

	if name := sr.Ended()[0].Name(); name != "renamed" {
		t.Errorf("expected renamed span, got %s", name)
	}
}

func TestStartSpanCallback_Failures(t *testing.T) {
	callbacks := map[string]tracing.StartSpanCallback{
		"error": func(ctx context.Context, span trace.Span) error {
			return errors.New("callback failed")
		},
		"panic": func(ctx context.Context, span trace.Span) error {
			panic("callback panicked")
		},
	}

	for name, cb := range callbacks {
		t.Run(name, func(t *testing.T) {
			sr, tp := newRecorder(t)
			ctx := context.Background()

			m := mem.NewClient()
			c := tracing.Client(m, tracing.WithTracerProvider(tp), tracing.WithStartSpanCallback(cb))

			res, err := c.Do(ctx, "SET", "k", "v")
			if err != nil || res != "OK" {
				t.Fatalf("expected the call to succeed, got %v, %v", res, err)
			}

			m.Do(ctx, "LPUSH", "L", 1)
			if _, err := c.Do(ctx, "GET", "L"); err != mem.ErrWrongType {
				t.Fatalf("expected the original error, got %v", err)
			}

			spans := sr.Ended()
			if len(spans) != 2 {
				t.Fatalf("expected 2 spans, got %d", len(spans))
			}
			if _, ok := attributes(spans[0])["error"]; ok {
				t.Errorf("callback failure must not mark the span errored")
			}
			if spans[0].Status().Code == codes.Error {
				t.Errorf("callback failure must not set the span status")
			}
			if attributes(spans[1])["error"] != true {
				t.Errorf("expected the failed command to be marked errored")
			}
		})
	}
}

func TestInit_InvalidCallback(t *testing.T) {
	_, tp := newRecorder(t)

	if err := tracing.Init(tracing.WithTracerProvider(tp), tracing.WithPrefix("before")); err != nil {
		t.Fatal(err)
	}

	err := tracing.Init(tracing.WithPrefix("after"), tracing.WithStartSpanCallback(nil))
	if !errors.Is(err, tracing.ErrInvalidCallback) {
		t.Fatalf("expected ErrInvalidCallback, got %v", err)
	}
	if !errors.Is(err, redistrace.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidCallback to wrap ErrInvalidArgument")
	}

	sr := tracetest.NewSpanRecorder()
	tp.RegisterSpanProcessor(sr)
	tracing.Client(mem.NewClient()).Do(context.Background(), "PING")

	if name := sr.Ended()[0].Name(); name != "before/PING" {
		t.Errorf("expected the previous configuration to be kept, got %s", name)
	}
}

func TestInit_TraceAllClients(t *testing.T) {
	newRecorder(t)

	if tracing.TraceAllClients() {
		t.Errorf("expected trace all to be off before Init")
	}
	if err := tracing.Init(); err != nil {
		t.Fatal(err)
	}
	if !tracing.TraceAllClients() {
		t.Errorf("expected trace all to default to true")
	}
	if err := tracing.Init(tracing.WithTraceAllClients(false)); err != nil {
		t.Fatal(err)
	}
	if tracing.TraceAllClients() {
		t.Errorf("expected trace all to be off")
	}

	tracing.Init()
	tracing.Reset()
	if tracing.TraceAllClients() {
		t.Errorf("expected Reset to clear trace all")
	}
}

type wrappedTracer struct {
	trace.Tracer
	delegate trace.Tracer
}

func (w wrappedTracer) Unwrap() trace.Tracer {
	return w.delegate
}

func TestInit_UnwrapsTracer(t *testing.T) {
	sr, tp := newRecorder(t)
	unused := tracetest.NewSpanRecorder()

	other := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(unused))
	t.Cleanup(func() { other.Shutdown(context.Background()) })

	w := wrappedTracer{Tracer: other.Tracer("adapter"), delegate: tp.Tracer("delegate")}
	if err := tracing.Init(tracing.WithTracer(w)); err != nil {
		t.Fatal(err)
	}

	if tracing.Tracer() != w.delegate {
		t.Errorf("expected the delegate tracer to be stored")
	}

	tracing.Client(mem.NewClient()).Do(context.Background(), "PING")
	if len(sr.Ended()) != 1 || len(unused.Ended()) != 0 {
		t.Errorf("expected the span to be started by the delegate")
	}
}

func TestAmbientTracer(t *testing.T) {
	sr, tp := newRecorder(t)

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	tracing.Client(mem.NewClient()).Do(context.Background(), "PING")
	if len(sr.Ended()) != 1 {
		t.Errorf("expected the global tracer provider to be used")
	}
}

func TestSnapshotAtConstruction(t *testing.T) {
	sr, tp := newRecorder(t)
	ctx := context.Background()

	tracing.Init(tracing.WithTracerProvider(tp), tracing.WithPrefix("one"))
	c := tracing.Client(mem.NewClient())
	tracing.Init(tracing.WithTracerProvider(tp), tracing.WithPrefix("two"))

	c.Do(ctx, "PING")
	tracing.Client(mem.NewClient(), tracing.WithPrefix("three")).Do(ctx, "PING")

	spans := sr.Ended()
	if spans[0].Name() != "one/PING" || spans[1].Name() != "three/PING" {
		t.Errorf("unexpected names %s, %s", spans[0].Name(), spans[1].Name())
	}
}

func TestSpanContextPropagated(t *testing.T) {
	sr, tp := newRecorder(t)

	var inner trace.SpanContext
	next := redistrace.ExecutorFunc(func(ctx context.Context, args ...interface{}) (interface{}, error) {
		inner = trace.SpanContextFromContext(ctx)
		return nil, nil
	})

	tracing.Client(&executorClient{Executor: next}, tracing.WithTracerProvider(tp)).Do(context.Background(), "PING")

	if !inner.Equal(sr.Ended()[0].SpanContext()) {
		t.Errorf("expected the wrapped call to run under the new span")
	}
}

func TestDoubleWrap(t *testing.T) {
	sr, tp := newRecorder(t)

	c := tracing.Client(mem.NewClient(), tracing.WithTracerProvider(tp))
	c = tracing.Client(c, tracing.WithTracerProvider(tp))
	c.Do(context.Background(), "PING")

	if n := len(sr.Ended()); n != 1 {
		t.Errorf("expected 1 span, got %d", n)
	}
}

func TestSingleCommandProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		sr := tracetest.NewSpanRecorder()
		tp := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(sr))
		defer tp.Shutdown(context.Background())

		prefix := rapid.StringMatching(`[A-Za-z]{0,6}`).Draw(rt, "prefix")
		name := rapid.StringMatching(`[A-Z]{1,8}`).Draw(rt, "name")
		params := rapid.SliceOf(rapid.IntRange(-100, 100)).Draw(rt, "params")

		args := []interface{}{name}
		stmt := name
		for _, p := range params {
			args = append(args, p)
			stmt += fmt.Sprintf(" %d", p)
		}

		next := redistrace.ExecutorFunc(func(ctx context.Context, args ...interface{}) (interface{}, error) {
			return nil, nil
		})
		c := tracing.Client(&executorClient{Executor: next}, tracing.WithTracerProvider(tp), tracing.WithPrefix(prefix))
		c.Do(context.Background(), args...)

		spans := sr.Ended()
		if len(spans) != 1 {
			rt.Fatalf("expected 1 span, got %d", len(spans))
		}
		if want := redistrace.OperationName(prefix, name); spans[0].Name() != want {
			rt.Fatalf("expected %s, got %s", want, spans[0].Name())
		}
		if got := attributes(spans[0])["db.statement"]; got != stmt {
			rt.Fatalf("expected %q, got %q", stmt, got)
		}
	})
}

// executorClient is a redistrace.Client whose commands are sent to an
// Executor.
func TestPanicEndsSpan(t *testing.T) {
	sr, tp := newRecorder(t)

	next := redistrace.ExecutorFunc(func(ctx context.Context, args ...interface{}) (interface{}, error) {
		panic("connection lost")
	})
	c := tracing.Client(&executorClient{Executor: next}, tracing.WithTracerProvider(tp))

	func() {
		defer func() {
			if r := recover(); r != "connection lost" {
				t.Errorf("expected the panic to reach the caller, got %v", r)
			}
		}()
		c.Do(context.Background(), "GET", "k")
	}()

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 ended span, got %d", len(spans))
	}
	if spans[0].Name() != "GET" {
		t.Errorf("expected span name GET, got %s", spans[0].Name())
	}
}

func TestPanicEndsBatchSpan(t *testing.T) {
	sr, tp := newRecorder(t)
	in := tracing.NewInstrumenter(tracing.WithTracerProvider(tp))

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Errorf("expected the panic to reach the caller")
			}
		}()
		cmds := []redistrace.Cmd{redistrace.NewCmd("INCR", "n")}
		in.Batch(context.Background(), cmds, func(ctx context.Context) ([]interface{}, error) {
			panic("connection lost")
		})
	}()

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 ended span, got %d", len(spans))
	}
	if spans[0].Name() != redistrace.MultiOperation {
		t.Errorf("expected span name MULTI, got %s", spans[0].Name())
	}
}

type executorClient struct {
	redistrace.Executor
}

func (c *executorClient) Pipeline() redistrace.Pipeline   { return nil }
func (c *executorClient) TxPipeline() redistrace.Pipeline { return nil }
func (c *executorClient) Subscribe(ctx context.Context, channels ...string) (redistrace.PubSub, error) {
	return nil, redistrace.ErrUnsupportedCommand
}
func (c *executorClient) Close() error { return nil }
