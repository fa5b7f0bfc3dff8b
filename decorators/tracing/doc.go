// Package tracing provides decorators which record redis calls as
// OpenCensus spans.
//
// # How it works
//
// tracing.Client wraps a redistrace.Client. Every command sent through it
// starts a client span named after the command and tagged with the
// command line as db.statement. Pipelines created by the client start a
// single MULTI span when flushed, and subscriptions start a SUB span for
// each received message. Errors are annotated on the span and returned
// unchanged.
//
// # Examples
//
//	func ExampleClient() {
//		client := tracing.Client(mem.NewClient(), tracing.WithPrefix("cache"))
//		// use client as you would without tracing
//		client.Do(ctx, "GET", "k")
//	}
//
// Spans are started with trace.DefaultTracer unless WithTracer is given,
// so installing the OpenTelemetry bridge routes them to an OpenTelemetry
// TracerProvider.
package tracing
