// Package tracing provides decorators which record redis calls as
// OpenTelemetry spans.
//
// Every command becomes one client span named after the command, tagged
// with component, db.type, span.kind and db.statement. A pipeline flush
// becomes a single MULTI span whose statement lists the queued commands
// separated by ";". Every message received on a subscription becomes a
// SUB span. Failed calls set error=true, record an "error" event and the
// span status; the error itself is returned untouched.
//
// Decorating a client explicitly:
//
//	client := tracing.Client(mem.NewClient(), tracing.WithPrefix("cache"))
//	client.Do(ctx, "GET", "k") // span "cache/GET", db.statement "GET k"
//
// Setting process wide defaults, which backends/redis consults when it
// builds clients:
//
//	if err := tracing.Init(tracing.WithTracerProvider(tp)); err != nil {
//		return err
//	}
package tracing
