// Package instrument decorates the redistrace client surfaces with an
// Instrumenter. The decorators implement the interface they wrap, so a
// decorated value can be used anywhere the wrapped one is.
package instrument

import (
	"context"
	"reflect"

	redistrace "github.com/zerofox-oss/go-redistrace"
)

// Instrumenter observes calls on a decorated surface. Each method is given
// the call as next and must invoke it exactly once, with the context it
// wants the call to run under, returning its results unchanged.
type Instrumenter interface {
	// Command observes a single command.
	Command(ctx context.Context, cmd redistrace.Cmd, next func(context.Context) (interface{}, error)) (interface{}, error)

	// Batch observes the flush of a non-empty pipeline.
	Batch(ctx context.Context, cmds []redistrace.Cmd, next func(context.Context) ([]interface{}, error)) ([]interface{}, error)

	// Message observes the receipt of one pushed message on a subscription.
	Message(ctx context.Context, next func(context.Context) (interface{}, error)) (interface{}, error)
}

// Client wraps next so every command, pipeline and subscription created
// through it is observed by in. If next is already decorated by an
// Instrumenter of the same type it is returned as is.
func Client(next redistrace.Client, in Instrumenter) redistrace.Client {
	if decorated(next, in) {
		return next
	}
	return &client{next: next, in: in}
}

// Pipeline wraps next so its flushes and immediate commands are observed
// by in.
func Pipeline(next redistrace.Pipeline, in Instrumenter) redistrace.Pipeline {
	if decorated(next, in) {
		return next
	}
	return &pipeline{next: next, in: in}
}

// PubSub wraps next so received messages and subscription commands are
// observed by in.
func PubSub(next redistrace.PubSub, in Instrumenter) redistrace.PubSub {
	if decorated(next, in) {
		return next
	}
	return &pubSub{next: next, in: in}
}

type decorator interface {
	instrumenter() Instrumenter
	unwrap() interface{}
}

// decorated walks the chain of decorators around v and reports whether
// one of them uses an Instrumenter of the same type as in.
func decorated(v interface{}, in Instrumenter) bool {
	want := reflect.TypeOf(in)
	for {
		d, ok := v.(decorator)
		if !ok {
			return false
		}
		if reflect.TypeOf(d.instrumenter()) == want {
			return true
		}
		v = d.unwrap()
	}
}

type client struct {
	next redistrace.Client
	in   Instrumenter
}

func (c *client) Do(ctx context.Context, args ...interface{}) (interface{}, error) {
	return c.in.Command(ctx, redistrace.NewCmd(args...), func(ctx context.Context) (interface{}, error) {
		return c.next.Do(ctx, args...)
	})
}

func (c *client) Pipeline() redistrace.Pipeline {
	return Pipeline(c.next.Pipeline(), c.in)
}

func (c *client) TxPipeline() redistrace.Pipeline {
	return Pipeline(c.next.TxPipeline(), c.in)
}

// Subscribe opens an empty subscription on the wrapped client and sends
// SUBSCRIBE through the decorated one, so the command is observed like
// any other.
func (c *client) Subscribe(ctx context.Context, channels ...string) (redistrace.PubSub, error) {
	ps, err := c.next.Subscribe(ctx)
	if err != nil {
		return nil, err
	}

	wrapped := PubSub(ps, c.in)
	if len(channels) == 0 {
		return wrapped, nil
	}

	args := make([]interface{}, 0, len(channels)+1)
	args = append(args, "SUBSCRIBE")
	for _, ch := range channels {
		args = append(args, ch)
	}
	if _, err := wrapped.Do(ctx, args...); err != nil {
		ps.Close()
		return nil, err
	}
	return wrapped, nil
}

func (c *client) Close() error {
	return c.next.Close()
}

func (c *client) instrumenter() Instrumenter { return c.in }
func (c *client) unwrap() interface{}        { return c.next }

type pipeline struct {
	next redistrace.Pipeline
	in   Instrumenter
}

func (p *pipeline) Do(ctx context.Context, args ...interface{}) (interface{}, error) {
	return p.in.Command(ctx, redistrace.NewCmd(args...), func(ctx context.Context) (interface{}, error) {
		return p.next.Do(ctx, args...)
	})
}

func (p *pipeline) Queue(ctx context.Context, args ...interface{}) {
	p.next.Queue(ctx, args...)
}

func (p *pipeline) Queued() []redistrace.Cmd {
	return p.next.Queued()
}

// Exec flushes the wrapped pipeline. An empty pipeline is flushed without
// being observed.
func (p *pipeline) Exec(ctx context.Context) ([]interface{}, error) {
	cmds := p.next.Queued()
	if len(cmds) == 0 {
		return p.next.Exec(ctx)
	}
	return p.in.Batch(ctx, cmds, p.next.Exec)
}

func (p *pipeline) Discard() {
	p.next.Discard()
}

func (p *pipeline) instrumenter() Instrumenter { return p.in }
func (p *pipeline) unwrap() interface{}        { return p.next }

type pubSub struct {
	next redistrace.PubSub
	in   Instrumenter
}

func (ps *pubSub) Do(ctx context.Context, args ...interface{}) (interface{}, error) {
	return ps.in.Command(ctx, redistrace.NewCmd(args...), func(ctx context.Context) (interface{}, error) {
		return ps.next.Do(ctx, args...)
	})
}

func (ps *pubSub) Receive(ctx context.Context) (interface{}, error) {
	return ps.in.Message(ctx, ps.next.Receive)
}

func (ps *pubSub) Close() error {
	return ps.next.Close()
}

func (ps *pubSub) instrumenter() Instrumenter { return ps.in }
func (ps *pubSub) unwrap() interface{}        { return ps.next }
