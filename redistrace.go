package redistrace

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidArgument is returned when a caller supplies an unusable value,
// e.g. a nil callback.
var ErrInvalidArgument = errors.New("redistrace: invalid argument")

// ErrEmptyCommand is returned when a command is issued without a name.
var ErrEmptyCommand = errors.New("redistrace: empty command")

// ErrUnsupportedCommand is returned when a command cannot be dispatched
// by the receiving object, e.g. GET on a subscription.
var ErrUnsupportedCommand = errors.New("redistrace: unsupported command")

// ErrClosed represents an operation on a closed Client or PubSub.
var ErrClosed = errors.New("redistrace: closed")

// A Cmd is a single command invocation: the command name followed by
// its positional arguments.
type Cmd struct {
	Args []interface{}
}

// NewCmd returns a Cmd holding args.
func NewCmd(args ...interface{}) Cmd {
	return Cmd{Args: args}
}

// Name returns the command name, or "" if the command has no arguments.
func (c Cmd) Name() string {
	if len(c.Args) == 0 {
		return ""
	}
	return fmt.Sprint(c.Args[0])
}

// String returns the command name and its arguments joined by single
// spaces, each argument formatted with fmt.Sprint.
//
//	NewCmd("LPUSH", "my:keys", 1, 3).String() == "LPUSH my:keys 1 3"
func (c Cmd) String() string {
	parts := make([]string, len(c.Args))
	for i, arg := range c.Args {
		parts[i] = fmt.Sprint(arg)
	}
	return strings.Join(parts, " ")
}

// An Executor dispatches a single command and returns its reply.
//
// Do must not retain args after it returns.
type Executor interface {
	Do(ctx context.Context, args ...interface{}) (interface{}, error)
}

// The ExecutorFunc is an adapter to allow the use of ordinary functions
// as an Executor. ExecutorFunc(f) is an Executor that calls f.
type ExecutorFunc func(ctx context.Context, args ...interface{}) (interface{}, error)

// Do calls f(ctx, args...)
func (f ExecutorFunc) Do(ctx context.Context, args ...interface{}) (interface{}, error) {
	return f(ctx, args...)
}

// A Client is a connection to a key-value store.
//
// Multiple goroutines may invoke methods on a Client simultaneously.
type Client interface {
	// Do sends a single command and waits for its reply.
	Do(ctx context.Context, args ...interface{}) (interface{}, error)

	// Pipeline returns a new Pipeline which sends its queued commands in
	// a single round trip.
	Pipeline() Pipeline

	// TxPipeline acts like Pipeline, but the queued commands are executed
	// atomically (MULTI/EXEC).
	TxPipeline() Pipeline

	// Subscribe returns a new PubSub subscribed to channels. Channels may
	// be omitted to create an empty subscription.
	Subscribe(ctx context.Context, channels ...string) (PubSub, error)

	// Close releases the resources held by the Client.
	Close() error
}

// A Pipeline queues commands and sends them together when Exec is called.
//
// A Pipeline is not safe for concurrent use by multiple goroutines.
type Pipeline interface {
	// Do executes a command immediately, without queueing it. The
	// command is not part of a transaction and may run on a different
	// connection than Exec.
	Do(ctx context.Context, args ...interface{}) (interface{}, error)

	// Queue appends a command to the pipeline. Errors in the command
	// surface when Exec is called.
	Queue(ctx context.Context, args ...interface{})

	// Queued returns the commands waiting to be sent, in insertion order.
	// The returned slice must not be modified.
	Queued() []Cmd

	// Exec sends every queued command and empties the queue. It returns
	// one reply per command and the error of the first failed command,
	// if any. Exec on an empty pipeline sends nothing.
	Exec(ctx context.Context) ([]interface{}, error)

	// Discard drops the queued commands.
	Discard()
}

// A PubSub is a client in subscriber mode. Only subscription commands
// (SUBSCRIBE, UNSUBSCRIBE, PSUBSCRIBE, PUNSUBSCRIBE, PING) may be issued
// through Do.
type PubSub interface {
	// Do sends a subscription command.
	Do(ctx context.Context, args ...interface{}) (interface{}, error)

	// Receive blocks until the next pushed message is parsed, or ctx is
	// done. The reply is a *Message, a *Subscription, a *Pong or a
	// backend specific value.
	Receive(ctx context.Context) (interface{}, error)

	// Close unsubscribes from every channel and releases the connection.
	Close() error
}

// Message is a message published on a channel.
type Message struct {
	Channel string
	Pattern string
	Payload string
}

func (m *Message) String() string {
	return fmt.Sprintf("Message<%s: %s>", m.Channel, m.Payload)
}

// Subscription is the confirmation of a (un)subscribe command.
type Subscription struct {
	// Kind is "subscribe", "unsubscribe", "psubscribe" or "punsubscribe".
	Kind    string
	Channel string
	// Count is the number of channels the client is subscribed to.
	Count int
}

func (s *Subscription) String() string {
	return fmt.Sprintf("%s: %s", s.Kind, s.Channel)
}

// Pong is the reply to PING in subscriber mode.
type Pong struct {
	Payload string
}
