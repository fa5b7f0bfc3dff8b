// Package redis adapts github.com/redis/go-redis/v9 to the redistrace
// interfaces so go-redis clients can be decorated, and provides a hook
// which traces the typed go-redis API directly.
package redis

import (
	"context"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	redistrace "github.com/zerofox-oss/go-redistrace"
	"github.com/zerofox-oss/go-redistrace/decorators/otel/tracing"
	"go.uber.org/zap"
)

type Options struct {
	Logger *zap.Logger
}

type Option func(*Options)

func WithLogger(l *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

func newOptions(opts []Option) *Options {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}
	if options.Logger == nil {
		options.Logger = zap.NewNop()
	}
	return options
}

// NewClient connects to the server described by cfg. When
// tracing.TraceAllClients reports true the returned client is already
// wrapped by tracing.Client.
func NewClient(cfg Config, opts ...Option) redistrace.Client {
	c := Dial(cfg, opts...)
	if !tracing.TraceAllClients() {
		return c
	}
	return tracing.Client(c, tracing.WithLogger(c.logger))
}

// Client is a redistrace.Client backed by a go-redis client.
type Client struct {
	rdb    *goredis.Client
	logger *zap.Logger
}

// Dial returns an undecorated Client for the server described by cfg.
func Dial(cfg Config, opts ...Option) *Client {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return Wrap(rdb, opts...)
}

// Wrap returns a Client which sends its commands through rdb.
func Wrap(rdb *goredis.Client, opts ...Option) *Client {
	return &Client{
		rdb:    rdb,
		logger: newOptions(opts).Logger,
	}
}

// Redis returns the underlying go-redis client.
func (c *Client) Redis() *goredis.Client {
	return c.rdb
}

func (c *Client) Do(ctx context.Context, args ...interface{}) (interface{}, error) {
	if len(args) == 0 {
		return nil, redistrace.ErrEmptyCommand
	}
	return c.rdb.Do(ctx, args...).Result()
}

func (c *Client) Pipeline() redistrace.Pipeline {
	return &Pipeline{rdb: c.rdb, pipe: c.rdb.Pipeline()}
}

func (c *Client) TxPipeline() redistrace.Pipeline {
	return &Pipeline{rdb: c.rdb, pipe: c.rdb.TxPipeline()}
}

func (c *Client) Subscribe(ctx context.Context, channels ...string) (redistrace.PubSub, error) {
	ps := c.rdb.Subscribe(ctx)
	if len(channels) == 0 {
		return &PubSub{ps: ps}, nil
	}

	if err := ps.Subscribe(ctx, channels...); err != nil {
		if cerr := ps.Close(); cerr != nil {
			c.logger.Warn("failed to close subscription", zap.Error(cerr))
		}
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	return &PubSub{ps: ps}, nil
}

// Close closes the underlying go-redis client and releases its hook
// installations.
func (c *Client) Close() error {
	defer Release(c.rdb)
	return c.rdb.Close()
}

// Pipeline is a redistrace.Pipeline backed by a go-redis pipeline.
type Pipeline struct {
	rdb  *goredis.Client
	pipe goredis.Pipeliner
	cmds []redistrace.Cmd
}

// Do sends a command through the parent client's connection pool
// immediately. It is not pinned to the connection Exec uses, so WATCH
// must go through goredis.Client.Watch instead.
func (p *Pipeline) Do(ctx context.Context, args ...interface{}) (interface{}, error) {
	if len(args) == 0 {
		return nil, redistrace.ErrEmptyCommand
	}
	return p.rdb.Do(ctx, args...).Result()
}

func (p *Pipeline) Queue(ctx context.Context, args ...interface{}) {
	p.pipe.Do(ctx, args...)
	p.cmds = append(p.cmds, redistrace.NewCmd(args...))
}

func (p *Pipeline) Queued() []redistrace.Cmd {
	return p.cmds
}

// Exec sends the queued commands. Each reply is the value of the
// command, or its error if it failed.
func (p *Pipeline) Exec(ctx context.Context) ([]interface{}, error) {
	p.cmds = nil

	cmds, err := p.pipe.Exec(ctx)
	if len(cmds) == 0 {
		return nil, err
	}

	replies := make([]interface{}, len(cmds))
	for i, cmd := range cmds {
		if cerr := cmd.Err(); cerr != nil {
			replies[i] = cerr
			continue
		}
		if c, ok := cmd.(*goredis.Cmd); ok {
			replies[i] = c.Val()
		}
	}
	return replies, err
}

func (p *Pipeline) Discard() {
	p.pipe.Discard()
	p.cmds = nil
}

// PubSub is a redistrace.PubSub backed by a go-redis subscription.
type PubSub struct {
	ps *goredis.PubSub
}

func (s *PubSub) Do(ctx context.Context, args ...interface{}) (interface{}, error) {
	if len(args) == 0 {
		return nil, redistrace.ErrEmptyCommand
	}

	name := strings.ToUpper(fmt.Sprint(args[0]))
	params := make([]string, len(args)-1)
	for i, a := range args[1:] {
		params[i] = fmt.Sprint(a)
	}

	switch name {
	case "SUBSCRIBE":
		return nil, s.ps.Subscribe(ctx, params...)
	case "PSUBSCRIBE":
		return nil, s.ps.PSubscribe(ctx, params...)
	case "UNSUBSCRIBE":
		return nil, s.ps.Unsubscribe(ctx, params...)
	case "PUNSUBSCRIBE":
		return nil, s.ps.PUnsubscribe(ctx, params...)
	case "PING":
		return nil, s.ps.Ping(ctx, params...)
	}

	return nil, fmt.Errorf("%w: %s in subscriber mode", redistrace.ErrUnsupportedCommand, name)
}

// Receive returns the next *redistrace.Message, *redistrace.Subscription
// or *redistrace.Pong.
func (s *PubSub) Receive(ctx context.Context) (interface{}, error) {
	m, err := s.ps.Receive(ctx)
	if err != nil {
		return nil, err
	}

	switch m := m.(type) {
	case *goredis.Message:
		return &redistrace.Message{Channel: m.Channel, Pattern: m.Pattern, Payload: m.Payload}, nil
	case *goredis.Subscription:
		return &redistrace.Subscription{Kind: m.Kind, Channel: m.Channel, Count: m.Count}, nil
	case *goredis.Pong:
		return &redistrace.Pong{Payload: m.Payload}, nil
	}
	return m, nil
}

func (s *PubSub) Close() error {
	return s.ps.Close()
}
