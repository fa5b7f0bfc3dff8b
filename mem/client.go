package mem

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	redistrace "github.com/zerofox-oss/go-redistrace"
)

// ErrUnknownCommand is returned for commands the in-memory store does
// not implement.
var ErrUnknownCommand = errors.New("ERR unknown command")

// ErrWrongType is returned when a command is run against a key holding
// another kind of value.
var ErrWrongType = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")

// ErrNotInteger is returned by INCR and friends when the stored value is
// not an integer.
var ErrNotInteger = errors.New("ERR value is not an integer or out of range")

// Client is an in-memory key-value store which implements
// redistrace.Client. It understands a small subset of Redis commands
// (strings, lists, counters and pub/sub) and is meant for tests and
// examples.
//
// Client is safe for concurrent use by multiple goroutines.
type Client struct {
	mux     sync.Mutex
	strs    map[string]string
	lists   map[string][]string
	subs    map[*PubSub]struct{}
	history []redistrace.Cmd
	flushes int
	closed  bool
}

// NewClient creates and initializes an empty Client.
func NewClient() *Client {
	return &Client{
		strs:  make(map[string]string),
		lists: make(map[string][]string),
		subs:  make(map[*PubSub]struct{}),
	}
}

// Do executes a single command.
func (c *Client) Do(ctx context.Context, args ...interface{}) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mux.Lock()
	defer c.mux.Unlock()

	if c.closed {
		return nil, redistrace.ErrClosed
	}
	return c.exec(args)
}

// Pipeline returns a new Pipeline bound to c.
func (c *Client) Pipeline() redistrace.Pipeline {
	return &Pipeline{client: c}
}

// TxPipeline returns a new Pipeline whose commands run atomically.
func (c *Client) TxPipeline() redistrace.Pipeline {
	return &Pipeline{client: c, tx: true}
}

// Subscribe returns a PubSub subscribed to channels.
func (c *Client) Subscribe(ctx context.Context, channels ...string) (redistrace.PubSub, error) {
	c.mux.Lock()
	if c.closed {
		c.mux.Unlock()
		return nil, redistrace.ErrClosed
	}
	ps := newPubSub(c)
	c.subs[ps] = struct{}{}
	c.mux.Unlock()

	if len(channels) == 0 {
		return ps, nil
	}

	args := make([]interface{}, 0, len(channels)+1)
	args = append(args, "SUBSCRIBE")
	for _, ch := range channels {
		args = append(args, ch)
	}
	if _, err := ps.Do(ctx, args...); err != nil {
		ps.Close()
		return nil, err
	}
	return ps, nil
}

// Close marks the client closed; later commands fail with
// redistrace.ErrClosed. Open subscriptions are closed too.
func (c *Client) Close() error {
	c.mux.Lock()
	if c.closed {
		c.mux.Unlock()
		return redistrace.ErrClosed
	}
	c.closed = true

	subs := make([]*PubSub, 0, len(c.subs))
	for ps := range c.subs {
		subs = append(subs, ps)
	}
	c.mux.Unlock()

	for _, ps := range subs {
		ps.Close()
	}
	return nil
}

// History returns every command executed by the store, in order,
// including commands sent through pipelines.
func (c *Client) History() []redistrace.Cmd {
	c.mux.Lock()
	defer c.mux.Unlock()

	out := make([]redistrace.Cmd, len(c.history))
	copy(out, c.history)
	return out
}

// Flushes returns the number of times Exec was called on pipelines
// created by c, including calls on empty pipelines.
func (c *Client) Flushes() int {
	c.mux.Lock()
	defer c.mux.Unlock()

	return c.flushes
}

// exec runs a command. c.mux must be held.
func (c *Client) exec(args []interface{}) (interface{}, error) {
	cmd := redistrace.NewCmd(args...)
	if len(args) == 0 {
		return nil, redistrace.ErrEmptyCommand
	}
	c.history = append(c.history, cmd)

	name := strings.ToUpper(cmd.Name())
	params := toStrings(args[1:])

	switch name {
	case "PING":
		if len(params) > 0 {
			return params[0], nil
		}
		return "PONG", nil
	case "ECHO":
		if err := arity(name, params, 1, 1); err != nil {
			return nil, err
		}
		return params[0], nil
	case "WATCH", "UNWATCH":
		return "OK", nil
	case "FLUSHALL", "FLUSHDB":
		c.strs = make(map[string]string)
		c.lists = make(map[string][]string)
		return "OK", nil
	case "GET":
		if err := arity(name, params, 1, 1); err != nil {
			return nil, err
		}
		if _, ok := c.lists[params[0]]; ok {
			return nil, ErrWrongType
		}
		v, ok := c.strs[params[0]]
		if !ok {
			return nil, nil
		}
		return v, nil
	case "SET":
		if err := arity(name, params, 2, 2); err != nil {
			return nil, err
		}
		delete(c.lists, params[0])
		c.strs[params[0]] = params[1]
		return "OK", nil
	case "DEL":
		if err := arity(name, params, 1, -1); err != nil {
			return nil, err
		}
		var n int64
		for _, k := range params {
			if _, ok := c.strs[k]; ok {
				delete(c.strs, k)
				n++
			}
			if _, ok := c.lists[k]; ok {
				delete(c.lists, k)
				n++
			}
		}
		return n, nil
	case "EXISTS":
		if err := arity(name, params, 1, -1); err != nil {
			return nil, err
		}
		var n int64
		for _, k := range params {
			if _, ok := c.strs[k]; ok {
				n++
			} else if _, ok := c.lists[k]; ok {
				n++
			}
		}
		return n, nil
	case "INCR", "DECR", "INCRBY", "DECRBY":
		return c.incr(name, params)
	case "LPUSH", "RPUSH":
		if err := arity(name, params, 2, -1); err != nil {
			return nil, err
		}
		if _, ok := c.strs[params[0]]; ok {
			return nil, ErrWrongType
		}
		l := c.lists[params[0]]
		for _, v := range params[1:] {
			if name == "LPUSH" {
				l = append([]string{v}, l...)
			} else {
				l = append(l, v)
			}
		}
		c.lists[params[0]] = l
		return int64(len(l)), nil
	case "LLEN":
		if err := arity(name, params, 1, 1); err != nil {
			return nil, err
		}
		if _, ok := c.strs[params[0]]; ok {
			return nil, ErrWrongType
		}
		return int64(len(c.lists[params[0]])), nil
	case "LRANGE":
		return c.lrange(params)
	case "PUBLISH":
		if err := arity(name, params, 2, 2); err != nil {
			return nil, err
		}
		return c.publish(params[0], params[1]), nil
	}

	return nil, fmt.Errorf("%w '%s'", ErrUnknownCommand, cmd.Name())
}

func (c *Client) incr(name string, params []string) (interface{}, error) {
	min, max := 1, 1
	if name == "INCRBY" || name == "DECRBY" {
		min, max = 2, 2
	}
	if err := arity(name, params, min, max); err != nil {
		return nil, err
	}
	if _, ok := c.lists[params[0]]; ok {
		return nil, ErrWrongType
	}

	delta := int64(1)
	if len(params) == 2 {
		d, err := strconv.ParseInt(params[1], 10, 64)
		if err != nil {
			return nil, ErrNotInteger
		}
		delta = d
	}
	if name == "DECR" || name == "DECRBY" {
		delta = -delta
	}

	var cur int64
	if v, ok := c.strs[params[0]]; ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, ErrNotInteger
		}
		cur = n
	}
	cur += delta
	c.strs[params[0]] = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (c *Client) lrange(params []string) (interface{}, error) {
	if err := arity("LRANGE", params, 3, 3); err != nil {
		return nil, err
	}
	if _, ok := c.strs[params[0]]; ok {
		return nil, ErrWrongType
	}
	start, err := strconv.Atoi(params[1])
	if err != nil {
		return nil, ErrNotInteger
	}
	stop, err := strconv.Atoi(params[2])
	if err != nil {
		return nil, ErrNotInteger
	}

	l := c.lists[params[0]]
	n := len(l)
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop {
		return []string{}, nil
	}

	out := make([]string, stop-start+1)
	copy(out, l[start:stop+1])
	return out, nil
}

// publish delivers payload to every matching subscription. c.mux must
// be held.
func (c *Client) publish(channel, payload string) int64 {
	var n int64
	for ps := range c.subs {
		if ps.deliver(channel, payload) {
			n++
		}
	}
	return n
}

func (c *Client) unsubscribe(ps *PubSub) {
	c.mux.Lock()
	defer c.mux.Unlock()

	delete(c.subs, ps)
}

func arity(name string, params []string, min, max int) error {
	if len(params) < min || (max >= 0 && len(params) > max) {
		return fmt.Errorf("ERR wrong number of arguments for '%s' command", strings.ToLower(name))
	}
	return nil
}

func toStrings(args []interface{}) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = fmt.Sprint(a)
	}
	return out
}
