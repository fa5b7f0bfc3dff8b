package mem

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	redistrace "github.com/zerofox-oss/go-redistrace"
)

// SubscriptionBuffer is the number of pushed messages a PubSub holds
// before further messages to it are dropped.
var SubscriptionBuffer = 128

// PubSub is an in-memory subscription. Messages published on the parent
// Client are pushed to C.
type PubSub struct {
	C chan interface{}

	client   *Client
	channels map[string]struct{}
	patterns map[string]struct{}
	closed   bool
	mux      sync.Mutex
}

func newPubSub(c *Client) *PubSub {
	return &PubSub{
		C:        make(chan interface{}, SubscriptionBuffer),
		client:   c,
		channels: make(map[string]struct{}),
		patterns: make(map[string]struct{}),
	}
}

// Do runs a subscription command: SUBSCRIBE, UNSUBSCRIBE, PSUBSCRIBE,
// PUNSUBSCRIBE or PING. Confirmations are pushed to C.
func (ps *PubSub) Do(ctx context.Context, args ...interface{}) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, redistrace.ErrEmptyCommand
	}

	ps.mux.Lock()
	defer ps.mux.Unlock()

	if ps.closed {
		return nil, redistrace.ErrClosed
	}

	cmd := redistrace.NewCmd(args...)
	name := strings.ToUpper(cmd.Name())
	params := toStrings(args[1:])

	switch name {
	case "SUBSCRIBE":
		return nil, ps.subscribe("subscribe", ps.channels, params)
	case "PSUBSCRIBE":
		return nil, ps.subscribe("psubscribe", ps.patterns, params)
	case "UNSUBSCRIBE":
		ps.unsubscribe("unsubscribe", ps.channels, params)
		return nil, nil
	case "PUNSUBSCRIBE":
		ps.unsubscribe("punsubscribe", ps.patterns, params)
		return nil, nil
	case "PING":
		pong := &redistrace.Pong{}
		if len(params) > 0 {
			pong.Payload = params[0]
		}
		ps.push(pong)
		return nil, nil
	}

	return nil, fmt.Errorf("%w: %s in subscriber mode", redistrace.ErrUnsupportedCommand, cmd.Name())
}

// Receive returns the next pushed reply: a *redistrace.Message, a
// *redistrace.Subscription or a *redistrace.Pong.
func (ps *PubSub) Receive(ctx context.Context) (interface{}, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case m, ok := <-ps.C:
		if !ok {
			return nil, redistrace.ErrClosed
		}
		return m, nil
	}
}

// Close detaches the subscription from its Client and closes C.
// If the PubSub is already closed it will return an error.
func (ps *PubSub) Close() error {
	ps.client.unsubscribe(ps)

	ps.mux.Lock()
	defer ps.mux.Unlock()

	if ps.closed {
		return redistrace.ErrClosed
	}
	ps.closed = true
	close(ps.C)

	return nil
}

func (ps *PubSub) subscribe(kind string, set map[string]struct{}, names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("ERR wrong number of arguments for '%s' command", kind)
	}
	for _, n := range names {
		set[n] = struct{}{}
		ps.push(&redistrace.Subscription{Kind: kind, Channel: n, Count: ps.count()})
	}
	return nil
}

func (ps *PubSub) unsubscribe(kind string, set map[string]struct{}, names []string) {
	if len(names) == 0 {
		for n := range set {
			names = append(names, n)
		}
	}
	for _, n := range names {
		delete(set, n)
		ps.push(&redistrace.Subscription{Kind: kind, Channel: n, Count: ps.count()})
	}
}

func (ps *PubSub) count() int {
	return len(ps.channels) + len(ps.patterns)
}

// push enqueues v without blocking. ps.mux must be held.
func (ps *PubSub) push(v interface{}) bool {
	select {
	case ps.C <- v:
		return true
	default:
		return false
	}
}

// deliver pushes a published message if ps listens on channel, directly
// or through a pattern. It reports whether the message was delivered.
func (ps *PubSub) deliver(channel, payload string) bool {
	ps.mux.Lock()
	defer ps.mux.Unlock()

	if ps.closed {
		return false
	}

	if _, ok := ps.channels[channel]; ok {
		return ps.push(&redistrace.Message{Channel: channel, Payload: payload})
	}
	for p := range ps.patterns {
		if ok, _ := path.Match(p, channel); ok {
			return ps.push(&redistrace.Message{Channel: channel, Pattern: p, Payload: payload})
		}
	}
	return false
}
