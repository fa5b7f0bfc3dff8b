package mem

import (
	"context"

	redistrace "github.com/zerofox-oss/go-redistrace"
)

// Pipeline queues commands for a Client and runs them together on Exec.
type Pipeline struct {
	client *Client
	tx     bool
	cmds   []redistrace.Cmd
}

// Do runs a command immediately, bypassing the queue.
func (p *Pipeline) Do(ctx context.Context, args ...interface{}) (interface{}, error) {
	return p.client.Do(ctx, args...)
}

// Queue appends a command to the pipeline.
func (p *Pipeline) Queue(ctx context.Context, args ...interface{}) {
	a := make([]interface{}, len(args))
	copy(a, args)
	p.cmds = append(p.cmds, redistrace.NewCmd(a...))
}

// Queued returns the queued commands.
func (p *Pipeline) Queued() []redistrace.Cmd {
	return p.cmds
}

// Discard drops every queued command.
func (p *Pipeline) Discard() {
	p.cmds = nil
}

// Exec runs every queued command and empties the queue. Commands keep
// running after a failure; the first error is returned alongside all
// replies. For a transactional pipeline no other command is interleaved.
func (p *Pipeline) Exec(ctx context.Context) ([]interface{}, error) {
	cmds := p.cmds
	p.cmds = nil

	c := p.client
	c.mux.Lock()
	c.flushes++
	closed := c.closed
	c.mux.Unlock()

	if len(cmds) == 0 {
		return nil, nil
	}
	if closed {
		return nil, redistrace.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if p.tx {
		c.mux.Lock()
		defer c.mux.Unlock()
	}

	var firstErr error
	replies := make([]interface{}, len(cmds))
	for i, cmd := range cmds {
		if !p.tx {
			c.mux.Lock()
		}
		res, err := c.exec(cmd.Args)
		if !p.tx {
			c.mux.Unlock()
		}

		replies[i] = res
		if err != nil {
			replies[i] = err
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return replies, firstErr
}
