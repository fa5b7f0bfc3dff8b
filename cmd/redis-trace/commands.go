package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	redistrace "github.com/zerofox-oss/go-redistrace"
	"go.uber.org/zap"
)

var doCmdDef = cli.Command{
	Name:      "do",
	Usage:     "Send a single command",
	ArgsUsage: "COMMAND [ARG...]",
	Action:    cmdDo,
}

var pipelineCmdDef = cli.Command{
	Name:      "pipeline",
	Usage:     "Queue commands and send them in one pipeline",
	ArgsUsage: "'COMMAND [ARG...]'...",
	Action:    cmdPipeline,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "tx",
			Usage: "Run the commands in a MULTI/EXEC transaction",
		},
	},
}

var subscribeCmdDef = cli.Command{
	Name:      "subscribe",
	Usage:     "Subscribe to channels and print received messages",
	ArgsUsage: "CHANNEL...",
	Action:    cmdSubscribe,
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "count",
			Usage: "Number of replies to receive before exiting",
			Value: 1,
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Give up waiting for replies after this long",
			Value: 10 * time.Second,
		},
	},
}

func toArgs(fields []string) []interface{} {
	args := make([]interface{}, len(fields))
	for i, f := range fields {
		args[i] = f
	}
	return args
}

func printReply(c *cli.Context, reply interface{}) {
	switch r := reply.(type) {
	case nil:
		fmt.Fprintln(c.App.Writer, "(nil)")
	case error:
		fmt.Fprintf(c.App.Writer, "(error) %s\n", r)
	case []interface{}:
		for i, v := range r {
			fmt.Fprintf(c.App.Writer, "%d) %v\n", i+1, v)
		}
	default:
		fmt.Fprintf(c.App.Writer, "%v\n", r)
	}
}

func cmdDo(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("no command given: %w", redistrace.ErrEmptyCommand)
	}

	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.Close(context.Background())

	reply, err := e.client.Do(c.Context, toArgs(c.Args().Slice())...)
	if err != nil {
		return err
	}
	printReply(c, reply)
	return nil
}

func cmdPipeline(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.Close(context.Background())

	pipe := e.client.Pipeline()
	if c.Bool("tx") {
		pipe = e.client.TxPipeline()
	}

	for _, line := range c.Args().Slice() {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		pipe.Queue(c.Context, toArgs(fields)...)
	}

	replies, err := pipe.Exec(c.Context)
	for _, r := range replies {
		printReply(c, r)
	}
	return err
}

func cmdSubscribe(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("no channel given: %w", redistrace.ErrInvalidArgument)
	}

	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.Close(context.Background())

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()

	ps, err := e.client.Subscribe(ctx, c.Args().Slice()...)
	if err != nil {
		return err
	}
	defer func() {
		if err := ps.Close(); err != nil {
			e.logger.Warn("failed to close subscription", zap.Error(err))
		}
	}()

	for i := 0; i < c.Int("count"); i++ {
		m, err := ps.Receive(ctx)
		if err != nil {
			return err
		}
		printReply(c, m)
	}
	return nil
}
