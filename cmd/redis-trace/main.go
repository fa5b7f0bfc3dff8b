package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"
)

const VERSION = "v0.1.0"

func makeApp(stdin io.Reader, stdout, stderr io.Writer) *cli.App {
	app := cli.NewApp()
	app.Name = "redis-trace"
	app.Version = VERSION
	app.Usage = "Run redis commands and print the spans they produce."
	app.Writer = stdout
	app.ErrWriter = stderr
	app.Reader = stdin
	cli.VersionFlag = &cli.BoolFlag{
		Name: "version",
	}
	app.HideVersion = true
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "addr",
			Usage:   "Address of the redis server",
			EnvVars: []string{"REDISTRACE_ADDR"},
		},
		&cli.StringFlag{
			Name:    "prefix",
			Usage:   "Prefix prepended to span names",
			EnvVars: []string{"REDISTRACE_PREFIX"},
		},
		&cli.BoolFlag{
			Name:  "mem",
			Usage: "Use an in-memory store instead of a redis server",
		},
		&cli.BoolFlag{
			Name:  "opencensus",
			Usage: "Record spans with OpenCensus through the OpenTelemetry bridge",
		},
		&cli.StringFlag{
			Name:      "trace.file",
			Usage:     "Write spans to file instead of stdout",
			TakesFile: true,
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
		},
	}
	app.ExitErrHandler = exitErrHandler
	app.Commands = []*cli.Command{
		&doCmdDef,
		&pipelineCmdDef,
		&subscribeCmdDef,
	}
	return app
}

// Called after a command returns an non-nil error value.
// Prints the formatted error to stderr.
func exitErrHandler(c *cli.Context, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(c.App.ErrWriter, "error: %s\n", err)
}

func main() {
	err := makeApp(os.Stdin, os.Stdout, os.Stderr).Run(os.Args)
	if err != nil {
		os.Exit(1)
	}
}
