// Package metrics provides decorators which count redis calls and
// measure their latency with Prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/asecurityteam/rolling"
	"github.com/prometheus/client_golang/prometheus"
	redistrace "github.com/zerofox-oss/go-redistrace"
	"github.com/zerofox-oss/go-redistrace/internal/instrument"
	"github.com/zoobzio/clockz"
)

// Values of the status label.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

type Options struct {
	Registerer prometheus.Registerer
	Namespace  string
	Buckets    []float64
	Clock      clockz.Clock
}

type Option func(*Options)

func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *Options) {
		o.Registerer = r
	}
}

func WithNamespace(ns string) Option {
	return func(o *Options) {
		o.Namespace = ns
	}
}

func WithBuckets(b []float64) Option {
	return func(o *Options) {
		o.Buckets = b
	}
}

// WithClock sets the clock used to time calls.
func WithClock(c clockz.Clock) Option {
	return func(o *Options) {
		o.Clock = c
	}
}

// Instrumenter records redis_commands_total{command,status} and
// redis_command_duration_seconds{command}. Pipeline flushes are recorded
// as MULTI and received messages as SUB.
type Instrumenter struct {
	commands *prometheus.CounterVec
	duration *prometheus.HistogramVec
	clock    clockz.Clock

	// durations of recent calls, in seconds
	recent *rolling.TimePolicy
}

// NewInstrumenter creates the collectors and registers them. Collectors
// already registered under the same names are reused.
func NewInstrumenter(opts ...Option) (*Instrumenter, error) {
	options := &Options{
		Registerer: prometheus.DefaultRegisterer,
		Buckets:    []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		Clock:      clockz.RealClock,
	}

	for _, opt := range opts {
		opt(options)
	}

	commands := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: options.Namespace,
			Name:      "redis_commands_total",
			Help:      "Total number of redis commands",
		},
		[]string{"command", "status"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: options.Namespace,
			Name:      "redis_command_duration_seconds",
			Help:      "Redis command duration in seconds",
			Buckets:   options.Buckets,
		},
		[]string{"command"},
	)

	if err := register(options.Registerer, &commands); err != nil {
		return nil, err
	}
	if err := register(options.Registerer, &duration); err != nil {
		return nil, err
	}

	return &Instrumenter{
		commands: commands,
		duration: duration,
		clock:    options.Clock,
		recent:   rolling.NewTimePolicy(rolling.NewWindow(10000), time.Millisecond),
	}, nil
}

func register[C prometheus.Collector](r prometheus.Registerer, c *C) error {
	if r == nil {
		return nil
	}

	err := r.Register(*c)
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			*c = existing
			return nil
		}
	}
	return err
}

// Client wraps a redistrace.Client, recording every command it sends.
func Client(next redistrace.Client, in *Instrumenter) redistrace.Client {
	return instrument.Client(next, in)
}

// Pipeline wraps a redistrace.Pipeline, recording each flush as MULTI.
func Pipeline(next redistrace.Pipeline, in *Instrumenter) redistrace.Pipeline {
	return instrument.Pipeline(next, in)
}

// PubSub wraps a redistrace.PubSub, recording each received message as SUB.
func PubSub(next redistrace.PubSub, in *Instrumenter) redistrace.PubSub {
	return instrument.PubSub(next, in)
}

func (in *Instrumenter) Command(ctx context.Context, cmd redistrace.Cmd, next func(context.Context) (interface{}, error)) (interface{}, error) {
	start := in.clock.Now()
	res, err := next(ctx)
	in.observe(strings.ToUpper(cmd.Name()), start, err)
	return res, err
}

func (in *Instrumenter) Batch(ctx context.Context, cmds []redistrace.Cmd, next func(context.Context) ([]interface{}, error)) ([]interface{}, error) {
	start := in.clock.Now()
	res, err := next(ctx)
	in.observe(redistrace.MultiOperation, start, err)
	return res, err
}

func (in *Instrumenter) Message(ctx context.Context, next func(context.Context) (interface{}, error)) (interface{}, error) {
	start := in.clock.Now()
	res, err := next(ctx)
	in.observe(redistrace.SubOperation, start, err)
	return res, err
}

func (in *Instrumenter) observe(command string, start time.Time, err error) {
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	in.commands.WithLabelValues(command, status).Inc()
	d := in.clock.Since(start).Seconds()
	in.duration.WithLabelValues(command).Observe(d)
	in.recent.Append(d)
}

// MeanDuration returns the average duration of the calls recorded in the
// last ten seconds, or zero if there were none.
func (in *Instrumenter) MeanDuration() time.Duration {
	if in.recent.Reduce(rolling.Count) == 0 {
		return 0
	}
	return time.Duration(in.recent.Reduce(rolling.Avg) * float64(time.Second))
}
