package metrics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	redistrace "github.com/zerofox-oss/go-redistrace"
	"github.com/zerofox-oss/go-redistrace/mem"
	"github.com/zoobzio/clockz"
)

func TestClient_CountsCommands(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()

	in, err := NewInstrumenter(WithRegisterer(reg))
	require.NoError(t, err)

	c := Client(mem.NewClient(), in)
	c.Do(ctx, "SET", "k", "v")
	c.Do(ctx, "get", "k")
	c.Do(ctx, "GET", "k")
	c.Do(ctx, "NOPE")

	assert.Equal(t, 1.0, testutil.ToFloat64(in.commands.WithLabelValues("SET", StatusOK)))
	assert.Equal(t, 2.0, testutil.ToFloat64(in.commands.WithLabelValues("GET", StatusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(in.commands.WithLabelValues("NOPE", StatusError)))
}

func TestPipelineAndPubSub(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()

	in, err := NewInstrumenter(WithRegisterer(reg))
	require.NoError(t, err)

	m := mem.NewClient()
	c := Client(m, in)

	p := c.Pipeline()
	p.Queue(ctx, "INCR", "n")
	p.Queue(ctx, "INCR", "n")
	_, err = p.Exec(ctx)
	require.NoError(t, err)

	// empty flushes are not recorded
	_, err = c.TxPipeline().Exec(ctx)
	require.NoError(t, err)

	ps, err := c.Subscribe(ctx, "news")
	require.NoError(t, err)
	defer ps.Close()
	_, err = ps.Receive(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(in.commands.WithLabelValues(redistrace.MultiOperation, StatusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(in.commands.WithLabelValues("SUBSCRIBE", StatusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(in.commands.WithLabelValues(redistrace.SubOperation, StatusOK)))
	assert.Equal(t, 0.0, testutil.ToFloat64(in.commands.WithLabelValues("INCR", StatusOK)))
}

func TestDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	clock := clockz.NewFakeClock()

	in, err := NewInstrumenter(
		WithRegisterer(reg),
		WithClock(clock),
		WithBuckets([]float64{0.001, 0.01}),
	)
	require.NoError(t, err)

	slow := redistrace.ExecutorFunc(func(ctx context.Context, args ...interface{}) (interface{}, error) {
		clock.Advance(5 * time.Millisecond)
		return "v", nil
	})

	res, err := in.Command(context.Background(), redistrace.NewCmd("GET", "k"), func(ctx context.Context) (interface{}, error) {
		return slow.Do(ctx, "GET", "k")
	})
	require.NoError(t, err)
	assert.Equal(t, "v", res)

	expected := `
# HELP redis_command_duration_seconds Redis command duration in seconds
# TYPE redis_command_duration_seconds histogram
redis_command_duration_seconds_bucket{command="GET",le="0.001"} 0
redis_command_duration_seconds_bucket{command="GET",le="0.01"} 1
redis_command_duration_seconds_bucket{command="GET",le="+Inf"} 1
redis_command_duration_seconds_sum{command="GET"} 0.005
redis_command_duration_seconds_count{command="GET"} 1
`
	err = testutil.GatherAndCompare(reg, strings.NewReader(expected), "redis_command_duration_seconds")
	assert.NoError(t, err)
}

func TestNewInstrumenter_ReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	first, err := NewInstrumenter(WithRegisterer(reg), WithNamespace("app"))
	require.NoError(t, err)
	second, err := NewInstrumenter(WithRegisterer(reg), WithNamespace("app"))
	require.NoError(t, err)

	assert.Same(t, first.commands, second.commands)
	assert.Same(t, first.duration, second.duration)
}

func TestNewInstrumenter_Conflict(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{
		Name: "redis_commands_total",
		Help: "something else",
	}))

	_, err := NewInstrumenter(WithRegisterer(reg))
	assert.Error(t, err)
}

func TestMeanDuration(t *testing.T) {
	clock := clockz.NewFakeClock()

	in, err := NewInstrumenter(WithRegisterer(prometheus.NewRegistry()), WithClock(clock))
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), in.MeanDuration())

	for _, d := range []time.Duration{10 * time.Millisecond, 30 * time.Millisecond} {
		in.Command(context.Background(), redistrace.NewCmd("SET", "k", "v"), func(ctx context.Context) (interface{}, error) {
			clock.Advance(d)
			return "OK", nil
		})
	}

	assert.InDelta(t, float64(20*time.Millisecond), float64(in.MeanDuration()), float64(time.Microsecond))
}
