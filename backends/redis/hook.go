package redis

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	goredis "github.com/redis/go-redis/v9"
	redistrace "github.com/zerofox-oss/go-redistrace"
	"github.com/zerofox-oss/go-redistrace/internal/instrument"
	"go.uber.org/zap"
)

type hookKey struct {
	rdb  *goredis.Client
	kind reflect.Type
}

var installed sync.Map

// InstrumentClient adds a hook to rdb so commands and pipelines sent
// through the typed go-redis API are observed by in, for instance a
// *tracing.Instrumenter. It reports false, and does nothing, if an
// Instrumenter of the same type was already installed on rdb.
//
// Installations are remembered until Release is called for rdb, which
// Client.Close does. Call Release when closing rdb directly.
//
// Subscriptions bypass go-redis hooks; use Wrap and a decorator to trace
// them.
func InstrumentClient(rdb *goredis.Client, in instrument.Instrumenter, opts ...Option) bool {
	key := hookKey{rdb: rdb, kind: reflect.TypeOf(in)}
	if _, loaded := installed.LoadOrStore(key, struct{}{}); loaded {
		newOptions(opts).Logger.Debug("redis hook already installed",
			zap.String("instrumenter", key.kind.String()),
		)
		return false
	}

	rdb.AddHook(hook{in: in})
	return true
}

// Release forgets the instrumenters installed on rdb. The hooks stay on
// rdb, so it should only be called once rdb is closed.
func Release(rdb *goredis.Client) {
	installed.Range(func(k, _ interface{}) bool {
		if k.(hookKey).rdb == rdb {
			installed.Delete(k)
		}
		return true
	})
}

// IgnoreNil is an error filter which reports false for redis.Nil, so
// cache misses are not recorded as failures.
func IgnoreNil(err error) bool {
	return !errors.Is(err, goredis.Nil)
}

type hook struct {
	in instrument.Instrumenter
}

func (h hook) DialHook(next goredis.DialHook) goredis.DialHook {
	return next
}

func (h hook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		_, err := h.in.Command(ctx, command(cmd), func(ctx context.Context) (interface{}, error) {
			return nil, next(ctx, cmd)
		})
		return err
	}
}

func (h hook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		queued := commands(cmds)
		if len(queued) == 0 {
			return next(ctx, cmds)
		}

		_, err := h.in.Batch(ctx, queued, func(ctx context.Context) ([]interface{}, error) {
			return nil, next(ctx, cmds)
		})
		return err
	}
}

// command converts cmd, upper-casing the name go-redis stores in lower
// case.
func command(cmd goredis.Cmder) redistrace.Cmd {
	args := append([]interface{}(nil), cmd.Args()...)
	if len(args) > 0 {
		args[0] = strings.ToUpper(fmt.Sprint(args[0]))
	}
	return redistrace.NewCmd(args...)
}

// commands converts a pipeline, dropping the multi and exec commands
// go-redis adds around transactions.
func commands(cmds []goredis.Cmder) []redistrace.Cmd {
	if n := len(cmds); n >= 2 && cmds[0].Name() == "multi" && cmds[n-1].Name() == "exec" {
		cmds = cmds[1 : n-1]
	}

	out := make([]redistrace.Cmd, len(cmds))
	for i, cmd := range cmds {
		out[i] = command(cmd)
	}
	return out
}
