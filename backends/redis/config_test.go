package redis_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zerofox-oss/go-redistrace/backends/redis"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := redis.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, redis.Config{
		Addr:     "127.0.0.1:6379",
		TraceAll: true,
	}, cfg)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("REDISTRACE_ADDR", "cache:6380")
	t.Setenv("REDISTRACE_PASSWORD", "secret")
	t.Setenv("REDISTRACE_DB", "2")
	t.Setenv("REDISTRACE_PREFIX", "Prod")
	t.Setenv("REDISTRACE_TRACE_ALL", "false")

	cfg, err := redis.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, redis.Config{
		Addr:     "cache:6380",
		Password: "secret",
		DB:       2,
		Prefix:   "Prod",
		TraceAll: false,
	}, cfg)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("REDISTRACE_DB", "one")

	_, err := redis.LoadConfig()
	assert.Error(t, err)
}
