package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// Not parallel: t.Setenv mutates the process environment

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0:8080", cfg.Server.Address())
	require.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	require.Equal(t, 5*time.Minute, cfg.Auction.ExtensionWindow)
	require.Equal(t, time.Second, cfg.Auction.SweepInterval)
	require.Equal(t, 2*time.Second, cfg.Auction.LockWait)
	require.Equal(t, 5*time.Second, cfg.Auction.AfterCommitTimeout)
	require.Equal(t, "memory", cfg.Store.Type)
	require.Equal(t, "memory", cfg.Cache.Type)
	require.False(t, cfg.Cache.UsesRedis())
	require.True(t, cfg.Seed)

	inc, err := cfg.Auction.MinIncrement()
	require.NoError(t, err)
	require.True(t, inc.Equal(decimal.NewFromInt(1)))
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("AUCTION_EXTENSION_WINDOW", "2m")
	t.Setenv("AUCTION_DEFAULT_MIN_INCREMENT", "0.50")
	t.Setenv("STORE_TYPE", "sqlite")
	t.Setenv("REDIS_EVENT_RELAY", "true")
	t.Setenv("REDIS_HOST", "cache.internal")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 2*time.Minute, cfg.Auction.ExtensionWindow)
	require.Equal(t, "sqlite", cfg.Store.Type)
	require.True(t, cfg.Cache.UsesRedis())
	require.Equal(t, "cache.internal:6379", cfg.Cache.RedisAddress())

	inc, err := cfg.Auction.MinIncrement()
	require.NoError(t, err)
	require.True(t, inc.Equal(decimal.RequireFromString("0.5")))
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "unknown_store", key: "STORE_TYPE", value: "postgres"},
		{name: "unknown_cache", key: "CACHE_TYPE", value: "memcached"},
		{name: "zero_increment", key: "AUCTION_DEFAULT_MIN_INCREMENT", value: "0"},
		{name: "garbage_increment", key: "AUCTION_DEFAULT_MIN_INCREMENT", value: "one"},
		{name: "zero_lock_wait", key: "AUCTION_LOCK_WAIT", value: "0s"},
		{name: "zero_after_commit_timeout", key: "AUCTION_AFTER_COMMIT_TIMEOUT", value: "0s"},
		{name: "bad_duration", key: "AUCTION_SWEEP_INTERVAL", value: "soon"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			_, err := Load()
			require.Error(t, err)
		})
	}
}
