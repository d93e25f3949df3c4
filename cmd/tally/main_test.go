package main

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/open-wander/tally/internal/cache"
	"github.com/open-wander/tally/internal/config"
)

func TestNewCacheStore(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("connects", func(t *testing.T) {
		mr := miniredis.RunT(t)
		store, closeStore := newCacheStore(ctx, &config.Config{RedisAddr: mr.Addr()}, zap.NewNop())
		defer closeStore()
		assert.IsType(t, &cache.RedisStore{}, store)
	})

	t.Run("unreachable redis falls back", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		core, logs := observer.New(zapcore.WarnLevel)
		store, closeStore := newCacheStore(ctx, &config.Config{RedisAddr: addr}, zap.New(core))
		defer closeStore()
		assert.Equal(t, cache.NopStore{}, store)
		assert.Equal(t, 1, logs.FilterMessage("redis unavailable, report caching disabled").Len())
	})

	t.Run("unset address", func(t *testing.T) {
		store, closeStore := newCacheStore(ctx, &config.Config{}, zap.NewNop())
		defer closeStore()
		assert.Equal(t, cache.NopStore{}, store)
	})
}
