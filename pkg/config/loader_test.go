package config_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/clinicbilling/pkg/config"
)

type breakerConfig struct {
	MaxFailures uint32        `env:"TEST_BREAKER_MAX_FAILURES" envDefault:"5"`
	OpenTimeout time.Duration `env:"TEST_BREAKER_OPEN_TIMEOUT" envDefault:"30s"`
}

type sweepConfig struct {
	Interval time.Duration `env:"TEST_LOADER_SWEEP_INTERVAL" envDefault:"1m"`
	Batch    int           `env:"TEST_LOADER_SWEEP_BATCH" envDefault:"100"`
}

type queueConfig struct {
	Name string `env:"TEST_LOADER_QUEUE" envDefault:"billing"`
}

type invalidConfig struct {
	Batch int `env:"TEST_LOADER_INVALID_BATCH"`
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		config.ResetCache()

		var cfg breakerConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, uint32(5), cfg.MaxFailures)
		assert.Equal(t, 30*time.Second, cfg.OpenTimeout)
	})

	t.Run("environment values", func(t *testing.T) {
		config.ResetCache()
		t.Setenv("TEST_LOADER_SWEEP_INTERVAL", "15s")
		t.Setenv("TEST_LOADER_SWEEP_BATCH", "25")

		var cfg sweepConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, 15*time.Second, cfg.Interval)
		assert.Equal(t, 25, cfg.Batch)
	})

	t.Run("cached per type", func(t *testing.T) {
		config.ResetCache()
		t.Setenv("TEST_LOADER_QUEUE", "first")

		var first queueConfig
		require.NoError(t, config.Load(&first))

		t.Setenv("TEST_LOADER_QUEUE", "second")
		var second queueConfig
		require.NoError(t, config.Load(&second))
		assert.Equal(t, "first", second.Name)

		var reloaded queueConfig
		require.NoError(t, config.ForceReloadConfig(&reloaded))
		assert.Equal(t, "second", reloaded.Name)
	})

	t.Run("parse error", func(t *testing.T) {
		config.ResetCache()
		t.Setenv("TEST_LOADER_INVALID_BATCH", "many")

		var cfg invalidConfig
		assert.ErrorIs(t, config.Load(&cfg), config.ErrParsingConfig)
		assert.Panics(t, func() { config.MustLoad(&cfg) })
	})

	t.Run("nil pointer", func(t *testing.T) {
		assert.ErrorIs(t, config.Load[sweepConfig](nil), config.ErrNilPointer)
	})

	t.Run("concurrent loads agree", func(t *testing.T) {
		config.ResetCache()

		var wg sync.WaitGroup
		results := make([]sweepConfig, 16)
		for i := range results {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, config.Load(&results[i]))
			}()
		}
		wg.Wait()

		for _, cfg := range results {
			assert.Equal(t, results[0], cfg)
		}
	})
}
