package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 100, cfg.MailboxCapacity)
	assert.Equal(t, "hybrid", cfg.AggregationMethod)
	assert.Equal(t, "weighted_average", cfg.ConflictPolicy)
	assert.Equal(t, 2, cfg.MinAgents)
	assert.Equal(t, "ensemble", cfg.WeightMethod)
	assert.Equal(t, 0.05, cfg.MinWeight)
	assert.Equal(t, 0.60, cfg.MaxWeight)
	assert.Equal(t, "strategic", cfg.AllocationMethod)
	assert.Equal(t, 30*time.Second, cfg.CycleInterval)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("QUORUM_PORT", "9000")
	t.Setenv("QUORUM_AGGREGATION_METHOD", "weighted_voting")
	t.Setenv("QUORUM_MAX_POSITION", "0.35")
	t.Setenv("QUORUM_DEV_MODE", "true")
	t.Setenv("QUORUM_CYCLE_INTERVAL", "10s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "weighted_voting", cfg.AggregationMethod)
	assert.Equal(t, 0.35, cfg.MaxPosition)
	assert.True(t, cfg.DevMode)
	assert.Equal(t, 10*time.Second, cfg.CycleInterval)
}

func TestLoadMalformedValueFallsBack(t *testing.T) {
	t.Setenv("QUORUM_PORT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8090, cfg.Port)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Port = 0 }},
		{"zero mailbox capacity", func(c *Config) { c.MailboxCapacity = 0 }},
		{"zero min agents", func(c *Config) { c.MinAgents = 0 }},
		{"alpha above one", func(c *Config) { c.HybridAlpha = 1.5 }},
		{"inverted weight bounds", func(c *Config) { c.MinWeight = 0.7 }},
		{"max weight above one", func(c *Config) { c.MaxWeight = 1.2 }},
		{"negative min position", func(c *Config) { c.MinPosition = -0.1 }},
		{"cash buffer at one", func(c *Config) { c.CashBuffer = 1.0 }},
		{"unknown aggregation method", func(c *Config) { c.AggregationMethod = "plurality" }},
		{"unknown conflict policy", func(c *Config) { c.ConflictPolicy = "coin_flip" }},
		{"unknown weight method", func(c *Config) { c.WeightMethod = "elo" }},
		{"unknown allocation method", func(c *Config) { c.AllocationMethod = "kelly" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSubConfigs(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	busCfg := cfg.BusConfig()
	assert.Equal(t, cfg.MailboxCapacity, busCfg.MailboxCapacity)
	assert.Equal(t, cfg.BusWorkers, busCfg.Workers)

	coordCfg := cfg.CoordinatorConfig()
	assert.Equal(t, cfg.MinAgents, coordCfg.MinAgents)

	weightsCfg := cfg.WeightsConfig()
	assert.Equal(t, cfg.MinWeight, weightsCfg.MinWeight)
	assert.Equal(t, cfg.MaxWeight, weightsCfg.MaxWeight)

	allocCfg := cfg.AllocationConfig()
	assert.Equal(t, cfg.MaxPosition, allocCfg.Constraints.MaxPosition)
	assert.Equal(t, cfg.CashBuffer, allocCfg.Constraints.CashBuffer)
}
