// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/aristath/quorum/internal/allocation"
	"github.com/aristath/quorum/internal/bus"
	"github.com/aristath/quorum/internal/coordination"
	"github.com/aristath/quorum/internal/domain"
	"github.com/aristath/quorum/internal/weights"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port     int
	LogLevel string
	DevMode  bool

	// Storage
	DataDir string

	// Message bus settings
	MailboxCapacity   int
	BusWorkers        int
	HeartbeatInterval time.Duration
	SweepInterval     time.Duration
	StatsInterval     time.Duration

	// Coordination settings
	AggregationMethod  string
	ConflictPolicy     string
	MinAgents          int
	HybridAlpha        float64
	ConsensusThreshold float64

	// Weight adjustment settings
	WeightMethod      string
	PerformanceWindow int
	MinWeight         float64
	MaxWeight         float64
	RebalanceInterval time.Duration
	Sensitivity       float64

	// Allocation settings
	AllocationMethod string
	MaxPosition      float64
	MinPosition      float64
	CashBuffer       float64

	// Engine settings
	CycleInterval time.Duration
}

// Load reads configuration from environment variables.
// A .env file in the working directory is loaded first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:     getEnvAsInt("QUORUM_PORT", 8090),
		LogLevel: getEnv("QUORUM_LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("QUORUM_DEV_MODE", false),

		DataDir: getEnv("QUORUM_DATA_DIR", "./data"),

		MailboxCapacity:   getEnvAsInt("QUORUM_MAILBOX_CAPACITY", 100),
		BusWorkers:        getEnvAsInt("QUORUM_BUS_WORKERS", 4),
		HeartbeatInterval: getEnvAsDuration("QUORUM_HEARTBEAT_INTERVAL", 30*time.Second),
		SweepInterval:     getEnvAsDuration("QUORUM_SWEEP_INTERVAL", 10*time.Second),
		StatsInterval:     getEnvAsDuration("QUORUM_STATS_INTERVAL", 60*time.Second),

		AggregationMethod:  getEnv("QUORUM_AGGREGATION_METHOD", string(domain.AggregationHybrid)),
		ConflictPolicy:     getEnv("QUORUM_CONFLICT_POLICY", string(domain.ConflictWeightedAverage)),
		MinAgents:          getEnvAsInt("QUORUM_MIN_AGENTS", 2),
		HybridAlpha:        getEnvAsFloat("QUORUM_HYBRID_ALPHA", 0.5),
		ConsensusThreshold: getEnvAsFloat("QUORUM_CONSENSUS_THRESHOLD", coordination.DefaultConsensusThreshold),

		WeightMethod:      getEnv("QUORUM_WEIGHT_METHOD", string(weights.MethodEnsemble)),
		PerformanceWindow: getEnvAsInt("QUORUM_PERFORMANCE_WINDOW", 50),
		MinWeight:         getEnvAsFloat("QUORUM_MIN_WEIGHT", 0.05),
		MaxWeight:         getEnvAsFloat("QUORUM_MAX_WEIGHT", 0.60),
		RebalanceInterval: getEnvAsDuration("QUORUM_REBALANCE_INTERVAL", 5*time.Minute),
		Sensitivity:       getEnvAsFloat("QUORUM_WEIGHT_SENSITIVITY", 10),

		AllocationMethod: getEnv("QUORUM_ALLOCATION_METHOD", string(allocation.MethodStrategic)),
		MaxPosition:      getEnvAsFloat("QUORUM_MAX_POSITION", 0.20),
		MinPosition:      getEnvAsFloat("QUORUM_MIN_POSITION", 0.01),
		CashBuffer:       getEnvAsFloat("QUORUM_CASH_BUFFER", 0.0),

		CycleInterval: getEnvAsDuration("QUORUM_CYCLE_INTERVAL", 30*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.MailboxCapacity < 1 {
		return fmt.Errorf("mailbox capacity must be positive, got %d", c.MailboxCapacity)
	}
	if c.BusWorkers < 1 {
		return fmt.Errorf("bus workers must be positive, got %d", c.BusWorkers)
	}
	if c.MinAgents < 1 {
		return fmt.Errorf("min agents must be positive, got %d", c.MinAgents)
	}
	if c.HybridAlpha < 0 || c.HybridAlpha > 1 {
		return fmt.Errorf("hybrid alpha must be in [0,1], got %.2f", c.HybridAlpha)
	}
	if c.ConsensusThreshold <= 0 || c.ConsensusThreshold >= 1 {
		return fmt.Errorf("consensus threshold must be in (0,1), got %.2f", c.ConsensusThreshold)
	}
	if c.PerformanceWindow < 1 {
		return fmt.Errorf("performance window must be positive, got %d", c.PerformanceWindow)
	}
	if c.MinWeight < 0 || c.MaxWeight <= 0 || c.MinWeight >= c.MaxWeight {
		return fmt.Errorf("weight bounds invalid: min=%.2f max=%.2f", c.MinWeight, c.MaxWeight)
	}
	if c.MaxWeight > 1 {
		return fmt.Errorf("max weight cannot exceed 1, got %.2f", c.MaxWeight)
	}
	if c.MinPosition < 0 || c.MaxPosition <= 0 || c.MinPosition > c.MaxPosition {
		return fmt.Errorf("position bounds invalid: min=%.2f max=%.2f", c.MinPosition, c.MaxPosition)
	}
	if c.CashBuffer < 0 || c.CashBuffer >= 1 {
		return fmt.Errorf("cash buffer must be in [0,1), got %.2f", c.CashBuffer)
	}
	if c.CycleInterval <= 0 {
		return fmt.Errorf("cycle interval must be positive, got %s", c.CycleInterval)
	}
	switch domain.AggregationMethod(c.AggregationMethod) {
	case domain.AggregationSimple, domain.AggregationWeighted, domain.AggregationConfidence, domain.AggregationHybrid:
	default:
		return fmt.Errorf("unknown aggregation method: %s", c.AggregationMethod)
	}
	switch domain.ConflictPolicy(c.ConflictPolicy) {
	case domain.ConflictWeightedAverage, domain.ConflictHighestWeight, domain.ConflictFallbackHold:
	default:
		return fmt.Errorf("unknown conflict policy: %s", c.ConflictPolicy)
	}
	switch weights.Method(c.WeightMethod) {
	case weights.MethodPerformance, weights.MethodRiskAdjusted, weights.MethodEnsemble:
	default:
		return fmt.Errorf("unknown weight method: %s", c.WeightMethod)
	}
	switch allocation.Method(c.AllocationMethod) {
	case allocation.MethodStrategic, allocation.MethodTactical, allocation.MethodRiskParity:
	default:
		return fmt.Errorf("unknown allocation method: %s", c.AllocationMethod)
	}
	return nil
}

// BusConfig builds the message bus configuration.
func (c *Config) BusConfig() bus.Config {
	return bus.Config{
		MailboxCapacity:   c.MailboxCapacity,
		Workers:           c.BusWorkers,
		HeartbeatInterval: c.HeartbeatInterval,
		SweepInterval:     c.SweepInterval,
		StatsInterval:     c.StatsInterval,
	}
}

// CoordinatorConfig builds the decision coordinator configuration.
func (c *Config) CoordinatorConfig() coordination.Config {
	return coordination.Config{
		Method:             domain.AggregationMethod(c.AggregationMethod),
		ConflictPolicy:     domain.ConflictPolicy(c.ConflictPolicy),
		MinAgents:          c.MinAgents,
		HybridAlpha:        c.HybridAlpha,
		ConsensusThreshold: c.ConsensusThreshold,
		PerformanceWindow:  c.PerformanceWindow,
	}
}

// WeightsConfig builds the weight adjuster configuration.
func (c *Config) WeightsConfig() weights.Config {
	return weights.Config{
		Method:            weights.Method(c.WeightMethod),
		PerformanceWindow: c.PerformanceWindow,
		MinWeight:         c.MinWeight,
		MaxWeight:         c.MaxWeight,
		RebalanceInterval: c.RebalanceInterval,
		Sensitivity:       c.Sensitivity,
	}
}

// AllocationConfig builds the portfolio allocator configuration.
func (c *Config) AllocationConfig() allocation.Config {
	return allocation.Config{
		Method: allocation.Method(c.AllocationMethod),
		Constraints: allocation.Constraints{
			MaxPosition: c.MaxPosition,
			MinPosition: c.MinPosition,
			CashBuffer:  c.CashBuffer,
		},
	}
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer.
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsFloat retrieves an environment variable as a float.
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean.
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsDuration retrieves an environment variable as a duration.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
