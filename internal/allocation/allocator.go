package allocation

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/quorum/internal/domain"
)

// Config holds allocator configuration
type Config struct {
	Method      Method
	Constraints Constraints
}

// DefaultConfig returns the default allocator configuration
func DefaultConfig() Config {
	return Config{
		Method:      MethodStrategic,
		Constraints: DefaultConstraints(),
	}
}

// Allocator turns the current set of fused decisions into target portfolio
// weights. Stateless per call; every allocation is rebuilt in full.
type Allocator struct {
	strategy    Strategy
	constraints Constraints
	log         zerolog.Logger
}

// New creates an allocator with the configured strategy and constraints
func New(cfg Config) *Allocator {
	if cfg.Constraints.MaxPosition <= 0 {
		cfg.Constraints = DefaultConstraints()
	}
	return &Allocator{
		strategy:    NewStrategy(cfg.Method),
		constraints: cfg.Constraints,
		log:         zerolog.Nop(),
	}
}

// SetLogger sets the logger for the allocator
func (a *Allocator) SetLogger(log zerolog.Logger) {
	a.log = log.With().Str("component", "allocator").Logger()
}

// Allocate runs the full pipeline: extract signals, produce the
// unconstrained strategy allocation, apply position-size constraints, and
// compute the resulting portfolio risk metrics.
func (a *Allocator) Allocate(decisions []domain.FusedDecision, estimates map[string]domain.InstrumentEstimate) *domain.TargetAllocation {
	signals := ExtractSignals(decisions)
	raw := a.strategy.Weights(signals, estimates)
	weights := a.constraints.Apply(raw, a.log)

	var invested float64
	for _, w := range weights {
		invested += w
	}

	alloc := &domain.TargetAllocation{
		Weights:   weights,
		Cash:      1 - invested,
		Risk:      ComputeRiskMetrics(weights, estimates),
		Method:    string(a.strategy.Name()),
		CreatedAt: time.Now(),
	}

	a.log.Debug().
		Int("decisions", len(decisions)).
		Int("positions", len(weights)).
		Float64("invested", invested).
		Float64("volatility", alloc.Risk.Volatility).
		Msg("Target allocation built")

	return alloc
}
