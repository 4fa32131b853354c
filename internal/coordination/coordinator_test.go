package coordination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/quorum/internal/domain"
)

// staticWeights is a fixed WeightSource for tests
type staticWeights map[string]float64

func (w staticWeights) CurrentWeights() map[string]float64 { return w }

func opinion(agent string, action domain.Action, confidence float64) domain.Opinion {
	return domain.Opinion{
		AgentID:      agent,
		Symbol:       "AAPL",
		Action:       action,
		Confidence:   confidence,
		PositionSize: 0.1,
		CreatedAt:    time.Now(),
	}
}

func TestMinimumAgentGuard(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinAgents = 3
	c := New(cfg, nil)

	decision := c.Coordinate([]domain.Opinion{
		opinion("a1", domain.ActionBuy, 0.9),
		opinion("a2", domain.ActionBuy, 0.9),
	}, "AAPL")

	require.NotNil(t, decision)
	assert.Equal(t, domain.ActionHold, decision.Action)
	assert.Zero(t, decision.Confidence)
	assert.Zero(t, decision.PositionSize)
	assert.Contains(t, decision.Rationale, "3 required")
}

func TestWeightedVotingScenario(t *testing.T) {
	// Three agents, equal weights: buy@0.8, buy@0.7, sell@0.6.
	// Two of three weighted votes say buy, so the action is buy, the
	// disagreement is flagged, and confidence comes from the winning side's
	// aggregate weight.
	cfg := DefaultConfig()
	cfg.Method = domain.AggregationWeighted
	cfg.MinAgents = 2
	weights := staticWeights{"a1": 1.0 / 3, "a2": 1.0 / 3, "a3": 1.0 / 3}
	c := New(cfg, weights)

	decision := c.Coordinate([]domain.Opinion{
		opinion("a1", domain.ActionBuy, 0.8),
		opinion("a2", domain.ActionBuy, 0.7),
		opinion("a3", domain.ActionSell, 0.6),
	}, "AAPL")

	assert.Equal(t, domain.ActionBuy, decision.Action)
	assert.True(t, decision.ConflictDetected)
	assert.InDelta(t, 2.0/3, decision.Confidence, 1e-6)
	assert.ElementsMatch(t, []string{"a1", "a2", "a3"}, decision.Participants)
}

func TestCoordinateIdempotent(t *testing.T) {
	for _, method := range []domain.AggregationMethod{
		domain.AggregationSimple,
		domain.AggregationWeighted,
		domain.AggregationConfidence,
		domain.AggregationHybrid,
	} {
		t.Run(string(method), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Method = method
			weights := staticWeights{"a1": 0.5, "a2": 0.3, "a3": 0.2}
			c := New(cfg, weights)

			opinions := []domain.Opinion{
				opinion("a1", domain.ActionBuy, 0.8),
				opinion("a2", domain.ActionSell, 0.6),
				opinion("a3", domain.ActionBuy, 0.4),
			}
			first := c.Coordinate(opinions, "AAPL")
			second := c.Coordinate(opinions, "AAPL")

			assert.Equal(t, first.Action, second.Action)
			assert.Equal(t, first.Confidence, second.Confidence)
			assert.Equal(t, first.ConflictDetected, second.ConflictDetected)
		})
	}
}

func TestUnanimousOpinionsNoConflict(t *testing.T) {
	for _, method := range []domain.AggregationMethod{
		domain.AggregationSimple,
		domain.AggregationWeighted,
		domain.AggregationConfidence,
		domain.AggregationHybrid,
	} {
		t.Run(string(method), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Method = method
			c := New(cfg, nil)

			decision := c.Coordinate([]domain.Opinion{
				opinion("a1", domain.ActionBuy, 0.9),
				opinion("a2", domain.ActionBuy, 0.8),
				opinion("a3", domain.ActionBuy, 0.7),
			}, "AAPL")

			assert.Equal(t, domain.ActionBuy, decision.Action)
			assert.False(t, decision.ConflictDetected)
			assert.Empty(t, decision.ConflictPolicy)
		})
	}
}

func TestSimpleVotingMajority(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Method = domain.AggregationSimple
	c := New(cfg, nil)

	decision := c.Coordinate([]domain.Opinion{
		opinion("a1", domain.ActionSell, 0.5),
		opinion("a2", domain.ActionSell, 0.6),
		opinion("a3", domain.ActionBuy, 0.9),
	}, "AAPL")

	assert.Equal(t, domain.ActionSell, decision.Action)
	assert.True(t, decision.ConflictDetected)
	assert.InDelta(t, 2.0/3, decision.Confidence, 1e-6)
}

func TestSimpleVotingTieEngagesResolver(t *testing.T) {
	tests := []struct {
		name     string
		policy   domain.ConflictPolicy
		weights  staticWeights
		expected domain.Action
	}{
		{
			name:     "fallback hold",
			policy:   domain.ConflictFallbackHold,
			expected: domain.ActionHold,
		},
		{
			name:     "highest weight defers to most trusted agent",
			policy:   domain.ConflictHighestWeight,
			weights:  staticWeights{"a1": 0.7, "a2": 0.3},
			expected: domain.ActionBuy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Method = domain.AggregationSimple
			cfg.ConflictPolicy = tt.policy
			var src WeightSource
			if tt.weights != nil {
				src = tt.weights
			}
			c := New(cfg, src)

			decision := c.Coordinate([]domain.Opinion{
				opinion("a1", domain.ActionBuy, 0.8),
				opinion("a2", domain.ActionSell, 0.8),
			}, "AAPL")

			assert.Equal(t, tt.expected, decision.Action)
			assert.True(t, decision.ConflictDetected)
			assert.Equal(t, tt.policy, decision.ConflictPolicy)
		})
	}
}

func TestConfidenceWeightedAggregation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Method = domain.AggregationConfidence
	c := New(cfg, nil)

	// Scores: (1*0.9 + 1*0.6 - 1*0.3) / 3 = 0.4
	decision := c.Coordinate([]domain.Opinion{
		opinion("a1", domain.ActionBuy, 0.9),
		opinion("a2", domain.ActionBuy, 0.6),
		opinion("a3", domain.ActionSell, 0.3),
	}, "AAPL")

	assert.Equal(t, domain.ActionBuy, decision.Action)
	assert.InDelta(t, 0.4, decision.Confidence, 1e-9)
}

func TestConfidenceWeightedZeroScoreResolved(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Method = domain.AggregationConfidence
	cfg.ConflictPolicy = domain.ConflictFallbackHold
	c := New(cfg, nil)

	decision := c.Coordinate([]domain.Opinion{
		opinion("a1", domain.ActionBuy, 0.7),
		opinion("a2", domain.ActionSell, 0.7),
	}, "AAPL")

	assert.Equal(t, domain.ActionHold, decision.Action)
	assert.True(t, decision.ConflictDetected)
	assert.Equal(t, domain.ConflictFallbackHold, decision.ConflictPolicy)
}

func TestWeightedAverageResolver(t *testing.T) {
	r := NewConflictResolver(domain.ConflictWeightedAverage)
	weights := map[string]float64{"a1": 0.8, "a2": 0.2}

	result := r.Resolve([]domain.Opinion{
		opinion("a1", domain.ActionBuy, 0.9),
		opinion("a2", domain.ActionSell, 0.5),
	}, weights)

	// (0.8*0.9 - 0.2*0.5) / 1.0 = 0.62, well above the buy threshold
	assert.Equal(t, domain.ActionBuy, result.Action)
	assert.InDelta(t, 0.62, result.Confidence, 1e-9)
}

func TestFusedPositionSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Method = domain.AggregationWeighted
	weights := staticWeights{"a1": 0.5, "a2": 0.5}
	c := New(cfg, weights)

	buyer1 := opinion("a1", domain.ActionBuy, 0.9)
	buyer1.PositionSize = 0.10
	buyer2 := opinion("a2", domain.ActionBuy, 0.8)
	buyer2.PositionSize = 0.20

	decision := c.Coordinate([]domain.Opinion{buyer1, buyer2}, "AAPL")
	assert.Equal(t, domain.ActionBuy, decision.Action)
	assert.InDelta(t, 0.15, decision.PositionSize, 1e-9)
}

func TestPerformanceWindowBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PerformanceWindow = 3
	c := New(cfg, nil)

	for i := 0; i < 10; i++ {
		c.UpdateAgentPerformance("a1", float64(i))
	}

	window := c.AgentPerformance("a1")
	assert.Equal(t, []float64{7, 8, 9}, window)
}

func TestCoordinatorStats(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Method = domain.AggregationWeighted
	cfg.MinAgents = 2
	c := New(cfg, staticWeights{"a1": 0.5, "a2": 0.5})

	// Unanimous: no conflict
	c.Coordinate([]domain.Opinion{
		opinion("a1", domain.ActionBuy, 0.9),
		opinion("a2", domain.ActionBuy, 0.9),
	}, "AAPL")
	// Split: conflict
	c.Coordinate([]domain.Opinion{
		opinion("a1", domain.ActionBuy, 0.9),
		opinion("a2", domain.ActionSell, 0.9),
	}, "AAPL")

	stats := c.Stats()
	assert.EqualValues(t, 2, stats.Decisions)
	assert.EqualValues(t, 1, stats.Conflicts)
	assert.InDelta(t, 0.5, stats.ConflictRate, 1e-9)
	assert.Equal(t, string(domain.AggregationWeighted), stats.Method)
}
