// Package domain provides core domain models and types shared across the
// coordination engine.
package domain

import "time"

// Action represents an agent's directional recommendation for an instrument
type Action int

const (
	ActionSell Action = -1
	ActionHold Action = 0
	ActionBuy  Action = 1
)

// String returns a human-readable action name
func (a Action) String() string {
	switch a {
	case ActionSell:
		return "sell"
	case ActionBuy:
		return "buy"
	default:
		return "hold"
	}
}

// AggregationMethod selects how the coordinator fuses opinions
type AggregationMethod string

const (
	AggregationSimple     AggregationMethod = "simple_voting"
	AggregationWeighted   AggregationMethod = "weighted_voting"
	AggregationConfidence AggregationMethod = "confidence_weighted"
	AggregationHybrid     AggregationMethod = "hybrid"
)

// ConflictPolicy selects how disagreeing opinions are resolved
type ConflictPolicy string

const (
	ConflictWeightedAverage ConflictPolicy = "weighted_average"
	ConflictHighestWeight   ConflictPolicy = "highest_weight"
	ConflictFallbackHold    ConflictPolicy = "fallback_hold"
)

// Opinion is one agent's trading recommendation for one instrument at one
// point in time. Immutable once produced.
type Opinion struct {
	AgentID        string                 `json:"agent_id"`
	Symbol         string                 `json:"symbol"`
	Action         Action                 `json:"action"`
	Confidence     float64                `json:"confidence"`      // 0-1
	Rationale      string                 `json:"rationale"`       // Free-text explanation
	ExpectedReturn float64                `json:"expected_return"` // Signed fraction
	Risk           float64                `json:"risk"`            // 0-1
	PositionSize   float64                `json:"position_size"`   // Requested fraction of capital
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// WeightedOpinion pairs an opinion with the trust weight it carried during
// fusion, preserved on the FusedDecision for auditability.
type WeightedOpinion struct {
	Opinion Opinion `json:"opinion"`
	Weight  float64 `json:"weight"`
}

// FusedDecision is the coordinator's single output per instrument after
// combining all current opinions. Created fresh every cycle, never mutated.
type FusedDecision struct {
	ID               string                 `json:"id"`
	Symbol           string                 `json:"symbol"`
	Action           Action                 `json:"action"`
	Confidence       float64                `json:"confidence"`
	PositionSize     float64                `json:"position_size"`
	Method           AggregationMethod      `json:"method"`
	Participants     []string               `json:"participants"`
	Opinions         []WeightedOpinion      `json:"opinions"`
	ConflictDetected bool                   `json:"conflict_detected"`
	ConflictPolicy   ConflictPolicy         `json:"conflict_policy,omitempty"` // Set only when a conflict was resolved
	CoordConfidence  float64                `json:"coordination_confidence"`
	Rationale        string                 `json:"rationale"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
}

// InstrumentEstimate carries externally supplied return/risk estimates for
// one instrument, consumed by the allocator.
type InstrumentEstimate struct {
	Symbol         string    `json:"symbol"`
	ExpectedReturn float64   `json:"expected_return"`   // Annualized signed fraction
	Volatility     float64   `json:"volatility"`        // Annualized stddev of returns
	Returns        []float64 `json:"returns,omitempty"` // Recent return series for covariance
}

// RiskMetrics summarizes portfolio-level risk for one allocation
type RiskMetrics struct {
	Volatility           float64 `json:"volatility"`
	Concentration        float64 `json:"concentration"` // Herfindahl index over weights
	DiversificationRatio float64 `json:"diversification_ratio"`
}

// TargetAllocation is the portfolio-wide map of instrument to desired capital
// fraction, rebuilt in full on every allocation cycle.
type TargetAllocation struct {
	Weights   map[string]float64 `json:"weights"`
	Cash      float64            `json:"cash"` // Fraction held back, 1 - sum(weights)
	Risk      RiskMetrics        `json:"risk"`
	Method    string             `json:"method"`
	CreatedAt time.Time          `json:"created_at"`
}

// PerformanceRecord is one realized-return observation for one agent
type PerformanceRecord struct {
	AgentID    string    `json:"agent_id"`
	Return     float64   `json:"return"`
	RecordedAt time.Time `json:"recorded_at"`
}
