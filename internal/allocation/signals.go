// Package allocation turns fused per-instrument decisions into one coherent
// set of target portfolio weights honoring position-size and risk
// constraints.
package allocation

import (
	"github.com/aristath/quorum/internal/domain"
)

// Signal is the normalized per-instrument input to the allocation
// strategies, extracted from a FusedDecision.
type Signal struct {
	Symbol       string
	Direction    float64 // Signed action: -1, 0, +1
	Confidence   float64 // 0-1
	PositionSize float64 // Requested fraction of capital
	Strength     float64 // Direction x Confidence, in [-1, 1]
}

// ExtractSignals converts the current decision set into allocation signals.
// Instruments absent from the decision set produce no signal and therefore
// retain no target weight.
func ExtractSignals(decisions []domain.FusedDecision) []Signal {
	signals := make([]Signal, 0, len(decisions))
	for _, d := range decisions {
		signals = append(signals, Signal{
			Symbol:       d.Symbol,
			Direction:    float64(d.Action),
			Confidence:   d.Confidence,
			PositionSize: d.PositionSize,
			Strength:     float64(d.Action) * d.Confidence,
		})
	}
	return signals
}

// buyCandidates filters signals down to the instruments eligible for a long
// position. The allocator is long-only: sell and hold decisions release
// capital rather than opening shorts.
func buyCandidates(signals []Signal) []Signal {
	out := make([]Signal, 0, len(signals))
	for _, s := range signals {
		if s.Direction > 0 && s.Confidence > 0 {
			out = append(out, s)
		}
	}
	return out
}
