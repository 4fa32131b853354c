package allocation

import (
	"math"

	"github.com/rs/zerolog"
)

// Constraints holds the position-size limits applied to every allocation
type Constraints struct {
	MaxPosition float64 // Hard cap per instrument, fraction of capital
	MinPosition float64 // Positions below this are dropped entirely
	CashBuffer  float64 // Fraction of capital held back; target sum is 1 - CashBuffer
}

// DefaultConstraints returns the default allocation constraints
func DefaultConstraints() Constraints {
	return Constraints{
		MaxPosition: 0.20,
		MinPosition: 0.01,
		CashBuffer:  0,
	}
}

// Apply enforces the constraints: drop dust positions, cap oversized ones,
// and renormalize toward the investable total, iterating cap-then-renormalize
// to a fixed point. The result never exceeds MaxPosition per instrument and
// never sums above 1 - CashBuffer; it sums below that only when the cap makes
// full investment infeasible.
func (c Constraints) Apply(weights map[string]float64, log zerolog.Logger) map[string]float64 {
	target := 1 - c.CashBuffer
	if target <= 0 || len(weights) == 0 {
		return map[string]float64{}
	}

	out := make(map[string]float64, len(weights))
	for sym, w := range weights {
		if w > 0 {
			out[sym] = w
		}
	}

	for iter := 0; iter < 16; iter++ {
		// Drop positions too small to be worth holding
		dropped := 0
		for sym, w := range out {
			if w < c.MinPosition {
				delete(out, sym)
				dropped++
			}
		}
		if dropped > 0 {
			log.Debug().Int("dropped", dropped).Msg("Dropped sub-minimum positions")
		}
		if len(out) == 0 {
			return out
		}

		var sum, capped float64
		atCap := make(map[string]bool, len(out))
		for sym, w := range out {
			if w >= c.MaxPosition-1e-12 {
				out[sym] = c.MaxPosition
				atCap[sym] = true
				capped += c.MaxPosition
			}
			sum += out[sym]
		}

		if sum <= target+1e-12 {
			if sum >= target-1e-12 {
				return out // At the target: fixed point
			}
			// Under-invested: scale up the uncapped positions
			free := sum - capped
			if free <= 0 {
				return out // Everything capped; the cap wins over full investment
			}
			scale := (target - capped) / free
			changed := false
			for sym, w := range out {
				if atCap[sym] {
					continue
				}
				next := math.Min(w*scale, c.MaxPosition)
				if next != w {
					changed = true
				}
				out[sym] = next
			}
			if !changed {
				return out
			}
			continue
		}

		// Over-invested: scale everything down (capped included, the cap
		// still holds after shrinking)
		scale := target / sum
		for sym, w := range out {
			out[sym] = w * scale
		}
	}
	return out
}
