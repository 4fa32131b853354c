// Package coordination fuses per-instrument agent opinions into a single
// actionable decision using a selectable aggregation strategy.
package coordination

import (
	"math"

	"github.com/aristath/quorum/internal/domain"
)

// tally accumulates vote mass per action side
type tally struct {
	buy  float64
	sell float64
	hold float64
}

func (t tally) total() float64 { return t.buy + t.sell + t.hold }

// winner returns the action with the largest mass and its share of the total.
// unique is false when the top two sides are exactly tied.
func (t tally) winner() (action domain.Action, share float64, unique bool) {
	total := t.total()
	if total <= 0 {
		return domain.ActionHold, 0, false
	}
	switch {
	case t.buy > t.sell && t.buy > t.hold:
		return domain.ActionBuy, t.buy / total, true
	case t.sell > t.buy && t.sell > t.hold:
		return domain.ActionSell, t.sell / total, true
	case t.hold > t.buy && t.hold > t.sell:
		return domain.ActionHold, t.hold / total, true
	}
	return domain.ActionHold, math.Max(t.buy, math.Max(t.sell, t.hold)) / total, false
}

// aggregateResult is the raw outcome of one aggregation strategy before
// conflict handling.
type aggregateResult struct {
	Action       domain.Action
	Confidence   float64
	WinningShare float64 // Fraction of total vote mass on the winning side
	Disagreement bool    // Opinions disagree in action sign
	Decided      bool    // Strategy produced an outcome on its own (no tie / zero score)
}

// Aggregator is one member of the closed set of aggregation strategies,
// selected at coordinator construction time.
type Aggregator interface {
	Method() domain.AggregationMethod
	Aggregate(opinions []domain.Opinion, weights map[string]float64) aggregateResult
}

// NewAggregator returns the strategy implementation for the given method.
// Unknown methods fall back to hybrid.
func NewAggregator(method domain.AggregationMethod, hybridAlpha float64) Aggregator {
	switch method {
	case domain.AggregationSimple:
		return &simpleVoting{}
	case domain.AggregationWeighted:
		return &weightedVoting{}
	case domain.AggregationConfidence:
		return &confidenceWeighted{}
	default:
		return &hybrid{alpha: hybridAlpha}
	}
}

// hasDisagreement reports whether any two opinions differ in action
func hasDisagreement(opinions []domain.Opinion) bool {
	for i := 1; i < len(opinions); i++ {
		if opinions[i].Action != opinions[0].Action {
			return true
		}
	}
	return false
}

// agentWeight looks up an agent's trust weight, substituting an equal share
// when the agent has no entry yet.
func agentWeight(weights map[string]float64, agentID string, n int) float64 {
	if w, ok := weights[agentID]; ok {
		return w
	}
	if n <= 0 {
		return 0
	}
	return 1.0 / float64(n)
}

// simpleVoting tallies one vote per opinion; a strict majority wins
type simpleVoting struct{}

func (s *simpleVoting) Method() domain.AggregationMethod { return domain.AggregationSimple }

func (s *simpleVoting) Aggregate(opinions []domain.Opinion, _ map[string]float64) aggregateResult {
	var t tally
	for _, op := range opinions {
		switch op.Action {
		case domain.ActionBuy:
			t.buy++
		case domain.ActionSell:
			t.sell++
		default:
			t.hold++
		}
	}
	action, share, unique := t.winner()
	strictMajority := unique && share > 0.5
	return aggregateResult{
		Action:       action,
		Confidence:   share,
		WinningShare: share,
		Disagreement: hasDisagreement(opinions),
		Decided:      strictMajority,
	}
}

// weightedVoting scales each vote by the agent's trust weight
type weightedVoting struct{}

func (w *weightedVoting) Method() domain.AggregationMethod { return domain.AggregationWeighted }

func (w *weightedVoting) Aggregate(opinions []domain.Opinion, weights map[string]float64) aggregateResult {
	var t tally
	n := len(opinions)
	for _, op := range opinions {
		wt := agentWeight(weights, op.AgentID, n)
		switch op.Action {
		case domain.ActionBuy:
			t.buy += wt
		case domain.ActionSell:
			t.sell += wt
		default:
			t.hold += wt
		}
	}
	action, share, unique := t.winner()
	return aggregateResult{
		Action:       action,
		Confidence:   share,
		WinningShare: share,
		Disagreement: hasDisagreement(opinions),
		Decided:      unique && share > 0.5,
	}
}

// confidenceWeighted sums action x confidence; the sign of the mean score is
// the action and its magnitude (clamped to [0,1]) the confidence.
type confidenceWeighted struct{}

func (c *confidenceWeighted) Method() domain.AggregationMethod { return domain.AggregationConfidence }

func (c *confidenceWeighted) Aggregate(opinions []domain.Opinion, _ map[string]float64) aggregateResult {
	return confidenceScore(opinions, nil)
}

// confidenceScore implements confidence weighting, optionally scaling each
// contribution by trust weight (used by the hybrid strategy).
func confidenceScore(opinions []domain.Opinion, weights map[string]float64) aggregateResult {
	n := len(opinions)
	var score, mass, winMass float64
	for _, op := range opinions {
		wt := 1.0
		if weights != nil {
			wt = agentWeight(weights, op.AgentID, n)
		}
		score += float64(op.Action) * op.Confidence * wt
		mass += op.Confidence * wt
	}
	if n > 0 {
		score /= float64(n)
	}

	action := domain.ActionHold
	if score > 0 {
		action = domain.ActionBuy
	} else if score < 0 {
		action = domain.ActionSell
	}

	// Share of confidence mass on the winning side, used for conflict checks
	for _, op := range opinions {
		if op.Action == action {
			wt := 1.0
			if weights != nil {
				wt = agentWeight(weights, op.AgentID, n)
			}
			winMass += op.Confidence * wt
		}
	}
	share := 0.0
	if mass > 0 {
		share = winMass / mass
	}

	return aggregateResult{
		Action:       action,
		Confidence:   math.Min(1, math.Abs(score)),
		WinningShare: share,
		Disagreement: hasDisagreement(opinions),
		Decided:      action != domain.ActionHold || !hasDisagreement(opinions),
	}
}

// hybrid blends weighted voting and confidence weighting linearly.
// alpha is the weight of the voting component.
type hybrid struct {
	alpha float64
}

func (h *hybrid) Method() domain.AggregationMethod { return domain.AggregationHybrid }

func (h *hybrid) Aggregate(opinions []domain.Opinion, weights map[string]float64) aggregateResult {
	alpha := h.alpha
	if alpha <= 0 || alpha >= 1 {
		alpha = 0.5
	}

	voting := (&weightedVoting{}).Aggregate(opinions, weights)
	conf := confidenceScore(opinions, weights)

	// Signed scores in [-1, 1] for each component
	votingScore := float64(voting.Action) * voting.Confidence
	confScore := float64(conf.Action) * conf.Confidence
	blended := alpha*votingScore + (1-alpha)*confScore

	action := domain.ActionHold
	if blended > 0 {
		action = domain.ActionBuy
	} else if blended < 0 {
		action = domain.ActionSell
	}

	return aggregateResult{
		Action:       action,
		Confidence:   math.Min(1, math.Abs(blended)),
		WinningShare: alpha*voting.WinningShare + (1-alpha)*conf.WinningShare,
		Disagreement: hasDisagreement(opinions),
		Decided:      action != domain.ActionHold || !hasDisagreement(opinions),
	}
}
