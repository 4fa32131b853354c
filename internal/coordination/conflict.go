package coordination

import (
	"math"

	"github.com/aristath/quorum/internal/domain"
)

// ConflictResolver decides the outcome when the aggregation strategy cannot
// (tie, no strict majority, zero net score). One implementation per policy,
// selected at coordinator construction time.
type ConflictResolver interface {
	Policy() domain.ConflictPolicy
	Resolve(opinions []domain.Opinion, weights map[string]float64) aggregateResult
}

// NewConflictResolver returns the resolver for the given policy.
// Unknown policies fall back to hold.
func NewConflictResolver(policy domain.ConflictPolicy) ConflictResolver {
	switch policy {
	case domain.ConflictWeightedAverage:
		return &weightedAverageResolver{}
	case domain.ConflictHighestWeight:
		return &highestWeightResolver{}
	default:
		return &fallbackHoldResolver{}
	}
}

// weightedAverageResolver takes the trust-weighted mean of the disagreeing
// opinions' signed scores.
type weightedAverageResolver struct{}

func (r *weightedAverageResolver) Policy() domain.ConflictPolicy {
	return domain.ConflictWeightedAverage
}

func (r *weightedAverageResolver) Resolve(opinions []domain.Opinion, weights map[string]float64) aggregateResult {
	n := len(opinions)
	var score, totalWeight float64
	for _, op := range opinions {
		wt := agentWeight(weights, op.AgentID, n)
		score += float64(op.Action) * op.Confidence * wt
		totalWeight += wt
	}
	if totalWeight > 0 {
		score /= totalWeight
	}

	action := domain.ActionHold
	if score > 0.1 {
		action = domain.ActionBuy
	} else if score < -0.1 {
		action = domain.ActionSell
	}

	return aggregateResult{
		Action:       action,
		Confidence:   math.Min(1, math.Abs(score)),
		Disagreement: true,
		Decided:      true,
	}
}

// highestWeightResolver defers to the opinion of the most trusted agent
type highestWeightResolver struct{}

func (r *highestWeightResolver) Policy() domain.ConflictPolicy {
	return domain.ConflictHighestWeight
}

func (r *highestWeightResolver) Resolve(opinions []domain.Opinion, weights map[string]float64) aggregateResult {
	n := len(opinions)
	best := opinions[0]
	bestWeight := agentWeight(weights, best.AgentID, n)
	for _, op := range opinions[1:] {
		if wt := agentWeight(weights, op.AgentID, n); wt > bestWeight {
			best = op
			bestWeight = wt
		}
	}
	return aggregateResult{
		Action:       best.Action,
		Confidence:   best.Confidence,
		Disagreement: true,
		Decided:      true,
	}
}

// fallbackHoldResolver gives up and holds
type fallbackHoldResolver struct{}

func (r *fallbackHoldResolver) Policy() domain.ConflictPolicy {
	return domain.ConflictFallbackHold
}

func (r *fallbackHoldResolver) Resolve(_ []domain.Opinion, _ map[string]float64) aggregateResult {
	return aggregateResult{
		Action:       domain.ActionHold,
		Confidence:   0,
		Disagreement: true,
		Decided:      true,
	}
}
