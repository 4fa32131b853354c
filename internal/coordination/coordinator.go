package coordination

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/quorum/internal/domain"
)

// Default consensus threshold: a disagreeing opinion set is conflict-free
// only when the winning side holds strictly more than this share of the vote
// mass.
const DefaultConsensusThreshold = 2.0 / 3.0

// consensusEpsilon absorbs float drift when weighted shares land exactly on
// the threshold (e.g. two of three equal weights).
const consensusEpsilon = 1e-9

// WeightSource supplies the current trust-weight vector, normally the
// dynamic weight adjuster.
type WeightSource interface {
	CurrentWeights() map[string]float64
}

// Config holds coordinator configuration
type Config struct {
	Method             domain.AggregationMethod
	ConflictPolicy     domain.ConflictPolicy
	MinAgents          int     // Below this, Coordinate returns an explicit hold
	HybridAlpha        float64 // Voting share of the hybrid blend
	ConsensusThreshold float64 // Winning share needed to clear a disagreement
	PerformanceWindow  int     // Rolling realized-return window per agent
}

// DefaultConfig returns the default coordinator configuration
func DefaultConfig() Config {
	return Config{
		Method:             domain.AggregationHybrid,
		ConflictPolicy:     domain.ConflictWeightedAverage,
		MinAgents:          2,
		HybridAlpha:        0.5,
		ConsensusThreshold: DefaultConsensusThreshold,
		PerformanceWindow:  50,
	}
}

// Coordinator fuses the opinions submitted for one instrument into exactly
// one FusedDecision. Stateless per call apart from aggregate statistics and
// the per-agent contribution history, all guarded by one coarse lock.
type Coordinator struct {
	cfg        Config
	aggregator Aggregator
	resolver   ConflictResolver
	weights    WeightSource

	mu            sync.Mutex
	performance   map[string][]float64
	decisionCount int64
	conflictCount int64

	log zerolog.Logger
}

// New creates a coordinator. weights may be nil, in which case all agents
// are weighted equally.
func New(cfg Config, weights WeightSource) *Coordinator {
	if cfg.MinAgents < 1 {
		cfg.MinAgents = 1
	}
	if cfg.ConsensusThreshold <= 0 || cfg.ConsensusThreshold >= 1 {
		cfg.ConsensusThreshold = DefaultConsensusThreshold
	}
	if cfg.PerformanceWindow <= 0 {
		cfg.PerformanceWindow = DefaultConfig().PerformanceWindow
	}
	return &Coordinator{
		cfg:         cfg,
		aggregator:  NewAggregator(cfg.Method, cfg.HybridAlpha),
		resolver:    NewConflictResolver(cfg.ConflictPolicy),
		weights:     weights,
		performance: make(map[string][]float64),
		log:         zerolog.Nop(),
	}
}

// SetLogger sets the logger for the coordinator
func (c *Coordinator) SetLogger(log zerolog.Logger) {
	c.log = log.With().Str("component", "coordinator").Logger()
}

// Coordinate fuses the given opinions for one symbol. With fewer opinions
// than the configured minimum it returns an explicit hold decision instead of
// running any strategy. Calling twice with the same opinions and weights
// yields the same action and confidence.
func (c *Coordinator) Coordinate(opinions []domain.Opinion, symbol string) *domain.FusedDecision {
	weights := c.currentWeights()

	if len(opinions) < c.cfg.MinAgents {
		return c.insufficientInput(opinions, symbol, weights)
	}

	result := c.aggregator.Aggregate(opinions, weights)

	conflict := result.Disagreement && result.WinningShare <= c.cfg.ConsensusThreshold+consensusEpsilon
	var resolvedBy domain.ConflictPolicy
	if !result.Decided {
		result = c.resolver.Resolve(opinions, weights)
		resolvedBy = c.resolver.Policy()
		conflict = true
	}

	decision := c.buildDecision(opinions, symbol, weights, result, conflict, resolvedBy)

	c.mu.Lock()
	c.decisionCount++
	if conflict {
		c.conflictCount++
	}
	c.mu.Unlock()

	c.log.Debug().
		Str("symbol", symbol).
		Str("action", decision.Action.String()).
		Float64("confidence", decision.Confidence).
		Bool("conflict", conflict).
		Int("participants", len(opinions)).
		Msg("Decision coordinated")

	return decision
}

// currentWeights snapshots the trust-weight vector
func (c *Coordinator) currentWeights() map[string]float64 {
	if c.weights == nil {
		return nil
	}
	return c.weights.CurrentWeights()
}

// insufficientInput builds the explicit "hold, insufficient input" decision
func (c *Coordinator) insufficientInput(opinions []domain.Opinion, symbol string, weights map[string]float64) *domain.FusedDecision {
	c.mu.Lock()
	c.decisionCount++
	c.mu.Unlock()

	c.log.Debug().
		Str("symbol", symbol).
		Int("opinions", len(opinions)).
		Int("min_agents", c.cfg.MinAgents).
		Msg("Insufficient opinions, holding")

	return &domain.FusedDecision{
		ID:           uuid.New().String(),
		Symbol:       symbol,
		Action:       domain.ActionHold,
		Confidence:   0,
		PositionSize: 0,
		Method:       c.aggregator.Method(),
		Participants: participantIDs(opinions),
		Opinions:     weightedOpinions(opinions, weights),
		Rationale: fmt.Sprintf("hold: %d opinions available, %d required",
			len(opinions), c.cfg.MinAgents),
		CreatedAt: time.Now(),
	}
}

// buildDecision assembles the FusedDecision from the aggregation outcome
func (c *Coordinator) buildDecision(
	opinions []domain.Opinion,
	symbol string,
	weights map[string]float64,
	result aggregateResult,
	conflict bool,
	resolvedBy domain.ConflictPolicy,
) *domain.FusedDecision {
	positionSize := c.fusePositionSize(opinions, weights, result.Action)

	rationale := fmt.Sprintf("%s via %s (winning share %.2f)",
		result.Action.String(), c.aggregator.Method(), result.WinningShare)
	if resolvedBy != "" {
		rationale = fmt.Sprintf("%s, conflict resolved by %s", rationale, resolvedBy)
	}

	return &domain.FusedDecision{
		ID:               uuid.New().String(),
		Symbol:           symbol,
		Action:           result.Action,
		Confidence:       result.Confidence,
		PositionSize:     positionSize,
		Method:           c.aggregator.Method(),
		Participants:     participantIDs(opinions),
		Opinions:         weightedOpinions(opinions, weights),
		ConflictDetected: conflict,
		ConflictPolicy:   resolvedBy,
		CoordConfidence:  result.WinningShare,
		Rationale:        rationale,
		CreatedAt:        time.Now(),
	}
}

// fusePositionSize averages the winning side's requested position sizes,
// scaled by trust weight. Hold decisions carry no position.
func (c *Coordinator) fusePositionSize(opinions []domain.Opinion, weights map[string]float64, action domain.Action) float64 {
	if action == domain.ActionHold {
		return 0
	}
	n := len(opinions)
	var size, mass float64
	for _, op := range opinions {
		if op.Action != action {
			continue
		}
		wt := agentWeight(weights, op.AgentID, n)
		size += op.PositionSize * wt
		mass += wt
	}
	if mass == 0 {
		return 0
	}
	return size / mass
}

// UpdateAgentPerformance appends a realized return to the agent's rolling
// contribution window, trimming the oldest entry beyond the window size.
func (c *Coordinator) UpdateAgentPerformance(agentID string, realizedReturn float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	window := append(c.performance[agentID], realizedReturn)
	if len(window) > c.cfg.PerformanceWindow {
		window = window[len(window)-c.cfg.PerformanceWindow:]
	}
	c.performance[agentID] = window
}

// AgentPerformance returns a copy of one agent's contribution window
func (c *Coordinator) AgentPerformance(agentID string) []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	window := c.performance[agentID]
	out := make([]float64, len(window))
	copy(out, window)
	return out
}

// Stats is a read-only snapshot of coordinator activity
type Stats struct {
	Decisions    int64              `json:"decisions"`
	Conflicts    int64              `json:"conflicts"`
	ConflictRate float64            `json:"conflict_rate"`
	Method       string             `json:"method"`
	Weights      map[string]float64 `json:"weights"`
}

// Stats returns aggregate statistics including the current weight snapshot
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	decisions := c.decisionCount
	conflicts := c.conflictCount
	c.mu.Unlock()

	rate := 0.0
	if decisions > 0 {
		rate = float64(conflicts) / float64(decisions)
	}
	return Stats{
		Decisions:    decisions,
		Conflicts:    conflicts,
		ConflictRate: rate,
		Method:       string(c.aggregator.Method()),
		Weights:      c.currentWeights(),
	}
}

func participantIDs(opinions []domain.Opinion) []string {
	ids := make([]string, 0, len(opinions))
	for _, op := range opinions {
		ids = append(ids, op.AgentID)
	}
	return ids
}

func weightedOpinions(opinions []domain.Opinion, weights map[string]float64) []domain.WeightedOpinion {
	n := len(opinions)
	out := make([]domain.WeightedOpinion, 0, n)
	for _, op := range opinions {
		out = append(out, domain.WeightedOpinion{
			Opinion: op,
			Weight:  agentWeight(weights, op.AgentID, n),
		})
	}
	return out
}
