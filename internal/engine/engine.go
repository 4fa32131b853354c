// Package engine drives the coordination cycle: it collects agent opinions
// and performance reports off the message bus, fuses them into decisions,
// rebuilds the target allocation, and publishes the result back to the bus.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/quorum/internal/allocation"
	"github.com/aristath/quorum/internal/bus"
	"github.com/aristath/quorum/internal/coordination"
	"github.com/aristath/quorum/internal/domain"
	"github.com/aristath/quorum/internal/utils"
	"github.com/aristath/quorum/internal/weights"
)

// AgentID is the bus identity the engine registers under.
const AgentID = "engine"

// Config holds engine configuration
type Config struct {
	CycleInterval     time.Duration // How often opinions are fused and reallocated
	RebalanceInterval time.Duration // How often trust weights are recomputed
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() Config {
	return Config{
		CycleInterval:     30 * time.Second,
		RebalanceInterval: 5 * time.Minute,
	}
}

// Engine owns the periodic coordination cycle. Messages accumulate in the
// engine's bus mailbox between cycles; each cycle drains the mailbox in full,
// so an opinion never outlives the cycle it arrived in.
type Engine struct {
	cfg         Config
	bus         *bus.Bus
	coordinator *coordination.Coordinator
	adjuster    *weights.Adjuster
	allocator   *allocation.Allocator
	sched       *Scheduler
	log         zerolog.Logger

	mu         sync.Mutex
	estimates  map[string]domain.InstrumentEstimate
	lastResult *CycleResult
	cycles     int
	started    bool
}

// CycleResult is the snapshot of one completed coordination cycle.
type CycleResult struct {
	Decisions  []domain.FusedDecision   `json:"decisions"`
	Allocation *domain.TargetAllocation `json:"allocation,omitempty"`
	Opinions   int                      `json:"opinions"`
	Elapsed    time.Duration            `json:"elapsed"`
	At         time.Time                `json:"at"`
}

// New creates an engine wiring the bus to the coordinator, weight adjuster,
// and allocator.
func New(cfg Config, b *bus.Bus, c *coordination.Coordinator, a *weights.Adjuster, al *allocation.Allocator) *Engine {
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = DefaultConfig().CycleInterval
	}
	if cfg.RebalanceInterval <= 0 {
		cfg.RebalanceInterval = DefaultConfig().RebalanceInterval
	}
	return &Engine{
		cfg:         cfg,
		bus:         b,
		coordinator: c,
		adjuster:    a,
		allocator:   al,
		log:         zerolog.Nop(),
		estimates:   make(map[string]domain.InstrumentEstimate),
	}
}

// SetLogger sets the logger for the engine
func (e *Engine) SetLogger(log zerolog.Logger) {
	e.log = log.With().Str("component", "engine").Logger()
}

// Start registers the engine on the bus, subscribes to the message types it
// consumes, and begins the scheduled cycles.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.mu.Unlock()

	if err := e.bus.Register(AgentID, map[string]interface{}{"role": "coordinator"}); err != nil {
		return fmt.Errorf("registering engine agent: %w", err)
	}
	// Nil handlers: broadcasts of these types land in the mailbox and are
	// consumed by the cycle drain, not dispatched to a callback.
	for _, msgType := range []bus.MessageType{bus.TypeDecision, bus.TypePerformanceUpdate, bus.TypeMarketData} {
		if err := e.bus.Subscribe(AgentID, msgType, nil); err != nil {
			return err
		}
	}

	e.sched = NewScheduler(e.log)
	cycle := fmt.Sprintf("@every %s", e.cfg.CycleInterval)
	if err := e.sched.AddJob(cycle, &cycleJob{engine: e}); err != nil {
		return err
	}
	rebalance := fmt.Sprintf("@every %s", e.cfg.RebalanceInterval)
	if err := e.sched.AddJob(rebalance, &rebalanceJob{engine: e}); err != nil {
		return err
	}
	e.sched.Start()

	e.log.Info().
		Dur("cycle_interval", e.cfg.CycleInterval).
		Dur("rebalance_interval", e.cfg.RebalanceInterval).
		Msg("Engine started")
	return nil
}

// Stop halts the scheduled cycles and removes the engine from the bus.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	e.mu.Unlock()

	if e.sched != nil {
		e.sched.Stop()
	}
	if err := e.bus.Unregister(AgentID); err != nil {
		e.log.Warn().Err(err).Msg("Failed to unregister engine agent")
	}
	e.log.Info().Msg("Engine stopped")
}

// RunCycle drains the engine's mailbox, fuses one decision per symbol,
// rebuilds the target allocation, and broadcasts it. Safe to call outside
// the schedule.
func (e *Engine) RunCycle() *CycleResult {
	start := time.Now()
	timer := utils.NewTimer("coordination_cycle", e.log, e.cfg.CycleInterval)

	opinions := e.drainMailbox()

	e.mu.Lock()
	estimates := make(map[string]domain.InstrumentEstimate, len(e.estimates))
	for k, v := range e.estimates {
		estimates[k] = v
	}
	e.mu.Unlock()

	total := 0
	decisions := make([]domain.FusedDecision, 0, len(opinions))
	for symbol, ops := range opinions {
		total += len(ops)
		decision := e.coordinator.Coordinate(ops, symbol)
		decisions = append(decisions, *decision)
	}

	result := &CycleResult{
		Decisions: decisions,
		Opinions:  total,
		At:        start,
	}

	if len(decisions) > 0 {
		alloc := e.allocator.Allocate(decisions, estimates)
		result.Allocation = alloc
		e.publishAllocation(alloc)
	}

	result.Elapsed = timer.Stop()

	e.mu.Lock()
	e.lastResult = result
	e.cycles++
	cycles := e.cycles
	e.mu.Unlock()

	e.log.Info().
		Int("cycle", cycles).
		Int("opinions", total).
		Int("decisions", len(decisions)).
		Dur("elapsed", result.Elapsed).
		Msg("Coordination cycle complete")
	return result
}

// drainMailbox consumes every queued message, routing performance updates and
// market data as side effects and returning the buffered opinions per symbol.
func (e *Engine) drainMailbox() map[string][]domain.Opinion {
	opinions := make(map[string][]domain.Opinion)
	for {
		msg, err := e.bus.Receive(AgentID, 0)
		if err != nil || msg == nil {
			return opinions
		}

		switch msg.Type {
		case bus.TypeDecision:
			op, err := opinionFromPayload(msg.Sender, msg.Payload)
			if err != nil {
				e.log.Warn().Err(err).Str("sender", msg.Sender).Msg("Dropping malformed opinion")
				continue
			}
			e.adjuster.RegisterAgent(op.AgentID)
			opinions[op.Symbol] = append(opinions[op.Symbol], op)

		case bus.TypePerformanceUpdate:
			e.applyPerformance(msg)

		case bus.TypeMarketData:
			e.applyMarketData(msg)

		default:
			e.log.Debug().Str("type", string(msg.Type)).Msg("Ignoring message")
		}
	}
}

// applyPerformance feeds a realized return into the weight adjuster and the
// coordinator's contribution history.
func (e *Engine) applyPerformance(msg *bus.Message) {
	agentID := payloadString(msg.Payload, "agent_id")
	if agentID == "" {
		agentID = msg.Sender
	}
	ret, ok := payloadFloat(msg.Payload, "return")
	if !ok {
		e.log.Warn().Str("sender", msg.Sender).Msg("Performance update without return value")
		return
	}

	e.adjuster.UpdatePerformance(agentID, ret)
	e.coordinator.UpdateAgentPerformance(agentID, ret)
}

// applyMarketData stores an instrument estimate for the allocator.
func (e *Engine) applyMarketData(msg *bus.Message) {
	est, err := estimateFromPayload(msg.Payload)
	if err != nil {
		e.log.Warn().Err(err).Str("sender", msg.Sender).Msg("Dropping malformed estimate")
		return
	}

	e.mu.Lock()
	e.estimates[est.Symbol] = est
	e.mu.Unlock()
}

// publishAllocation broadcasts the fresh allocation to every listening agent.
func (e *Engine) publishAllocation(alloc *domain.TargetAllocation) {
	payload := map[string]interface{}{
		"weights":    alloc.Weights,
		"cash":       alloc.Cash,
		"method":     alloc.Method,
		"created_at": alloc.CreatedAt,
	}
	if _, err := e.bus.Broadcast(AgentID, bus.TypeAllocationUpdate, payload, &bus.SendOptions{
		Priority: bus.PriorityHigh,
	}); err != nil {
		e.log.Warn().Err(err).Msg("Failed to broadcast allocation update")
	}
}

// LastResult returns the most recent cycle result, or nil before the first
// cycle.
func (e *Engine) LastResult() *CycleResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastResult
}

// Cycles returns the number of completed coordination cycles.
func (e *Engine) Cycles() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cycles
}

// PendingMessages returns the number of messages queued for the next cycle.
func (e *Engine) PendingMessages() int {
	return e.bus.Stats().QueueDepths[AgentID]
}

type cycleJob struct {
	engine *Engine
}

func (j *cycleJob) Name() string { return "coordination_cycle" }

func (j *cycleJob) Run() error {
	j.engine.RunCycle()
	return nil
}

type rebalanceJob struct {
	engine *Engine
}

func (j *rebalanceJob) Name() string { return "weight_rebalance" }

func (j *rebalanceJob) Run() error {
	j.engine.adjuster.AdjustWeights(true)
	return nil
}
