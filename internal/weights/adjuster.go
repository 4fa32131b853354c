// Package weights converts rolling realized-return histories into a bounded,
// normalized trust-weight vector consumed by the decision coordinator.
package weights

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// Method selects the weight recomputation scheme
type Method string

const (
	MethodPerformance  Method = "performance"
	MethodRiskAdjusted Method = "risk_adjusted"
	MethodEnsemble     Method = "ensemble"
)

// Config holds adjuster configuration
type Config struct {
	Method            Method
	PerformanceWindow int           // Rolling window size per agent
	MinWeight         float64       // Hard floor per agent, applied before renormalization
	MaxWeight         float64       // Hard cap per agent
	RebalanceInterval time.Duration // Minimum elapsed time between recomputations
	Sensitivity       float64       // Score steepness: exp(sensitivity * signal)
}

// DefaultConfig returns the default adjuster configuration
func DefaultConfig() Config {
	return Config{
		Method:            MethodEnsemble,
		PerformanceWindow: 50,
		MinWeight:         0.05,
		MaxWeight:         0.60,
		RebalanceInterval: 5 * time.Minute,
		Sensitivity:       10,
	}
}

// Adjuster maintains per-agent rolling return windows and the current
// normalized trust-weight vector. All state sits behind one coarse lock; the
// adjuster is expected to be driven by a single scheduler cycle but tolerates
// concurrent callers.
type Adjuster struct {
	cfg Config

	mu            sync.Mutex
	agents        map[string]struct{}
	history       map[string][]float64
	weights       map[string]float64
	lastRebalance time.Time

	repo *Repository
	log  zerolog.Logger
}

// New creates a weight adjuster
func New(cfg Config) *Adjuster {
	if cfg.PerformanceWindow <= 0 {
		cfg.PerformanceWindow = DefaultConfig().PerformanceWindow
	}
	if cfg.MaxWeight <= 0 || cfg.MaxWeight > 1 {
		cfg.MaxWeight = DefaultConfig().MaxWeight
	}
	if cfg.MinWeight < 0 || cfg.MinWeight >= cfg.MaxWeight {
		cfg.MinWeight = DefaultConfig().MinWeight
	}
	if cfg.Sensitivity <= 0 {
		cfg.Sensitivity = DefaultConfig().Sensitivity
	}
	return &Adjuster{
		cfg:     cfg,
		agents:  make(map[string]struct{}),
		history: make(map[string][]float64),
		weights: make(map[string]float64),
		log:     zerolog.Nop(),
	}
}

// SetLogger sets the logger for the adjuster
func (a *Adjuster) SetLogger(log zerolog.Logger) {
	a.log = log.With().Str("component", "weight_adjuster").Logger()
}

// SetRepository attaches a persistence layer and restores any saved state.
// Optional; without it all state is process-lifetime only.
func (a *Adjuster) SetRepository(repo *Repository) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.repo = repo
	windows, err := repo.LoadWindows()
	if err != nil {
		return err
	}
	for agentID, window := range windows {
		a.agents[agentID] = struct{}{}
		if len(window) > a.cfg.PerformanceWindow {
			window = window[len(window)-a.cfg.PerformanceWindow:]
		}
		a.history[agentID] = window
	}
	saved, err := repo.LoadWeights()
	if err != nil {
		return err
	}
	for agentID, w := range saved {
		a.agents[agentID] = struct{}{}
		a.weights[agentID] = w
	}
	a.log.Info().
		Int("agents", len(a.agents)).
		Msg("Weight state restored from repository")
	return nil
}

// RegisterAgent makes an agent known to the adjuster so it receives the
// neutral default weight before any performance history exists.
func (a *Adjuster) RegisterAgent(agentID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, known := a.agents[agentID]; known {
		return
	}
	a.agents[agentID] = struct{}{}
	a.recomputeLocked(time.Now())
}

// UpdatePerformance appends a realized return to the agent's bounded rolling
// window, dropping the oldest entry once the window size is exceeded.
func (a *Adjuster) UpdatePerformance(agentID string, realizedReturn float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.agents[agentID] = struct{}{}
	window := append(a.history[agentID], realizedReturn)
	if len(window) > a.cfg.PerformanceWindow {
		window = window[len(window)-a.cfg.PerformanceWindow:]
	}
	a.history[agentID] = window

	if a.repo != nil {
		if err := a.repo.SaveWindow(agentID, window); err != nil {
			a.log.Error().Err(err).Str("agent", agentID).Msg("Failed to persist performance window")
		}
	}
}

// AdjustWeights recomputes the weight vector when the rebalance interval has
// elapsed, or immediately when force is set. Returns the current snapshot
// either way.
func (a *Adjuster) AdjustWeights(force bool) map[string]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	due := a.lastRebalance.IsZero() || now.Sub(a.lastRebalance) >= a.cfg.RebalanceInterval
	if force || due {
		a.recomputeLocked(now)
		a.lastRebalance = now
	}
	return a.snapshotLocked()
}

// CurrentWeights returns the latest weight snapshot without recomputing
func (a *Adjuster) CurrentWeights() map[string]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// Window returns a copy of one agent's rolling return window
func (a *Adjuster) Window(agentID string) []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	window := a.history[agentID]
	out := make([]float64, len(window))
	copy(out, window)
	return out
}

func (a *Adjuster) snapshotLocked() map[string]float64 {
	out := make(map[string]float64, len(a.weights))
	for id, w := range a.weights {
		out[id] = w
	}
	return out
}

// recomputeLocked rebuilds the weight vector: raw scores per agent, clamp to
// [MinWeight, MaxWeight] before renormalization, then renormalize so weights
// sum to 1 while respecting the bounds.
func (a *Adjuster) recomputeLocked(now time.Time) {
	n := len(a.agents)
	if n == 0 {
		a.weights = make(map[string]float64)
		return
	}

	scores := make(map[string]float64, n)
	var total float64
	for agentID := range a.agents {
		s := a.score(a.history[agentID])
		scores[agentID] = s
		total += s
	}

	weights := make(map[string]float64, n)
	for agentID, s := range scores {
		weights[agentID] = s / total
	}

	a.weights = clampAndNormalize(weights, a.cfg.MinWeight, a.cfg.MaxWeight)

	if a.repo != nil {
		if err := a.repo.SaveWeights(a.weights, now); err != nil {
			a.log.Error().Err(err).Msg("Failed to persist weight snapshot")
		}
	}

	a.log.Debug().
		Int("agents", n).
		Str("method", string(a.cfg.Method)).
		Msg("Trust weights recomputed")
}

// score converts one agent's return window into a positive raw score.
// Agents with no history score exp(0) = 1, the neutral default.
func (a *Adjuster) score(window []float64) float64 {
	if len(window) == 0 {
		return 1.0
	}
	switch a.cfg.Method {
	case MethodPerformance:
		return a.performanceScore(window)
	case MethodRiskAdjusted:
		return a.riskAdjustedScore(window)
	default:
		return 0.5*a.performanceScore(window) + 0.5*a.riskAdjustedScore(window)
	}
}

// performanceScore maps the window mean through an exponential so scores stay
// positive and monotonic in realized return.
func (a *Adjuster) performanceScore(window []float64) float64 {
	mean := stat.Mean(window, nil)
	return math.Exp(a.cfg.Sensitivity * clamp(mean, -1, 1))
}

// riskAdjustedScore divides mean return by realized volatility within the
// window (a Sharpe-like ratio), clamped to keep the exponential tame.
func (a *Adjuster) riskAdjustedScore(window []float64) float64 {
	mean := stat.Mean(window, nil)
	if len(window) < 2 {
		return math.Exp(a.cfg.Sensitivity * clamp(mean, -1, 1))
	}
	sd := stat.StdDev(window, nil)
	if sd < 1e-9 {
		// Constant returns: fall back to the mean signal
		return math.Exp(a.cfg.Sensitivity * clamp(mean, -1, 1))
	}
	sharpe := clamp(mean/sd, -3, 3)
	return math.Exp(sharpe)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// clampAndNormalize applies the per-agent bounds and renormalizes so the
// vector sums to 1. Agents pinned at a bound keep their bound; the remaining
// mass is spread proportionally across the free agents, iterating to a fixed
// point. When the bounds make a sum of exactly 1 infeasible (for example one
// agent with MaxWeight < 1) the bounds win and the sum lands as close to 1 as
// they allow.
func clampAndNormalize(weights map[string]float64, minW, maxW float64) map[string]float64 {
	out := make(map[string]float64, len(weights))
	for id, w := range weights {
		out[id] = clamp(w, minW, maxW)
	}

	for iter := 0; iter < 16; iter++ {
		var sum float64
		for _, w := range out {
			sum += w
		}
		if math.Abs(sum-1) < 1e-12 || sum == 0 {
			break
		}

		// Mass already pinned at a bound in the direction we need to move
		var pinned, free float64
		for _, w := range out {
			atCap := w >= maxW-1e-12
			atFloor := w <= minW+1e-12
			if (sum < 1 && atCap) || (sum > 1 && atFloor) {
				pinned += w
			} else {
				free += w
			}
		}
		if free <= 0 {
			break
		}
		scale := (1 - pinned) / free
		changed := false
		for id, w := range out {
			atCap := w >= maxW-1e-12
			atFloor := w <= minW+1e-12
			if (sum < 1 && atCap) || (sum > 1 && atFloor) {
				continue
			}
			next := clamp(w*scale, minW, maxW)
			if next != w {
				changed = true
			}
			out[id] = next
		}
		if !changed {
			break
		}
	}
	return out
}
