package allocation

import (
	"math"

	"gonum.org/v1/gonum/optimize"

	"github.com/aristath/quorum/internal/domain"
)

// Method selects the allocation strategy
type Method string

const (
	MethodStrategic  Method = "strategic"
	MethodTactical   Method = "tactical"
	MethodRiskParity Method = "risk_parity"
)

// defaultVolatility stands in when an instrument has no risk estimate
const defaultVolatility = 0.20

// Strategy produces an unconstrained target allocation from signals and
// return/risk estimates. One implementation per method, selected at
// allocator construction time.
type Strategy interface {
	Name() Method
	Weights(signals []Signal, estimates map[string]domain.InstrumentEstimate) map[string]float64
}

// NewStrategy returns the strategy implementation for the given method.
// Unknown methods fall back to strategic.
func NewStrategy(method Method) Strategy {
	switch method {
	case MethodTactical:
		return &tacticalStrategy{}
	case MethodRiskParity:
		return &riskParityStrategy{}
	default:
		return &strategicStrategy{}
	}
}

// estimateFor returns the instrument's estimate with a fallback volatility
func estimateFor(estimates map[string]domain.InstrumentEstimate, symbol string) domain.InstrumentEstimate {
	est, ok := estimates[symbol]
	if !ok {
		return domain.InstrumentEstimate{Symbol: symbol, Volatility: defaultVolatility}
	}
	if est.Volatility <= 0 {
		est.Volatility = defaultVolatility
	}
	return est
}

// normalizeScores converts positive scores to weights summing to 1
func normalizeScores(scores map[string]float64) map[string]float64 {
	var total float64
	for _, s := range scores {
		total += s
	}
	if total <= 0 {
		return map[string]float64{}
	}
	out := make(map[string]float64, len(scores))
	for sym, s := range scores {
		out[sym] = s / total
	}
	return out
}

// strategicStrategy weights by a longer-horizon blend of expected return per
// unit of risk and the fused signal strength.
type strategicStrategy struct{}

func (s *strategicStrategy) Name() Method { return MethodStrategic }

func (s *strategicStrategy) Weights(signals []Signal, estimates map[string]domain.InstrumentEstimate) map[string]float64 {
	scores := make(map[string]float64)
	for _, sig := range buyCandidates(signals) {
		est := estimateFor(estimates, sig.Symbol)
		sharpe := math.Max(0, est.ExpectedReturn) / est.Volatility
		// Return/risk carries the allocation; the signal tilts it
		score := (0.5 + 0.5*sharpe) * (1 + 0.5*sig.Strength)
		if score > 0 {
			scores[sig.Symbol] = score
		}
	}
	return normalizeScores(scores)
}

// tacticalStrategy is signal-driven: short-term confidence and the agents'
// requested position sizes dominate, risk estimates are ignored.
type tacticalStrategy struct{}

func (s *tacticalStrategy) Name() Method { return MethodTactical }

func (s *tacticalStrategy) Weights(signals []Signal, _ map[string]domain.InstrumentEstimate) map[string]float64 {
	scores := make(map[string]float64)
	for _, sig := range buyCandidates(signals) {
		size := sig.PositionSize
		if size <= 0 {
			size = 0.05
		}
		scores[sig.Symbol] = sig.Confidence * size
	}
	return normalizeScores(scores)
}

// riskParityStrategy equalizes each instrument's marginal risk contribution.
// With a full covariance matrix it minimizes the spread of risk
// contributions; without one it degrades to inverse-volatility weights.
type riskParityStrategy struct{}

func (s *riskParityStrategy) Name() Method { return MethodRiskParity }

func (s *riskParityStrategy) Weights(signals []Signal, estimates map[string]domain.InstrumentEstimate) map[string]float64 {
	candidates := buyCandidates(signals)
	if len(candidates) == 0 {
		return map[string]float64{}
	}
	if len(candidates) == 1 {
		return map[string]float64{candidates[0].Symbol: 1}
	}

	symbols := make([]string, len(candidates))
	for i, sig := range candidates {
		symbols[i] = sig.Symbol
	}

	cov := covarianceFor(symbols, estimates)
	if cov == nil {
		return s.inverseVolatility(symbols, estimates)
	}
	return s.optimizeRiskParity(symbols, cov)
}

// inverseVolatility is the closed-form naive risk parity solution for a
// diagonal covariance.
func (s *riskParityStrategy) inverseVolatility(symbols []string, estimates map[string]domain.InstrumentEstimate) map[string]float64 {
	scores := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		est := estimateFor(estimates, sym)
		scores[sym] = 1 / est.Volatility
	}
	return normalizeScores(scores)
}

// optimizeRiskParity minimizes the squared spread of risk contributions
// RC_i = w_i (Sigma w)_i over the simplex. Weights are parametrized through a
// softmax so the optimizer runs unconstrained, in the penalty-free style.
func (s *riskParityStrategy) optimizeRiskParity(symbols []string, cov [][]float64) map[string]float64 {
	n := len(symbols)

	objective := func(x []float64) float64 {
		w := softmax(x)
		rc := riskContributions(w, cov)
		mean := 0.0
		for _, c := range rc {
			mean += c
		}
		mean /= float64(n)
		var spread float64
		for _, c := range rc {
			spread += (c - mean) * (c - mean)
		}
		return spread
	}

	problem := optimize.Problem{Func: objective}
	x0 := make([]float64, n)

	// A partially converged solution still beats equal weights, so the
	// error is deliberately ignored when the optimizer returns a point.
	result, _ := optimize.Minimize(problem, x0, &optimize.Settings{
		MajorIterations: 500,
	}, &optimize.NelderMead{})

	var w []float64
	if result != nil && len(result.X) == n {
		w = softmax(result.X)
	} else {
		w = make([]float64, n)
		for i := range w {
			w[i] = 1 / float64(n)
		}
	}

	out := make(map[string]float64, n)
	for i, sym := range symbols {
		out[sym] = w[i]
	}
	return out
}

// softmax maps unconstrained parameters onto the simplex
func softmax(x []float64) []float64 {
	maxX := x[0]
	for _, v := range x[1:] {
		if v > maxX {
			maxX = v
		}
	}
	out := make([]float64, len(x))
	var sum float64
	for i, v := range x {
		out[i] = math.Exp(v - maxX)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// riskContributions computes w_i * (Sigma w)_i for each instrument
func riskContributions(w []float64, cov [][]float64) []float64 {
	n := len(w)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		var marginal float64
		for j := 0; j < n; j++ {
			marginal += cov[i][j] * w[j]
		}
		out[i] = w[i] * marginal
	}
	return out
}
