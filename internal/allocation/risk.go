package allocation

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/quorum/internal/domain"
)

// covarianceFor builds a covariance matrix for the given symbols from their
// return series. Returns nil when any series is missing or too short; callers
// fall back to volatility-only treatment.
func covarianceFor(symbols []string, estimates map[string]domain.InstrumentEstimate) [][]float64 {
	minLen := math.MaxInt32
	for _, sym := range symbols {
		est, ok := estimates[sym]
		if !ok || len(est.Returns) < 2 {
			return nil
		}
		if len(est.Returns) < minLen {
			minLen = len(est.Returns)
		}
	}

	n := len(symbols)
	// Observations in rows, instruments in columns; series aligned on the
	// most recent minLen observations.
	data := mat.NewDense(minLen, n, nil)
	for j, sym := range symbols {
		returns := estimates[sym].Returns
		returns = returns[len(returns)-minLen:]
		for i, r := range returns {
			data.Set(i, j, r)
		}
	}

	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, data, nil)

	out := make([][]float64, n)
	for i := 0; i < n; i++ {
		out[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			out[i][j] = cov.At(i, j)
		}
	}
	return out
}

// diagonalCovariance builds a covariance with zero cross terms from the
// per-instrument volatility estimates.
func diagonalCovariance(symbols []string, estimates map[string]domain.InstrumentEstimate) [][]float64 {
	n := len(symbols)
	out := make([][]float64, n)
	for i, sym := range symbols {
		out[i] = make([]float64, n)
		vol := estimateFor(estimates, sym).Volatility
		out[i][i] = vol * vol
	}
	return out
}

// ComputeRiskMetrics derives portfolio-level risk figures from the chosen
// weights: volatility as sqrt(w'Sigma w), concentration as the Herfindahl
// index over the weight distribution, and the diversification ratio as the
// weighted average of instrument volatilities over portfolio volatility.
func ComputeRiskMetrics(weights map[string]float64, estimates map[string]domain.InstrumentEstimate) domain.RiskMetrics {
	if len(weights) == 0 {
		return domain.RiskMetrics{}
	}

	symbols := make([]string, 0, len(weights))
	for sym := range weights {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	cov := covarianceFor(symbols, estimates)
	if cov == nil {
		cov = diagonalCovariance(symbols, estimates)
	}

	w := make([]float64, len(symbols))
	var total float64
	for i, sym := range symbols {
		w[i] = weights[sym]
		total += w[i]
	}

	// Portfolio variance w'Sigma w
	var variance float64
	for i := range symbols {
		for j := range symbols {
			variance += w[i] * w[j] * cov[i][j]
		}
	}
	volatility := math.Sqrt(math.Max(0, variance))

	// Herfindahl index over the normalized weight distribution
	var hhi float64
	if total > 0 {
		for _, wi := range w {
			share := wi / total
			hhi += share * share
		}
	}

	// Weighted average standalone volatility over portfolio volatility
	var weightedVol float64
	for i := range symbols {
		weightedVol += w[i] * math.Sqrt(cov[i][i])
	}
	diversification := 1.0
	if volatility > 0 {
		diversification = weightedVol / volatility
	}

	return domain.RiskMetrics{
		Volatility:           volatility,
		Concentration:        hhi,
		DiversificationRatio: diversification,
	}
}
