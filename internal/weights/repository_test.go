package weights

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	repo, err := Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestRepositoryWindowRoundTrip(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.SaveWindow("a1", []float64{0.01, -0.02, 0.03}))
	require.NoError(t, repo.SaveWindow("a2", []float64{0.05}))
	// Upsert replaces
	require.NoError(t, repo.SaveWindow("a1", []float64{0.04, 0.05}))

	windows, err := repo.LoadWindows()
	require.NoError(t, err)
	assert.Len(t, windows, 2)
	assert.Equal(t, []float64{0.04, 0.05}, windows["a1"])
	assert.Equal(t, []float64{0.05}, windows["a2"])
}

func TestRepositoryWeightsRoundTrip(t *testing.T) {
	repo := newTestRepository(t)

	now := time.Now()
	require.NoError(t, repo.SaveWeights(map[string]float64{"a1": 0.6, "a2": 0.4}, now))
	// A later snapshot fully replaces the previous one
	require.NoError(t, repo.SaveWeights(map[string]float64{"a1": 0.3, "a3": 0.7}, now))

	weights, err := repo.LoadWeights()
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"a1": 0.3, "a3": 0.7}, weights)
}

func TestAdjusterRestoresFromRepository(t *testing.T) {
	repo := newTestRepository(t)
	require.NoError(t, repo.SaveWindow("a1", []float64{0.02, 0.03}))
	require.NoError(t, repo.SaveWeights(map[string]float64{"a1": 1.0}, time.Now()))

	a := New(testConfig())
	require.NoError(t, a.SetRepository(repo))

	assert.Equal(t, []float64{0.02, 0.03}, a.Window("a1"))
	assert.InDelta(t, 1.0, a.CurrentWeights()["a1"], 1e-9)
}
