package analytics

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syntheticMatrix generates rows where most variance lives on the first two
// underlying directions, so a 3-component projection captures nearly all of it.
func syntheticMatrix(n int, seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	X := make([][]float64, n)
	for i := range X {
		a, b := rng.NormFloat64()*10, rng.NormFloat64()*3
		X[i] = []float64{
			a, -a + rng.NormFloat64()*0.01, b,
			b * 0.5, rng.NormFloat64() * 0.1, rng.NormFloat64() * 0.1, rng.NormFloat64() * 0.1,
		}
	}
	return X
}

func TestFitPCA_VarianceRatioOrderedAndBounded(t *testing.T) {
	X := syntheticMatrix(200, 1)

	p, err := fitPCA(X, 3)
	require.NoError(t, err)
	require.Len(t, p.ratio, 3)

	total := 0.0
	for i, r := range p.ratio {
		assert.GreaterOrEqual(t, r, 0.0)
		assert.LessOrEqual(t, r, 1.0)
		if i > 0 {
			assert.LessOrEqual(t, r, p.ratio[i-1], "ratios must be non-increasing")
		}
		total += r
	}
	assert.LessOrEqual(t, total, 1.0+1e-9)
	assert.Greater(t, p.ratio[0], 0.5, "dominant direction should carry most variance")
}

func TestFitPCA_Deterministic(t *testing.T) {
	X := syntheticMatrix(100, 2)

	first, err := fitPCA(X, 3)
	require.NoError(t, err)
	second, err := fitPCA(X, 3)
	require.NoError(t, err)

	projA, err := first.transform(X)
	require.NoError(t, err)
	projB, err := second.transform(X)
	require.NoError(t, err)

	if diff := cmp.Diff(projA, projB); diff != "" {
		t.Errorf("projection differs between identical fits (-first +second):\n%s", diff)
	}
}

func TestTransform_FiniteAndShaped(t *testing.T) {
	X := syntheticMatrix(50, 3)

	p, err := fitPCA(X, 3)
	require.NoError(t, err)
	proj, err := p.transform(X)
	require.NoError(t, err)

	require.Len(t, proj, 50)
	for i, row := range proj {
		require.Len(t, row, 3, "row %d", i)
		for _, v := range row {
			assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
		}
	}
}

func TestFitPCA_Errors(t *testing.T) {
	_, err := fitPCA([][]float64{{1, 2}}, 2)
	assert.Error(t, err, "single row")

	_, err = fitPCA([][]float64{{1, 2}, {3, 4}}, 3)
	assert.Error(t, err, "more components than columns")

	// Two wide rows: enough columns for 3 components but not enough rows.
	_, err = fitPCA(syntheticMatrix(2, 9), 3)
	assert.Error(t, err, "more components than rows")
}

func TestTransform_ColumnMismatch(t *testing.T) {
	p, err := fitPCA(syntheticMatrix(20, 4), 3)
	require.NoError(t, err)

	_, err = p.transform([][]float64{{1, 2, 3}})
	assert.Error(t, err)
}
