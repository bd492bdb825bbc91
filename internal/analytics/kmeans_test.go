package analytics

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blobs generates K well-separated gaussian clusters. wantLabel records which
// blob each row came from.
func blobs(perCluster int, centers [][]float64, seed int64) ([][]float64, []int) {
	rng := rand.New(rand.NewSource(seed))
	var X [][]float64
	var wantLabel []int
	for c, center := range centers {
		for i := 0; i < perCluster; i++ {
			row := make([]float64, len(center))
			for j := range center {
				row[j] = center[j] + rng.NormFloat64()*0.1
			}
			X = append(X, row)
			wantLabel = append(wantLabel, c)
		}
	}
	return X, wantLabel
}

var testCenters = [][]float64{
	{0, 0, 0},
	{10, 0, 0},
	{0, 10, 0},
	{0, 0, 10},
}

func TestFitPredict_LabelsInRange(t *testing.T) {
	X, _ := blobs(50, testCenters, 1)

	km := NewKMeans(4, 300, 42)
	labels, err := km.FitPredict(X)
	require.NoError(t, err)
	require.Len(t, labels, len(X))

	for i, l := range labels {
		assert.GreaterOrEqual(t, l, 0, "row %d", i)
		assert.Less(t, l, 4, "row %d", i)
	}
}

func TestFitPredict_SeparatedClustersRecovered(t *testing.T) {
	X, wantLabel := blobs(50, testCenters, 2)

	km := NewKMeans(4, 300, 42)
	labels, err := km.FitPredict(X)
	require.NoError(t, err)

	// Labels are arbitrary but must be consistent: every row of one blob
	// maps to the same cluster, and different blobs map to different ones.
	blobToCluster := make(map[int]int)
	for i, want := range wantLabel {
		if got, seen := blobToCluster[want]; seen {
			assert.Equal(t, got, labels[i], "row %d left its blob's cluster", i)
		} else {
			blobToCluster[want] = labels[i]
		}
	}
	seen := make(map[int]bool)
	for _, c := range blobToCluster {
		assert.False(t, seen[c], "two blobs merged into cluster %d", c)
		seen[c] = true
	}
}

func TestFitPredict_SeedDeterminism(t *testing.T) {
	X, _ := blobs(50, testCenters, 3)

	first, err := NewKMeans(4, 300, 42).FitPredict(X)
	require.NoError(t, err)
	second, err := NewKMeans(4, 300, 42).FitPredict(X)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFitPredict_Errors(t *testing.T) {
	km := NewKMeans(4, 300, 42)

	_, err := km.FitPredict(nil)
	assert.Error(t, err, "empty input")

	_, err = km.FitPredict([][]float64{{1, 2}, {3, 4}, {5, 6}})
	assert.Error(t, err, "fewer points than clusters")
}

func TestFitPredict_NEqualsK(t *testing.T) {
	X := [][]float64{{0, 0}, {10, 0}, {0, 10}, {10, 10}}

	km := NewKMeans(4, 300, 42)
	labels, err := km.FitPredict(X)
	require.NoError(t, err)

	seen := make(map[int]bool)
	for _, l := range labels {
		seen[l] = true
	}
	assert.Len(t, seen, 4, "each point gets its own cluster")
}

func TestFitPredict_IdenticalPoints(t *testing.T) {
	X := [][]float64{{1, 1}, {1, 1}, {1, 1}, {1, 1}, {1, 1}}

	km := NewKMeans(2, 300, 42)
	labels, err := km.FitPredict(X)
	require.NoError(t, err)
	require.Len(t, labels, 5)
	assert.InDelta(t, 0.0, km.Inertia, 1e-12)
}

func TestMeanSilhouette(t *testing.T) {
	X, _ := blobs(30, testCenters, 4)
	km := NewKMeans(4, 300, 42)
	labels, err := km.FitPredict(X)
	require.NoError(t, err)

	s := meanSilhouette(X, labels, km.Centroids)
	assert.Greater(t, s, 0.8, "tight separated blobs score near 1")
	assert.LessOrEqual(t, s, 1.0)

	assert.Zero(t, meanSilhouette(X, labels, km.Centroids[:1]), "K<2 has no silhouette")
}
