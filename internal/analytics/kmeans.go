package analytics

import (
	"errors"
	"math"
	"math/rand"
)

// KMeans partitions points into K clusters. Centroid initialization is
// kmeans++ from a seeded PRNG, so identical input, K, and seed reproduce
// identical labels.
type KMeans struct {
	K       int
	MaxIter int

	Centroids [][]float64
	Inertia   float64

	rng *rand.Rand
}

// NewKMeans creates a KMeans model with the given cluster count, iteration
// cap, and PRNG seed.
func NewKMeans(k, maxIter int, seed int64) *KMeans {
	return &KMeans{K: k, MaxIter: maxIter, rng: rand.New(rand.NewSource(seed))}
}

// FitPredict fits centroids over X and returns one label in [0, K) per row.
func (m *KMeans) FitPredict(X [][]float64) ([]int, error) {
	if len(X) == 0 {
		return nil, errors.New("kmeans: empty input")
	}
	n, d := len(X), len(X[0])
	if n < m.K {
		return nil, errors.New("kmeans: fewer points than clusters")
	}

	m.initCentroids(X)
	labels := make([]int, n)

	for it := 0; it < m.MaxIter; it++ {
		changed := false
		m.Inertia = 0

		for i, x := range X {
			best, bestDist := 0, math.MaxFloat64
			for k, c := range m.Centroids {
				if dd := sqDist(x, c); dd < bestDist {
					best, bestDist = k, dd
				}
			}
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
			m.Inertia += bestDist
		}

		sums := make([][]float64, m.K)
		counts := make([]int, m.K)
		for k := range sums {
			sums[k] = make([]float64, d)
		}
		for i, x := range X {
			k := labels[i]
			counts[k]++
			for j, v := range x {
				sums[k][j] += v
			}
		}
		for k := 0; k < m.K; k++ {
			if counts[k] == 0 {
				continue // empty cluster keeps its old centroid
			}
			for j := 0; j < d; j++ {
				m.Centroids[k][j] = sums[k][j] / float64(counts[k])
			}
		}

		if !changed && it > 0 {
			break
		}
	}
	return labels, nil
}

// initCentroids seeds centroids with kmeans++: the first is a random point,
// each following one is sampled proportionally to its squared distance from
// the nearest chosen centroid.
func (m *KMeans) initCentroids(X [][]float64) {
	n := len(X)
	m.Centroids = make([][]float64, 0, m.K)
	m.Centroids = append(m.Centroids, append([]float64(nil), X[m.rng.Intn(n)]...))

	distSq := make([]float64, n)
	for len(m.Centroids) < m.K {
		total := 0.0
		for i, x := range X {
			best := math.MaxFloat64
			for _, c := range m.Centroids {
				if dd := sqDist(x, c); dd < best {
					best = dd
				}
			}
			distSq[i] = best
			total += best
		}

		if total == 0 {
			// All remaining points coincide with a centroid; pick uniformly.
			m.Centroids = append(m.Centroids, append([]float64(nil), X[m.rng.Intn(n)]...))
			continue
		}

		r := m.rng.Float64() * total
		cumulative := 0.0
		picked := n - 1
		for i, dd := range distSq {
			cumulative += dd
			if cumulative >= r {
				picked = i
				break
			}
		}
		m.Centroids = append(m.Centroids, append([]float64(nil), X[picked]...))
	}
}

// meanSilhouette is a centroid-based silhouette approximation: for each point
// a is the distance to its own centroid and b the distance to the nearest
// other centroid. Returns 0 for K < 2.
func meanSilhouette(X [][]float64, labels []int, centroids [][]float64) float64 {
	if len(centroids) < 2 || len(X) == 0 {
		return 0
	}
	sum := 0.0
	for i, x := range X {
		a := math.Sqrt(sqDist(x, centroids[labels[i]]))
		b := math.MaxFloat64
		for k, c := range centroids {
			if k == labels[i] {
				continue
			}
			if d := math.Sqrt(sqDist(x, c)); d < b {
				b = d
			}
		}
		if denom := math.Max(a, b); denom > 0 {
			sum += (b - a) / denom
		}
	}
	return sum / float64(len(X))
}

func sqDist(a, b []float64) float64 {
	s := 0.0
	for j := range a {
		diff := a[j] - b[j]
		s += diff * diff
	}
	return s
}
