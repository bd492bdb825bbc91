package analytics

import (
	"errors"
	"math"
)

// StandardScaler standardizes columns to zero mean and unit variance.
// Variance is the population variance; zero-variance columns get scale 1 so
// they map to constant zero instead of NaN.
type StandardScaler struct {
	Mean  []float64
	Scale []float64
}

// Fit computes per-column mean and scale from the fit subset. Deterministic
// given the same rows in the same order.
func (s *StandardScaler) Fit(X [][]float64) error {
	if len(X) == 0 {
		return errors.New("scaler: fit on empty matrix")
	}
	n, d := len(X), len(X[0])
	s.Mean = make([]float64, d)
	s.Scale = make([]float64, d)

	for j := 0; j < d; j++ {
		for i := 0; i < n; i++ {
			s.Mean[j] += X[i][j]
		}
		s.Mean[j] /= float64(n)

		v := 0.0
		for i := 0; i < n; i++ {
			diff := X[i][j] - s.Mean[j]
			v += diff * diff
		}
		s.Scale[j] = math.Sqrt(v / float64(n))
		if s.Scale[j] == 0 {
			s.Scale[j] = 1
		}
	}
	return nil
}

// Transform returns a new standardized matrix.
func (s *StandardScaler) Transform(X [][]float64) ([][]float64, error) {
	if s.Mean == nil {
		return nil, errors.New("scaler: transform before fit")
	}
	out := make([][]float64, len(X))
	for i := range X {
		if len(X[i]) != len(s.Mean) {
			return nil, errors.New("scaler: column count mismatch")
		}
		row := make([]float64, len(X[i]))
		for j := range X[i] {
			row[j] = (X[i][j] - s.Mean[j]) / s.Scale[j]
		}
		out[i] = row
	}
	return out, nil
}
