package analytics

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// pcaModel holds a fitted principal-component projection. Components are
// ordered by descending explained variance. Component sign depends on the
// underlying SVD and is not stable across refits.
type pcaModel struct {
	components *mat.Dense // d x k
	mean       []float64
	ratio      []float64 // explained variance ratio per kept component
}

// fitPCA fits a k-component projection over the rows of X via SVD.
// Deterministic given identical input.
func fitPCA(X [][]float64, k int) (*pcaModel, error) {
	if len(X) < 2 {
		return nil, errors.New("pca: need at least 2 rows")
	}
	n, d := len(X), len(X[0])
	if k > d {
		return nil, fmt.Errorf("pca: %d components requested from %d columns", k, d)
	}
	// VectorsTo yields a d x min(n,d) matrix, so fewer rows than components
	// would make the slice below out of range.
	if k > n {
		return nil, fmt.Errorf("pca: %d components requested from %d rows", k, n)
	}

	m := mat.NewDense(n, d, nil)
	for i, row := range X {
		m.SetRow(i, row)
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(m, nil); !ok {
		return nil, errors.New("pca: decomposition failed")
	}

	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	vars := pc.VarsTo(nil)

	total := 0.0
	for _, v := range vars {
		total += v
	}
	ratio := make([]float64, k)
	for i := 0; i < k && i < len(vars); i++ {
		if total > 0 {
			ratio[i] = vars[i] / total
		}
	}

	mean := make([]float64, d)
	for j := 0; j < d; j++ {
		col := mat.Col(nil, j, m)
		mean[j] = stat.Mean(col, nil)
	}

	components := mat.DenseCopyOf(vecs.Slice(0, d, 0, k))
	return &pcaModel{components: components, mean: mean, ratio: ratio}, nil
}

// transform projects rows onto the fitted components after centering.
func (p *pcaModel) transform(X [][]float64) ([][]float64, error) {
	d, k := p.components.Dims()
	out := make([][]float64, len(X))
	for i, row := range X {
		if len(row) != d {
			return nil, errors.New("pca: column count mismatch")
		}
		proj := make([]float64, k)
		for c := 0; c < k; c++ {
			s := 0.0
			for j := 0; j < d; j++ {
				s += (row[j] - p.mean[j]) * p.components.At(j, c)
			}
			proj[c] = s
		}
		out[i] = proj
	}
	return out, nil
}
