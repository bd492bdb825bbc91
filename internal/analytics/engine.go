// Package analytics implements the feature engine: feature selection,
// standardization, 3-component PCA projection, and seeded KMeans clustering
// over the curated table, producing one feature row per curated row under a
// model version.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bradfordwx/weatherlab/internal/config"
	"github.com/bradfordwx/weatherlab/internal/domain"
	"github.com/bradfordwx/weatherlab/internal/observability"
)

// pcComponents is the dimensionality of the persisted embedding.
const pcComponents = 3

// CuratedSource reads the curated table. Implemented by the postgres store.
type CuratedSource interface {
	// CuratedColumns lists the columns present on the curated table.
	CuratedColumns(ctx context.Context) ([]string, error)
	// LoadCurated returns all curated rows ordered by (station, ts).
	LoadCurated(ctx context.Context) ([]domain.Observation, error)
}

// FeatureSink atomically replaces all feature rows under a model version.
type FeatureSink interface {
	ReplaceFeatures(ctx context.Context, modelVersion string, rows []domain.FeatureRow) error
}

// Report summarizes one feature engine run.
type Report struct {
	CuratedRows   int
	ScoredRows    int
	UnscoredRows  int
	VarianceRatio []float64
	Silhouette    float64
}

// Engine computes and persists feature rows.
type Engine struct {
	source  CuratedSource
	sink    FeatureSink
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
}

func New(source CuratedSource, sink FeatureSink, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{source: source, sink: sink, cfg: cfg, logger: logger, metrics: metrics}
}

// Run fits the scaler, PCA, and KMeans over the scorable subset of the
// curated table and replaces all feature rows under the configured model
// version in a single transaction. Rows with nulls in any selected column
// receive a sentinel row, so the features row count always matches the
// curated row count. All validation happens before anything is written.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	start := time.Now()

	report, rows, err := e.compute(ctx)
	if err != nil {
		e.metrics.StageFailures.WithLabelValues("compute-features").Inc()
		return Report{}, err
	}

	if err := e.sink.ReplaceFeatures(ctx, e.cfg.ModelVersion, rows); err != nil {
		e.metrics.StageFailures.WithLabelValues("compute-features").Inc()
		return Report{}, fmt.Errorf("compute features: %w", err)
	}

	e.metrics.FeatureRowsWritten.Add(float64(len(rows)))
	e.metrics.UnscoredRows.Add(float64(report.UnscoredRows))
	e.metrics.StageDuration.WithLabelValues("compute-features").Observe(time.Since(start).Seconds())

	e.logger.Info("compute features complete",
		"model_version", e.cfg.ModelVersion,
		"k", e.cfg.KMeansK,
		"curated_rows", report.CuratedRows,
		"scored_rows", report.ScoredRows,
		"unscored_rows", report.UnscoredRows,
		"explained_variance_ratio", report.VarianceRatio,
		"silhouette", report.Silhouette,
	)
	return report, nil
}

func (e *Engine) compute(ctx context.Context) (Report, []domain.FeatureRow, error) {
	if err := e.checkSchema(ctx); err != nil {
		return Report{}, nil, err
	}

	curated, err := e.source.LoadCurated(ctx)
	if err != nil {
		return Report{}, nil, fmt.Errorf("compute features: %w", err)
	}
	if len(curated) == 0 {
		return Report{}, nil, fmt.Errorf("compute features: %w: curated table is empty, run preprocess first", domain.ErrDataIntegrity)
	}

	scorableIdx, matrix := selectScorable(curated)
	// The projection needs at least as many rows as components, independently
	// of K, so small K cannot sneak an underdetermined fit past this gate.
	need := e.cfg.KMeansK
	if need < pcComponents {
		need = pcComponents
	}
	if len(scorableIdx) < need {
		return Report{}, nil, fmt.Errorf("compute features: %w: %d scorable rows for K=%d and %d components, need %d (%d curated, %d with null inputs)",
			domain.ErrInsufficientData, len(scorableIdx), e.cfg.KMeansK, pcComponents, need, len(curated), len(curated)-len(scorableIdx))
	}

	var scaler StandardScaler
	if err := scaler.Fit(matrix); err != nil {
		return Report{}, nil, fmt.Errorf("compute features: %w", err)
	}
	standardized, err := scaler.Transform(matrix)
	if err != nil {
		return Report{}, nil, fmt.Errorf("compute features: %w", err)
	}

	pca, err := fitPCA(standardized, pcComponents)
	if err != nil {
		return Report{}, nil, fmt.Errorf("compute features: %w", err)
	}
	projected, err := pca.transform(standardized)
	if err != nil {
		return Report{}, nil, fmt.Errorf("compute features: %w", err)
	}

	km := NewKMeans(e.cfg.KMeansK, e.cfg.KMeansMaxIter, e.cfg.Seed)
	labels, err := km.FitPredict(projected)
	if err != nil {
		return Report{}, nil, fmt.Errorf("compute features: %w", err)
	}

	rows := e.buildRows(curated, scorableIdx, projected, labels)
	report := Report{
		CuratedRows:   len(curated),
		ScoredRows:    len(scorableIdx),
		UnscoredRows:  len(curated) - len(scorableIdx),
		VarianceRatio: pca.ratio,
		Silhouette:    meanSilhouette(projected, labels, km.Centroids),
	}
	return report, rows, nil
}

// checkSchema verifies every selected feature column exists on the curated
// table before anything is read in bulk or written.
func (e *Engine) checkSchema(ctx context.Context) error {
	cols, err := e.source.CuratedColumns(ctx)
	if err != nil {
		return fmt.Errorf("compute features: %w", err)
	}
	present := make(map[string]bool, len(cols))
	for _, c := range cols {
		present[c] = true
	}
	var missing []string
	for _, c := range domain.FeatureColumns {
		if !present[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("compute features: %w: curated table is missing columns %s",
			domain.ErrSchemaMismatch, strings.Join(missing, ", "))
	}
	return nil
}

// selectScorable partitions curated rows into the model fit subset: rows with
// every selected column non-null. Returns the curated indices of scorable
// rows and the corresponding input matrix in FeatureColumns order.
func selectScorable(curated []domain.Observation) ([]int, [][]float64) {
	idx := make([]int, 0, len(curated))
	matrix := make([][]float64, 0, len(curated))

	for i := range curated {
		row := make([]float64, len(domain.FeatureColumns))
		ok := true
		for j, col := range domain.FeatureColumns {
			v := curated[i].Measurement(col)
			if v == nil {
				ok = false
				break
			}
			row[j] = *v
		}
		if ok {
			idx = append(idx, i)
			matrix = append(matrix, row)
		}
	}
	return idx, matrix
}

// buildRows emits one feature row per curated row in curated order. Scorable
// rows carry coordinates and a label from the same fitted model instance;
// the rest are unscored sentinels.
func (e *Engine) buildRows(curated []domain.Observation, scorableIdx []int, projected [][]float64, labels []int) []domain.FeatureRow {
	now := domain.Now()

	rows := make([]domain.FeatureRow, len(curated))
	for i := range curated {
		obs := &curated[i]
		rows[i] = domain.FeatureRow{
			StationID:    obs.StationID,
			TS:           obs.TS,
			ModelVersion: e.cfg.ModelVersion,
			FTempOut:     obs.TempOut,
			FOutHum:      obs.OutHum,
			FBar:         obs.Bar,
			FWindSpeed:   obs.WindSpeed,
			FRainRate:    obs.RainRate,
			FSolarRad:    obs.SolarRad,
			FUVIndex:     obs.UVIndex,
			ComputedAt:   now,
		}
	}

	for s, i := range scorableIdx {
		pc1, pc2, pc3 := projected[s][0], projected[s][1], projected[s][2]
		label := labels[s]
		rows[i].PC1, rows[i].PC2, rows[i].PC3 = &pc1, &pc2, &pc3
		rows[i].ClusterLabel = &label
	}
	return rows
}
