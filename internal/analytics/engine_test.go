package analytics

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bradfordwx/weatherlab/internal/config"
	"github.com/bradfordwx/weatherlab/internal/domain"
	"github.com/bradfordwx/weatherlab/internal/observability"
)

type curatedSourceMock struct {
	columns []string
	rows    []domain.Observation
	err     error
}

func (m *curatedSourceMock) CuratedColumns(context.Context) ([]string, error) {
	if m.columns != nil {
		return m.columns, m.err
	}
	return append([]string{"station_id", "ts"}, domain.MeasurementColumns...), m.err
}

func (m *curatedSourceMock) LoadCurated(context.Context) ([]domain.Observation, error) {
	return m.rows, m.err
}

type featureSinkMock struct {
	modelVersion string
	rows         []domain.FeatureRow
	calls        int
	err          error
}

func (m *featureSinkMock) ReplaceFeatures(_ context.Context, modelVersion string, rows []domain.FeatureRow) error {
	if m.err != nil {
		return m.err
	}
	m.calls++
	m.modelVersion = modelVersion
	m.rows = rows
	return nil
}

func engineConfig(k int) *config.Config {
	return &config.Config{
		KMeansK:       k,
		KMeansMaxIter: 300,
		Seed:          42,
		ModelVersion:  "pca3_kmeans_v1",
	}
}

func fixedClock(t *testing.T) clockwork.Clock {
	t.Helper()
	t.Cleanup(func() { domain.SetClock(nil) })
	return clockwork.NewFakeClockAt(time.Date(2024, 11, 14, 12, 0, 0, 0, time.UTC))
}

func newEngine(source CuratedSource, sink FeatureSink, cfg *config.Config) *Engine {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(source, sink, cfg, logger, observability.NewMetricsForTesting())
}

// curatedRows builds n fully-populated observations with plausible diurnal
// structure so the model has real variance to work with.
func curatedRows(n int, seed int64) []domain.Observation {
	rng := rand.New(rand.NewSource(seed))
	base := time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)

	rows := make([]domain.Observation, n)
	for i := range rows {
		hour := float64(i%1440) / 60.0
		set := func(v float64) *float64 { return &v }
		rows[i] = domain.Observation{
			StationID: "bradford",
			TS:        base.Add(time.Duration(i) * time.Minute),
			TempOut:   set(12 + 6*math.Sin((hour-9)*math.Pi/12) + rng.NormFloat64()*0.5),
			OutHum:    set(80 - 15*math.Sin((hour-9)*math.Pi/12) + rng.NormFloat64()*2),
			Bar:       set(1013 + rng.NormFloat64()*3),
			WindSpeed: set(math.Abs(rng.NormFloat64() * 4)),
			RainRate:  set(math.Max(0, rng.NormFloat64()*0.2)),
			SolarRad:  set(math.Max(0, 400*math.Sin((hour-6)*math.Pi/12)) + math.Abs(rng.NormFloat64()*10)),
			UVIndex:   set(math.Max(0, 4*math.Sin((hour-6)*math.Pi/12))),
		}
	}
	return rows
}

func TestRun_ScoresAllCompleteRows(t *testing.T) {
	source := &curatedSourceMock{rows: curatedRows(500, 1)}
	sink := &featureSinkMock{}
	eng := newEngine(source, sink, engineConfig(4))

	report, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 500, report.CuratedRows)
	assert.Equal(t, 500, report.ScoredRows)
	assert.Equal(t, 0, report.UnscoredRows)
	assert.Equal(t, "pca3_kmeans_v1", sink.modelVersion)
	require.Len(t, sink.rows, 500)

	for i, row := range sink.rows {
		require.True(t, row.Scored(), "row %d", i)
		assert.GreaterOrEqual(t, *row.ClusterLabel, 0, "row %d", i)
		assert.Less(t, *row.ClusterLabel, 4, "row %d", i)
		for _, pc := range []*float64{row.PC1, row.PC2, row.PC3} {
			assert.False(t, math.IsNaN(*pc) || math.IsInf(*pc, 0), "row %d", i)
		}
		assert.Equal(t, "pca3_kmeans_v1", row.ModelVersion)
	}

	require.Len(t, report.VarianceRatio, 3)
	for i := 1; i < len(report.VarianceRatio); i++ {
		assert.LessOrEqual(t, report.VarianceRatio[i], report.VarianceRatio[i-1])
	}
}

func TestRun_NullInputsGetSentinelRows(t *testing.T) {
	rows := curatedRows(50, 2)
	rows[7].Bar = nil
	rows[23].UVIndex = nil
	source := &curatedSourceMock{rows: rows}
	sink := &featureSinkMock{}
	eng := newEngine(source, sink, engineConfig(4))

	report, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 48, report.ScoredRows)
	assert.Equal(t, 2, report.UnscoredRows)
	require.Len(t, sink.rows, 50, "one feature row per curated row")

	for _, i := range []int{7, 23} {
		row := sink.rows[i]
		assert.False(t, row.Scored())
		assert.Nil(t, row.PC1)
		assert.Nil(t, row.ClusterLabel)
		// Echo columns still carry whatever the curated row had.
		assert.NotNil(t, row.FTempOut)
	}
	assert.True(t, sink.rows[8].Scored())
}

func TestRun_InsufficientData(t *testing.T) {
	rows := curatedRows(10, 3)
	for i := 0; i < 7; i++ {
		rows[i].TempOut = nil
	}
	source := &curatedSourceMock{rows: rows}
	sink := &featureSinkMock{}
	eng := newEngine(source, sink, engineConfig(4))

	_, err := eng.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
	assert.Contains(t, err.Error(), "3 scorable rows for K=4")
	assert.Zero(t, sink.calls, "nothing may be written")
}

func TestRun_EmptyCurated(t *testing.T) {
	sink := &featureSinkMock{}
	eng := newEngine(&curatedSourceMock{}, sink, engineConfig(4))

	_, err := eng.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDataIntegrity)
	assert.Zero(t, sink.calls)
}

func TestRun_SchemaMismatch(t *testing.T) {
	source := &curatedSourceMock{
		columns: []string{"station_id", "ts", "temp_out", "out_hum"},
		rows:    curatedRows(10, 4),
	}
	sink := &featureSinkMock{}
	eng := newEngine(source, sink, engineConfig(4))

	_, err := eng.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSchemaMismatch)
	assert.Contains(t, err.Error(), "bar")
	assert.Zero(t, sink.calls)
}

func TestRun_Deterministic(t *testing.T) {
	domain.SetClock(fixedClock(t))
	rows := curatedRows(200, 5)

	run := func() []domain.FeatureRow {
		sink := &featureSinkMock{}
		eng := newEngine(&curatedSourceMock{rows: rows}, sink, engineConfig(4))
		_, err := eng.Run(context.Background())
		require.NoError(t, err)
		return sink.rows
	}

	// PCA sign and label numbering are stable within a process for
	// identical input and seed, so full output equality holds.
	if diff := cmp.Diff(run(), run()); diff != "" {
		t.Errorf("feature rows differ between identical runs (-first +second):\n%s", diff)
	}
}

func TestRun_KEqualsScorableCount(t *testing.T) {
	source := &curatedSourceMock{rows: curatedRows(4, 6)}
	sink := &featureSinkMock{}
	eng := newEngine(source, sink, engineConfig(4))

	report, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, report.ScoredRows)
}

// K smaller than the component count must not admit a table too small for
// the projection to fit.
func TestRun_FewerRowsThanComponents(t *testing.T) {
	for _, tc := range []struct {
		name string
		rows int
		k    int
	}{
		{"two rows K=2", 2, 2},
		{"one row K=1", 1, 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			source := &curatedSourceMock{rows: curatedRows(tc.rows, 7)}
			sink := &featureSinkMock{}
			eng := newEngine(source, sink, engineConfig(tc.k))

			_, err := eng.Run(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInsufficientData)
			assert.Zero(t, sink.calls)
		})
	}
}

func TestRun_ScorableCountEqualsComponents(t *testing.T) {
	source := &curatedSourceMock{rows: curatedRows(3, 8)}
	sink := &featureSinkMock{}
	eng := newEngine(source, sink, engineConfig(2))

	report, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.ScoredRows)
}
