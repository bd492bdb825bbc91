//go:build integration

package integration_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bradfordwx/weatherlab/internal/analytics"
	"github.com/bradfordwx/weatherlab/internal/config"
	"github.com/bradfordwx/weatherlab/internal/domain"
	"github.com/bradfordwx/weatherlab/internal/export"
	"github.com/bradfordwx/weatherlab/internal/ingest"
	"github.com/bradfordwx/weatherlab/internal/observability"
	"github.com/bradfordwx/weatherlab/internal/preprocess"
	"github.com/bradfordwx/weatherlab/internal/store/postgres"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startPostgres launches a throwaway postgres container and returns a
// connected store with the schema applied.
func startPostgres(ctx context.Context, t *testing.T) *postgres.Store {
	t.Helper()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("weather"),
		tcpostgres.WithUsername("weather"),
		tcpostgres.WithPassword("weather"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	url, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := postgres.New(ctx, url, discardLogger())
	require.NoError(t, err)
	t.Cleanup(store.Close)

	require.NoError(t, store.InitSchema(ctx))
	return store
}

// writeArchiveCSV writes a synthetic month of minute observations in the
// station archive export format, including two unparseable timestamps.
func writeArchiveCSV(t *testing.T, rows int) string {
	t.Helper()

	var b strings.Builder
	b.WriteString("Date,Time,Temp_Out,Out_Hum,Bar  ,Wind_Speed,Rain_Rate,Solar_Rad,UV_Index\n")
	base := time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < rows; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		if i == 13 || i == 77 {
			b.WriteString("not-a-date,99:99,12.0,80,1013.0,3.0,0.0,100,1\n")
			continue
		}
		hour := float64(ts.Hour()) + float64(ts.Minute())/60
		day := math.Sin((hour - 9) * math.Pi / 12)
		sun := math.Max(0, math.Sin((hour-6)*math.Pi/12))
		fmt.Fprintf(&b, "%s,%s,%.1f,%.0f,%.1f,%.1f,%.2f,%.0f,%.1f\n",
			ts.Format("02/01/2006"), ts.Format("15:04"),
			12+6*day, 80-15*day, 1013+day,
			2+2*math.Abs(day), 0.0, 400*sun, 4*sun)
	}

	path := filepath.Join(t.TempDir(), "weather.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func TestPipelineEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	store := startPostgres(ctx, t)
	metrics := observability.NewMetricsForTesting()
	logger := discardLogger()

	cfg := &config.Config{
		CSVPath:            writeArchiveCSV(t, 500),
		DateColumn:         "Date",
		TimeColumn:         "Time",
		DayFirst:           true,
		StationID:          "bradford",
		Resolution:         config.ResolutionMinute,
		MissingValuePolicy: config.PolicyKeep,
		KMeansK:            4,
		KMeansMaxIter:      300,
		Seed:               42,
		ModelVersion:       "pca3_kmeans_v1",
		ExportDir:          t.TempDir(),
	}

	// Ingest.
	ingReport, err := ingest.New(store, cfg, logger, metrics).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 500, ingReport.RowsRead)
	assert.Equal(t, 498, ingReport.RowsUpserted)
	assert.Equal(t, 2, ingReport.DroppedTS)

	// Ingest is idempotent: a second run upserts the same keys.
	ingReport2, err := ingest.New(store, cfg, logger, metrics).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ingReport.RowsUpserted, ingReport2.RowsUpserted)
	raw, err := store.LoadRaw(ctx)
	require.NoError(t, err)
	assert.Len(t, raw, 498)

	// Preprocess.
	ppReport, err := preprocess.New(store, store, cfg, logger, metrics).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 498, ppReport.CuratedRows)

	curated, err := store.LoadCurated(ctx)
	require.NoError(t, err)
	require.Len(t, curated, 498)
	for i := 1; i < len(curated); i++ {
		assert.True(t, curated[i-1].TS.Before(curated[i].TS), "curated rows ordered by ts")
	}

	// Preprocess is idempotent: re-running over unchanged raw input rewrites
	// the same rows, timestamps included.
	_, err = preprocess.New(store, store, cfg, logger, metrics).Run(ctx)
	require.NoError(t, err)
	curated2, err := store.LoadCurated(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(curated, curated2); diff != "" {
		t.Errorf("curated table changed across identical preprocess runs (-first +second):\n%s", diff)
	}

	// Compute features.
	engReport, err := analytics.New(store, store, cfg, logger, metrics).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 498, engReport.CuratedRows)
	assert.Equal(t, 498, engReport.ScoredRows)

	features, err := store.LoadFeatures(ctx, cfg.ModelVersion, nil, nil)
	require.NoError(t, err)
	require.Len(t, features, 498, "one feature row per curated row")
	for i := range features {
		require.True(t, features[i].Scored())
		assert.GreaterOrEqual(t, *features[i].ClusterLabel, 0)
		assert.Less(t, *features[i].ClusterLabel, cfg.KMeansK)
	}

	summary, err := store.ClusterSummary(ctx, cfg.ModelVersion)
	require.NoError(t, err)
	total := 0
	for _, c := range summary {
		assert.GreaterOrEqual(t, c.Label, 0)
		assert.Less(t, c.Label, cfg.KMeansK)
		total += c.Rows
	}
	assert.Equal(t, 498, total)

	// Export.
	exReport, err := export.New(store, cfg, logger, metrics).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 498, exReport.Rows)

	vecs := fileLines(t, exReport.VectorsPath)
	meta := fileLines(t, exReport.MetadataPath)
	assert.Len(t, vecs, 498)
	assert.Len(t, meta, 499)
}

func TestReplaceSemantics(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	store := startPostgres(ctx, t)
	base := time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)

	obs := func(minute int, temp float64) domain.Observation {
		return domain.Observation{
			StationID: "bradford",
			TS:        base.Add(time.Duration(minute) * time.Minute),
			TempOut:   &temp,
			UpdatedAt: time.Now().UTC(),
		}
	}
	feat := func(minute int, version string) domain.FeatureRow {
		pc := 1.0
		label := 0
		return domain.FeatureRow{
			StationID:    "bradford",
			TS:           base.Add(time.Duration(minute) * time.Minute),
			ModelVersion: version,
			PC1:          &pc, PC2: &pc, PC3: &pc,
			ClusterLabel: &label,
			ComputedAt:   time.Now().UTC(),
		}
	}

	require.NoError(t, store.ReplaceCurated(ctx, []domain.Observation{obs(0, 10), obs(1, 11), obs(2, 12)}))
	require.NoError(t, store.ReplaceFeatures(ctx, "v1", []domain.FeatureRow{feat(0, "v1"), feat(1, "v1")}))
	require.NoError(t, store.ReplaceFeatures(ctx, "v2", []domain.FeatureRow{feat(2, "v2")}))

	t.Run("features replace is scoped to the model version", func(t *testing.T) {
		require.NoError(t, store.ReplaceFeatures(ctx, "v1", []domain.FeatureRow{feat(2, "v1")}))

		v1, err := store.LoadFeatures(ctx, "v1", nil, nil)
		require.NoError(t, err)
		assert.Len(t, v1, 1)

		v2, err := store.LoadFeatures(ctx, "v2", nil, nil)
		require.NoError(t, err)
		assert.Len(t, v2, 1, "other versions untouched")
	})

	t.Run("curated replace cascades to features", func(t *testing.T) {
		require.NoError(t, store.ReplaceCurated(ctx, []domain.Observation{obs(10, 20)}))

		v1, err := store.LoadFeatures(ctx, "v1", nil, nil)
		require.NoError(t, err)
		assert.Empty(t, v1, "stale features must not survive a curated rebuild")
	})

	t.Run("model versions lists survivors", func(t *testing.T) {
		versions, err := store.ModelVersions(ctx)
		require.NoError(t, err)
		assert.Empty(t, versions)
	})
}

func TestCuratedRange(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	store := startPostgres(ctx, t)
	base := time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)

	rows := make([]domain.Observation, 10)
	for i := range rows {
		rows[i] = domain.Observation{
			StationID: "bradford",
			TS:        base.Add(time.Duration(i) * time.Hour),
			UpdatedAt: time.Now().UTC(),
		}
	}
	require.NoError(t, store.ReplaceCurated(ctx, rows))

	from := base.Add(2 * time.Hour)
	to := base.Add(5 * time.Hour)
	got, err := store.LoadCuratedRange(ctx, &from, &to)
	require.NoError(t, err)
	assert.Len(t, got, 4, "range bounds are inclusive")

	all, err := store.LoadCuratedRange(ctx, nil, nil)
	require.NoError(t, err)
	assert.Len(t, all, 10)
}

func fileLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}
