// Package preprocess turns raw ingested rows into typed, time-indexed curated
// observations. It is deterministic: re-running over identical raw input
// produces an identical curated table.
package preprocess

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bradfordwx/weatherlab/internal/config"
	"github.com/bradfordwx/weatherlab/internal/domain"
	"github.com/bradfordwx/weatherlab/internal/observability"
)

// RawSource yields all raw rows for the dataset, in ingest order.
type RawSource interface {
	LoadRaw(ctx context.Context) ([]domain.RawRow, error)
}

// CuratedSink atomically replaces the curated table.
type CuratedSink interface {
	ReplaceCurated(ctx context.Context, rows []domain.Observation) error
}

// Report summarizes one preprocessor run.
type Report struct {
	RawRows      int
	CuratedRows  int
	DroppedRows  int // missing station or timestamp
	Collisions   int // duplicate (station, ts) after normalization, keep-last
	CoercedNulls int // non-empty fields that failed numeric coercion
	Interpolated int // nulls filled by the interpolate policy
}

// Preprocessor reads raw rows and writes the curated table.
type Preprocessor struct {
	source  RawSource
	sink    CuratedSink
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
}

func New(source RawSource, sink CuratedSink, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Preprocessor {
	return &Preprocessor{source: source, sink: sink, cfg: cfg, logger: logger, metrics: metrics}
}

// Run consumes all raw rows and replaces the curated table. Rows without a
// station or timestamp are dropped and counted; duplicate (station, timestamp)
// pairs after normalization keep the last write. An empty or entirely
// malformed raw source aborts without touching the curated table.
func (p *Preprocessor) Run(ctx context.Context) (Report, error) {
	start := time.Now()

	raw, err := p.source.LoadRaw(ctx)
	if err != nil {
		p.metrics.StageFailures.WithLabelValues("preprocess").Inc()
		return Report{}, fmt.Errorf("preprocess: %w", err)
	}
	if len(raw) == 0 {
		p.metrics.StageFailures.WithLabelValues("preprocess").Inc()
		return Report{}, fmt.Errorf("preprocess: %w: raw table is empty, run ingest first", domain.ErrDataIntegrity)
	}

	report, curated := p.build(raw)
	if len(curated) == 0 {
		p.metrics.StageFailures.WithLabelValues("preprocess").Inc()
		return Report{}, fmt.Errorf("preprocess: %w: all %d raw rows malformed (%d dropped: missing station or timestamp)",
			domain.ErrDataIntegrity, report.RawRows, report.DroppedRows)
	}

	if p.cfg.MissingValuePolicy == config.PolicyInterpolate {
		report.Interpolated = interpolate(curated)
	}

	if err := p.sink.ReplaceCurated(ctx, curated); err != nil {
		p.metrics.StageFailures.WithLabelValues("preprocess").Inc()
		return Report{}, fmt.Errorf("preprocess: %w", err)
	}
	report.CuratedRows = len(curated)

	p.metrics.RawRowsRead.Add(float64(report.RawRows))
	p.metrics.CuratedRowsWritten.Add(float64(report.CuratedRows))
	p.metrics.RowsDropped.WithLabelValues("preprocess", "missing_key").Add(float64(report.DroppedRows))
	p.metrics.DuplicateCollisions.Add(float64(report.Collisions))
	p.metrics.CoercedNulls.Add(float64(report.CoercedNulls))
	p.metrics.StageDuration.WithLabelValues("preprocess").Observe(time.Since(start).Seconds())

	p.logger.Info("preprocess complete",
		"raw_rows", report.RawRows,
		"curated_rows", report.CuratedRows,
		"dropped_rows", report.DroppedRows,
		"duplicate_collisions", report.Collisions,
		"coerced_nulls", report.CoercedNulls,
		"interpolated", report.Interpolated,
		"policy", p.cfg.MissingValuePolicy,
	)
	return report, nil
}

type key struct {
	station string
	ts      time.Time
}

// build coerces raw rows into observations, normalizes timestamps, and
// resolves duplicates keep-last. Output is sorted by (station, ts).
func (p *Preprocessor) build(raw []domain.RawRow) (Report, []domain.Observation) {
	report := Report{RawRows: len(raw)}
	resolution := p.cfg.TruncateResolution()

	byKey := make(map[key]domain.Observation, len(raw))
	for _, row := range raw {
		if row.StationID == "" || row.TS.IsZero() {
			report.DroppedRows++
			continue
		}

		// updated_at carries the raw row's ingest time rather than the wall
		// clock, so re-running over unchanged raw input rewrites identical
		// bytes.
		obs := domain.Observation{
			StationID: row.StationID,
			TS:        row.TS.UTC().Truncate(resolution),
			UpdatedAt: row.IngestedAt.UTC(),
		}
		report.CoercedNulls += coerce(row.Payload, &obs)

		k := key{station: obs.StationID, ts: obs.TS}
		if _, dup := byKey[k]; dup {
			report.Collisions++ // keep last write
		}
		byKey[k] = obs
	}

	curated := make([]domain.Observation, 0, len(byKey))
	for _, obs := range byKey {
		curated = append(curated, obs)
	}
	sort.Slice(curated, func(a, b int) bool {
		if curated[a].StationID != curated[b].StationID {
			return curated[a].StationID < curated[b].StationID
		}
		return curated[a].TS.Before(curated[b].TS)
	})
	return report, curated
}

// coerce parses every mapped payload field into its curated column. Returns
// the number of non-empty fields that failed coercion and became null.
func coerce(payload map[string]string, obs *domain.Observation) int {
	failed := 0
	for csvCol, curatedCol := range domain.CSVToCurated {
		s, ok := payload[csvCol]
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" || s == "---" {
			continue // station sentinel or unlogged column: explicit null
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			failed++
			continue
		}
		obs.SetMeasurement(curatedCol, &v)
	}
	return failed
}

// interpolate fills null measurements with per-station linear interpolation
// over row order, extending the first and last known values to the edges.
// Columns that are entirely null within a station stay null. Returns the
// number of filled values.
func interpolate(rows []domain.Observation) int {
	filled := 0
	for start := 0; start < len(rows); {
		end := start
		for end < len(rows) && rows[end].StationID == rows[start].StationID {
			end++
		}
		for _, col := range domain.MeasurementColumns {
			filled += interpolateColumn(rows[start:end], col)
		}
		start = end
	}
	return filled
}

func interpolateColumn(rows []domain.Observation, col string) int {
	known := make([]int, 0, len(rows))
	for i := range rows {
		if rows[i].Measurement(col) != nil {
			known = append(known, i)
		}
	}
	if len(known) == 0 || len(known) == len(rows) {
		return 0
	}

	filled := 0
	set := func(i int, v float64) {
		val := v
		rows[i].SetMeasurement(col, &val)
		filled++
	}

	// Edges take the nearest known value.
	first, last := known[0], known[len(known)-1]
	for i := 0; i < first; i++ {
		set(i, *rows[first].Measurement(col))
	}
	for i := last + 1; i < len(rows); i++ {
		set(i, *rows[last].Measurement(col))
	}

	// Interior gaps are linear over row position.
	for g := 0; g+1 < len(known); g++ {
		lo, hi := known[g], known[g+1]
		if hi-lo < 2 {
			continue
		}
		vLo, vHi := *rows[lo].Measurement(col), *rows[hi].Measurement(col)
		step := (vHi - vLo) / float64(hi-lo)
		for i := lo + 1; i < hi; i++ {
			set(i, vLo+step*float64(i-lo))
		}
	}
	return filled
}
