// Package postgres implements the relational store behind every pipeline
// stage. All replace operations run as single transactions so a stage aborted
// mid-run leaves the previous committed state intact.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bradfordwx/weatherlab/internal/domain"
)

// Store is a pgx-backed implementation of every stage's source and sink
// interfaces.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New connects to the database and verifies connectivity.
func New(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, wrap("connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, wrap("ping", err)
	}
	return &Store{pool: pool, logger: logger}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies store connectivity, used by the dashboard readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return wrap("ping", err)
	}
	return nil
}

// InitSchema creates the pipeline tables and indexes idempotently.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return wrap("init schema", err)
	}
	s.logger.Info("schema initialised")
	return nil
}

// UpsertRaw writes ingested rows in one transaction, replacing payloads for
// existing (station, ts) keys.
func (s *Store) UpsertRaw(ctx context.Context, rows []domain.RawRow) error {
	return s.inTx(ctx, "upsert raw", func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for i := range rows {
			payload, err := json.Marshal(rows[i].Payload)
			if err != nil {
				return fmt.Errorf("marshal payload: %w", err)
			}
			batch.Queue(`
				INSERT INTO weather_raw (station_id, ts, payload, source_file, ingested_at)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (station_id, ts) DO UPDATE SET
				    payload = EXCLUDED.payload,
				    source_file = EXCLUDED.source_file,
				    ingested_at = EXCLUDED.ingested_at`,
				rows[i].StationID, rows[i].TS.UTC(), payload, rows[i].SourceFile, rows[i].IngestedAt.UTC())
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

// LoadRaw returns all raw rows ordered by (station, ts).
func (s *Store) LoadRaw(ctx context.Context) ([]domain.RawRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT station_id, ts, payload, COALESCE(source_file, ''), ingested_at
		FROM weather_raw
		ORDER BY station_id, ts`)
	if err != nil {
		return nil, wrap("load raw", err)
	}
	defer rows.Close()

	var out []domain.RawRow
	for rows.Next() {
		var r domain.RawRow
		var payload []byte
		if err := rows.Scan(&r.StationID, &r.TS, &payload, &r.SourceFile, &r.IngestedAt); err != nil {
			return nil, wrap("load raw", err)
		}
		if err := json.Unmarshal(payload, &r.Payload); err != nil {
			return nil, wrap("load raw", fmt.Errorf("decode payload for %s/%s: %w", r.StationID, r.TS, err))
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("load raw", err)
	}
	return out, nil
}

// curatedColumns is the insert column list for weather_curated, matching the
// field order of curatedValues.
var curatedColumns = []string{
	"station_id", "ts",
	"temp_out", "hi_temp", "low_temp", "dew_pt", "wind_chill", "heat_index",
	"out_hum",
	"wind_speed", "wind_dir", "hi_speed",
	"bar",
	"rain", "rain_rate",
	"solar_rad", "uv_index",
	"updated_at",
}

func curatedValues(o *domain.Observation) []any {
	return []any{
		o.StationID, o.TS.UTC(),
		o.TempOut, o.HiTemp, o.LowTemp, o.DewPt, o.WindChill, o.HeatIndex,
		o.OutHum,
		o.WindSpeed, o.WindDir, o.HiSpeed,
		o.Bar,
		o.Rain, o.RainRate,
		o.SolarRad, o.UVIndex,
		o.UpdatedAt.UTC(),
	}
}

// ReplaceCurated replaces the full curated table in one transaction. The
// delete cascades into weather_features, which is correct: derived rows are
// invalid once their curated inputs are replaced.
func (s *Store) ReplaceCurated(ctx context.Context, rows []domain.Observation) error {
	return s.inTx(ctx, "replace curated", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM weather_curated`); err != nil {
			return err
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"weather_curated"},
			curatedColumns,
			pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
				return curatedValues(&rows[i]), nil
			}),
		)
		return err
	})
}

// CuratedColumns lists the columns present on the curated table, used by the
// feature engine's pre-flight schema check.
func (s *Store) CuratedColumns(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_name = 'weather_curated'
		ORDER BY ordinal_position`)
	if err != nil {
		return nil, wrap("curated columns", err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, wrap("curated columns", err)
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("curated columns", err)
	}
	return cols, nil
}

const curatedSelect = `
	SELECT station_id, ts,
	       temp_out, hi_temp, low_temp, dew_pt, wind_chill, heat_index,
	       out_hum,
	       wind_speed, wind_dir, hi_speed,
	       bar,
	       rain, rain_rate,
	       solar_rad, uv_index,
	       updated_at
	FROM weather_curated`

func scanObservation(rows pgx.Rows) (domain.Observation, error) {
	var o domain.Observation
	err := rows.Scan(&o.StationID, &o.TS,
		&o.TempOut, &o.HiTemp, &o.LowTemp, &o.DewPt, &o.WindChill, &o.HeatIndex,
		&o.OutHum,
		&o.WindSpeed, &o.WindDir, &o.HiSpeed,
		&o.Bar,
		&o.Rain, &o.RainRate,
		&o.SolarRad, &o.UVIndex,
		&o.UpdatedAt)
	return o, err
}

// LoadCurated returns all curated rows ordered by (station, ts).
func (s *Store) LoadCurated(ctx context.Context) ([]domain.Observation, error) {
	return s.queryCurated(ctx, curatedSelect+` ORDER BY station_id, ts`)
}

// LoadCuratedRange returns curated rows in [from, to], nil bounds meaning
// unbounded. Used by the dashboard.
func (s *Store) LoadCuratedRange(ctx context.Context, from, to *time.Time) ([]domain.Observation, error) {
	q := curatedSelect + ` WHERE ($1::timestamptz IS NULL OR ts >= $1)
	                         AND ($2::timestamptz IS NULL OR ts <= $2)
	                       ORDER BY station_id, ts`
	return s.queryCurated(ctx, q, from, to)
}

func (s *Store) queryCurated(ctx context.Context, q string, args ...any) ([]domain.Observation, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, wrap("load curated", err)
	}
	defer rows.Close()

	var out []domain.Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, wrap("load curated", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("load curated", err)
	}
	return out, nil
}

// featureColumns is the insert column list for weather_features, matching
// the field order of featureValues.
var featureColumns = []string{
	"station_id", "ts", "model_version",
	"f_temp_out", "f_out_hum", "f_bar", "f_wind_speed", "f_rain_rate", "f_solar_rad", "f_uv_index",
	"pc1", "pc2", "pc3",
	"cluster_label",
	"computed_at",
}

func featureValues(f *domain.FeatureRow) []any {
	return []any{
		f.StationID, f.TS.UTC(), f.ModelVersion,
		f.FTempOut, f.FOutHum, f.FBar, f.FWindSpeed, f.FRainRate, f.FSolarRad, f.FUVIndex,
		f.PC1, f.PC2, f.PC3,
		f.ClusterLabel,
		f.ComputedAt.UTC(),
	}
}

// ReplaceFeatures atomically replaces all feature rows under one model
// version: delete-then-insert in a single transaction so readers never see a
// mixed old/new feature set. Other model versions are untouched.
func (s *Store) ReplaceFeatures(ctx context.Context, modelVersion string, rows []domain.FeatureRow) error {
	return s.inTx(ctx, "replace features", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM weather_features WHERE model_version = $1`, modelVersion); err != nil {
			return err
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"weather_features"},
			featureColumns,
			pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
				return featureValues(&rows[i]), nil
			}),
		)
		return err
	})
}

const featureSelect = `
	SELECT station_id, ts, model_version,
	       f_temp_out, f_out_hum, f_bar, f_wind_speed, f_rain_rate, f_solar_rad, f_uv_index,
	       pc1, pc2, pc3,
	       cluster_label,
	       computed_at
	FROM weather_features`

func scanFeature(rows pgx.Rows) (domain.FeatureRow, error) {
	var f domain.FeatureRow
	err := rows.Scan(&f.StationID, &f.TS, &f.ModelVersion,
		&f.FTempOut, &f.FOutHum, &f.FBar, &f.FWindSpeed, &f.FRainRate, &f.FSolarRad, &f.FUVIndex,
		&f.PC1, &f.PC2, &f.PC3,
		&f.ClusterLabel,
		&f.ComputedAt)
	return f, err
}

// LoadScoredFeatures returns all scored rows for the model version from one
// repeatable-read snapshot, ordered by (station, ts). A concurrent replace
// cannot produce a torn read.
func (s *Store) LoadScoredFeatures(ctx context.Context, modelVersion string) ([]domain.FeatureRow, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, wrap("load scored features", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only rollback

	rows, err := tx.Query(ctx, featureSelect+`
		WHERE model_version = $1
		  AND pc1 IS NOT NULL AND pc2 IS NOT NULL AND pc3 IS NOT NULL
		  AND cluster_label IS NOT NULL
		ORDER BY station_id, ts`, modelVersion)
	if err != nil {
		return nil, wrap("load scored features", err)
	}
	out, err := collectFeatures(rows)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, wrap("load scored features", err)
	}
	return out, nil
}

// LoadFeatures returns all feature rows (scored and sentinel) for the model
// version within [from, to], nil bounds meaning unbounded. Used by the
// dashboard.
func (s *Store) LoadFeatures(ctx context.Context, modelVersion string, from, to *time.Time) ([]domain.FeatureRow, error) {
	rows, err := s.pool.Query(ctx, featureSelect+`
		WHERE model_version = $1
		  AND ($2::timestamptz IS NULL OR ts >= $2)
		  AND ($3::timestamptz IS NULL OR ts <= $3)
		ORDER BY station_id, ts`, modelVersion, from, to)
	if err != nil {
		return nil, wrap("load features", err)
	}
	return collectFeatures(rows)
}

func collectFeatures(rows pgx.Rows) ([]domain.FeatureRow, error) {
	defer rows.Close()
	var out []domain.FeatureRow
	for rows.Next() {
		f, err := scanFeature(rows)
		if err != nil {
			return nil, wrap("scan feature", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("load features", err)
	}
	return out, nil
}

// ClusterSummary returns per-label row counts for a model version.
func (s *Store) ClusterSummary(ctx context.Context, modelVersion string) ([]domain.ClusterCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT cluster_label, count(*)
		FROM weather_features
		WHERE model_version = $1 AND cluster_label IS NOT NULL
		GROUP BY cluster_label
		ORDER BY cluster_label`, modelVersion)
	if err != nil {
		return nil, wrap("cluster summary", err)
	}
	defer rows.Close()

	var out []domain.ClusterCount
	for rows.Next() {
		var c domain.ClusterCount
		if err := rows.Scan(&c.Label, &c.Rows); err != nil {
			return nil, wrap("cluster summary", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("cluster summary", err)
	}
	return out, nil
}

// ModelVersions lists the model versions present in the features table.
func (s *Store) ModelVersions(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT model_version FROM weather_features ORDER BY model_version`)
	if err != nil {
		return nil, wrap("model versions", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, wrap("model versions", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("model versions", err)
	}
	return out, nil
}

// inTx runs fn inside a transaction, rolling back on any error so a failed
// replace never leaves a partial write visible.
func (s *Store) inTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrap(op, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return wrap(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return wrap(op, err)
	}
	return nil
}

func wrap(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(domain.ErrStore, err))
}
