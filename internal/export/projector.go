// Package export serializes scored feature rows into the tab-separated
// vector and metadata artifacts consumed by the TensorFlow Embedding
// Projector (https://projector.tensorflow.org/).
package export

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bradfordwx/weatherlab/internal/config"
	"github.com/bradfordwx/weatherlab/internal/domain"
	"github.com/bradfordwx/weatherlab/internal/observability"
)

// Artifact filenames inside the export directory.
const (
	VectorsFile  = "vecs.tsv"
	MetadataFile = "meta.tsv"
)

// metaHeader is the meta.tsv header line. Field order matches writeMeta.
var metaHeader = []string{
	"station_id", "ts", "cluster_label", "model_version",
	"f_temp_out", "f_out_hum", "f_bar", "f_wind_speed", "f_rain_rate", "f_solar_rad", "f_uv_index",
}

// FeatureSource reads scored feature rows under one consistent snapshot, so
// vectors and metadata cannot disagree in row count. Implemented by the
// postgres store.
type FeatureSource interface {
	// LoadScoredFeatures returns all scored rows for the model version,
	// ordered by (station, ts). Unscored sentinels are excluded.
	LoadScoredFeatures(ctx context.Context, modelVersion string) ([]domain.FeatureRow, error)
}

// Report summarizes one export run.
type Report struct {
	Rows         int
	VectorsPath  string
	MetadataPath string
}

// Exporter writes the projector artifacts for a model version.
type Exporter struct {
	source  FeatureSource
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
}

func New(source FeatureSource, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Exporter {
	return &Exporter{source: source, cfg: cfg, logger: logger, metrics: metrics}
}

// Run reads all scored rows for the configured model version from one
// snapshot and writes vecs.tsv (N lines, 3 tab-separated floats, no header)
// and meta.tsv (header + N aligned lines). Zero scored rows aborts without
// writing files.
func (e *Exporter) Run(ctx context.Context) (Report, error) {
	start := time.Now()

	rows, err := e.source.LoadScoredFeatures(ctx, e.cfg.ModelVersion)
	if err != nil {
		e.metrics.StageFailures.WithLabelValues("export").Inc()
		return Report{}, fmt.Errorf("export: %w", err)
	}
	if len(rows) == 0 {
		e.metrics.StageFailures.WithLabelValues("export").Inc()
		return Report{}, fmt.Errorf("export: %w: no scored feature rows for model version %q, run compute-features first",
			domain.ErrDataIntegrity, e.cfg.ModelVersion)
	}

	if err := os.MkdirAll(e.cfg.ExportDir, 0o755); err != nil {
		return Report{}, fmt.Errorf("export: create output dir: %w", err)
	}

	report := Report{
		Rows:         len(rows),
		VectorsPath:  filepath.Join(e.cfg.ExportDir, VectorsFile),
		MetadataPath: filepath.Join(e.cfg.ExportDir, MetadataFile),
	}

	// Both artifacts are written to temp files and renamed in only after both
	// succeed, so a failed run never leaves a misaligned pair behind.
	vecsTmp := report.VectorsPath + ".tmp"
	metaTmp := report.MetadataPath + ".tmp"
	if err := writeLines(vecsTmp, nil, rows, writeVector); err != nil {
		os.Remove(vecsTmp)
		return Report{}, fmt.Errorf("export: %w", err)
	}
	if err := writeLines(metaTmp, metaHeader, rows, writeMeta); err != nil {
		os.Remove(vecsTmp)
		os.Remove(metaTmp)
		return Report{}, fmt.Errorf("export: %w", err)
	}
	if err := os.Rename(vecsTmp, report.VectorsPath); err != nil {
		os.Remove(vecsTmp)
		os.Remove(metaTmp)
		return Report{}, fmt.Errorf("export: %w", err)
	}
	if err := os.Rename(metaTmp, report.MetadataPath); err != nil {
		os.Remove(metaTmp)
		return Report{}, fmt.Errorf("export: %w", err)
	}

	e.metrics.VectorsExported.Add(float64(report.Rows))
	e.metrics.StageDuration.WithLabelValues("export").Observe(time.Since(start).Seconds())

	e.logger.Info("export complete",
		"model_version", e.cfg.ModelVersion,
		"rows", report.Rows,
		"vectors", report.VectorsPath,
		"metadata", report.MetadataPath,
	)
	return report, nil
}

type lineWriter func(w *bufio.Writer, row *domain.FeatureRow) error

func writeLines(path string, header []string, rows []domain.FeatureRow, write lineWriter) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)

	if len(header) > 0 {
		if _, err := fmt.Fprintln(w, strings.Join(header, "\t")); err != nil {
			f.Close()
			return err
		}
	}

	for i := range rows {
		if err := write(w, &rows[i]); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeVector(w *bufio.Writer, row *domain.FeatureRow) error {
	_, err := fmt.Fprintf(w, "%s\t%s\t%s\n",
		formatFloat(*row.PC1), formatFloat(*row.PC2), formatFloat(*row.PC3))
	return err
}

func writeMeta(w *bufio.Writer, row *domain.FeatureRow) error {
	fields := []string{
		row.StationID,
		row.TS.UTC().Format(time.RFC3339),
		strconv.Itoa(*row.ClusterLabel),
		row.ModelVersion,
		formatNullable(row.FTempOut),
		formatNullable(row.FOutHum),
		formatNullable(row.FBar),
		formatNullable(row.FWindSpeed),
		formatNullable(row.FRainRate),
		formatNullable(row.FSolarRad),
		formatNullable(row.FUVIndex),
	}
	_, err := fmt.Fprintln(w, strings.Join(fields, "\t"))
	return err
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatNullable(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}
