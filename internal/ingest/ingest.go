// Package ingest bulk-loads station archive CSV exports into the raw table.
// Each CSV row becomes one raw row: a UTC timestamp built from the Date and
// Time columns plus the full original row as a JSON payload for lineage.
package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/bradfordwx/weatherlab/internal/config"
	"github.com/bradfordwx/weatherlab/internal/domain"
	"github.com/bradfordwx/weatherlab/internal/observability"
)

// RawSink receives ingested rows. Implemented by the postgres store.
type RawSink interface {
	UpsertRaw(ctx context.Context, rows []domain.RawRow) error
}

// Report summarizes one ingest run.
type Report struct {
	RowsRead     int
	RowsUpserted int
	DroppedTS    int // rows with a missing or unparseable timestamp
	Collisions   int // duplicate timestamps resolved keep-last
}

// Ingestor reads a station archive CSV and upserts raw rows.
type Ingestor struct {
	sink    RawSink
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
}

func New(sink RawSink, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Ingestor {
	return &Ingestor{sink: sink, cfg: cfg, logger: logger, metrics: metrics}
}

// Run reads the configured CSV and upserts its rows into the raw table.
// Rows without a parseable timestamp are dropped and counted; duplicate
// timestamps keep the last occurrence. An input that yields zero loadable
// rows fails without writing.
func (i *Ingestor) Run(ctx context.Context) (Report, error) {
	start := time.Now()

	f, err := os.Open(i.cfg.CSVPath)
	if err != nil {
		return Report{}, fmt.Errorf("ingest: open csv: %w", err)
	}
	defer f.Close()

	report, rows, err := i.parse(f)
	if err != nil {
		return Report{}, err
	}
	if len(rows) == 0 {
		return Report{}, fmt.Errorf("ingest: %w: no loadable rows in %s (%d read, %d dropped: missing timestamp)",
			domain.ErrDataIntegrity, i.cfg.CSVPath, report.RowsRead, report.DroppedTS)
	}

	if err := i.sink.UpsertRaw(ctx, rows); err != nil {
		i.metrics.StageFailures.WithLabelValues("ingest").Inc()
		return Report{}, fmt.Errorf("ingest: %w", err)
	}
	report.RowsUpserted = len(rows)

	i.metrics.RawRowsIngested.Add(float64(report.RowsUpserted))
	i.metrics.RowsDropped.WithLabelValues("ingest", "missing_timestamp").Add(float64(report.DroppedTS))
	i.metrics.StageDuration.WithLabelValues("ingest").Observe(time.Since(start).Seconds())

	i.logger.Info("ingest complete",
		"rows_read", report.RowsRead,
		"rows_upserted", report.RowsUpserted,
		"dropped_missing_timestamp", report.DroppedTS,
		"duplicate_collisions", report.Collisions,
	)
	return report, nil
}

func (i *Ingestor) parse(r io.Reader) (Report, []domain.RawRow, error) {
	var report Report

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // archive exports occasionally pad short rows

	header, err := cr.Read()
	if err != nil {
		return report, nil, fmt.Errorf("ingest: %w: read csv header: %v", domain.ErrDataIntegrity, err)
	}
	for j := range header {
		header[j] = strings.TrimSpace(header[j])
	}

	dateIdx, timeIdx := -1, -1
	for j, h := range header {
		switch h {
		case i.cfg.DateColumn:
			dateIdx = j
		case i.cfg.TimeColumn:
			timeIdx = j
		}
	}
	if dateIdx < 0 || timeIdx < 0 {
		return report, nil, fmt.Errorf("ingest: %w: csv must contain columns %q and %q",
			domain.ErrSchemaMismatch, i.cfg.DateColumn, i.cfg.TimeColumn)
	}

	byTS := make(map[time.Time]domain.RawRow)
	var order []time.Time

	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return report, nil, fmt.Errorf("ingest: %w: read csv row: %v", domain.ErrDataIntegrity, err)
		}
		report.RowsRead++

		ts, ok := parseTimestamp(field(record, dateIdx), field(record, timeIdx), i.cfg.DayFirst)
		if !ok {
			report.DroppedTS++
			continue
		}

		payload := make(map[string]string, len(header))
		for j, h := range header {
			if h == "" {
				continue
			}
			payload[h] = field(record, j)
		}

		if _, dup := byTS[ts]; dup {
			report.Collisions++ // keep last
		} else {
			order = append(order, ts)
		}
		byTS[ts] = domain.RawRow{
			StationID:  i.cfg.StationID,
			TS:         ts,
			Payload:    payload,
			SourceFile: i.cfg.CSVPath,
			IngestedAt: domain.Now(),
		}
	}

	sort.Slice(order, func(a, b int) bool { return order[a].Before(order[b]) })
	rows := make([]domain.RawRow, 0, len(order))
	for _, ts := range order {
		rows = append(rows, byTS[ts])
	}
	return report, rows, nil
}

func field(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

// parseTimestamp combines a date string and an HH:MM time string into a UTC
// timestamp. Day-first archives use "13/11/2024"; ISO dates are accepted as
// a fallback either way.
func parseTimestamp(date, clock string, dayFirst bool) (time.Time, bool) {
	if date == "" || clock == "" {
		return time.Time{}, false
	}

	layouts := []string{"1/2/2006 15:04", "2006-01-02 15:04"}
	if dayFirst {
		layouts[0] = "2/1/2006 15:04"
	}

	combined := date + " " + clock
	for _, layout := range layouts {
		if ts, err := time.ParseInLocation(layout, combined, time.UTC); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
