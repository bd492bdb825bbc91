// Command validate performs end-to-end integrity checks across the pipeline
// outputs: curated table structure, feature/curated referential integrity per
// model version, cluster label ranges, and projector export alignment. It is
// meant to run after a full pipeline pass.
//
// Usage:
//
//	DATABASE_URL=postgres://... go run ./cmd/validate -out-dir data/processed
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bradfordwx/weatherlab/internal/config"
	"github.com/bradfordwx/weatherlab/internal/domain"
	"github.com/bradfordwx/weatherlab/internal/export"
	"github.com/bradfordwx/weatherlab/internal/observability"
	"github.com/bradfordwx/weatherlab/internal/store/postgres"
)

// phase tracks pass/fail for one validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) failf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func main() {
	outDir := flag.String("out-dir", "", "export directory to validate (skipped if empty)")
	flag.Parse()

	if err := run(*outDir); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(outDir string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	st, err := postgres.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	phases := []*phase{
		validateCurated(ctx, st),
		validateFeatures(ctx, st),
	}
	if outDir != "" {
		phases = append(phases, validateExport(outDir))
	}

	failed := false
	for _, p := range phases {
		if len(p.errors) == 0 {
			fmt.Printf("PASS %s\n", p.name)
			continue
		}
		failed = true
		fmt.Printf("FAIL %s\n", p.name)
		for _, e := range p.errors {
			fmt.Printf("  - %s\n", e)
		}
	}
	if failed {
		return fmt.Errorf("validation failed")
	}
	return nil
}

// validateCurated checks the curated table exists, carries every selected
// feature column, and has no zero keys.
func validateCurated(ctx context.Context, st *postgres.Store) *phase {
	p := &phase{name: "curated table"}

	cols, err := st.CuratedColumns(ctx)
	if err != nil {
		p.failf("load columns: %v", err)
		return p
	}
	present := make(map[string]bool, len(cols))
	for _, c := range cols {
		present[c] = true
	}
	for _, c := range domain.FeatureColumns {
		if !present[c] {
			p.failf("missing feature column %q", c)
		}
	}

	rows, err := st.LoadCurated(ctx)
	if err != nil {
		p.failf("load curated: %v", err)
		return p
	}
	if len(rows) == 0 {
		p.failf("curated table is empty")
	}
	for i := range rows {
		if rows[i].StationID == "" || rows[i].TS.IsZero() {
			p.failf("row %d has an empty key", i)
			break
		}
	}
	return p
}

// validateFeatures checks, per model version: feature row count equals
// curated row count, every feature row references a curated row, labels are
// in range, and scored coordinates are finite.
func validateFeatures(ctx context.Context, st *postgres.Store) *phase {
	p := &phase{name: "features table"}

	curated, err := st.LoadCurated(ctx)
	if err != nil {
		p.failf("load curated: %v", err)
		return p
	}
	curatedKeys := make(map[string]bool, len(curated))
	for i := range curated {
		curatedKeys[curated[i].StationID+"|"+curated[i].TS.UTC().Format(time.RFC3339)] = true
	}

	versions, err := st.ModelVersions(ctx)
	if err != nil {
		p.failf("model versions: %v", err)
		return p
	}
	if len(versions) == 0 {
		p.failf("no model versions in features table")
		return p
	}

	for _, v := range versions {
		feats, err := st.LoadFeatures(ctx, v, nil, nil)
		if err != nil {
			p.failf("%s: load features: %v", v, err)
			continue
		}
		if len(feats) != len(curated) {
			p.failf("%s: %d feature rows vs %d curated rows", v, len(feats), len(curated))
		}

		maxLabel := -1
		for i := range feats {
			f := &feats[i]
			key := f.StationID + "|" + f.TS.UTC().Format(time.RFC3339)
			if !curatedKeys[key] {
				p.failf("%s: feature row %s has no curated row", v, key)
				break
			}
			if !f.Scored() {
				continue
			}
			if *f.ClusterLabel < 0 {
				p.failf("%s: negative cluster label %d", v, *f.ClusterLabel)
			}
			if *f.ClusterLabel > maxLabel {
				maxLabel = *f.ClusterLabel
			}
			for _, pc := range []*float64{f.PC1, f.PC2, f.PC3} {
				if math.IsNaN(*pc) || math.IsInf(*pc, 0) {
					p.failf("%s: non-finite principal component at %s", v, key)
				}
			}
		}

		summary, err := st.ClusterSummary(ctx, v)
		if err != nil {
			p.failf("%s: cluster summary: %v", v, err)
			continue
		}
		summaryMax := -1
		for _, c := range summary {
			if c.Label > summaryMax {
				summaryMax = c.Label
			}
		}
		if maxLabel != summaryMax {
			p.failf("%s: max label %d in rows vs %d in cluster summary", v, maxLabel, summaryMax)
		}
	}
	return p
}

// validateExport checks vecs.tsv and meta.tsv exist, are line-aligned, and
// have consistent field counts.
func validateExport(outDir string) *phase {
	p := &phase{name: "export artifacts"}

	vecLines, err := readLines(filepath.Join(outDir, export.VectorsFile))
	if err != nil {
		p.failf("%v", err)
		return p
	}
	metaLines, err := readLines(filepath.Join(outDir, export.MetadataFile))
	if err != nil {
		p.failf("%v", err)
		return p
	}

	if len(metaLines) != len(vecLines)+1 {
		p.failf("meta.tsv has %d lines, want %d (header + %d vectors)",
			len(metaLines), len(vecLines)+1, len(vecLines))
	}
	for i, line := range vecLines {
		if n := len(strings.Split(line, "\t")); n != 3 {
			p.failf("vecs.tsv line %d has %d fields, want 3", i+1, n)
			break
		}
	}
	if len(metaLines) > 0 {
		want := len(strings.Split(metaLines[0], "\t"))
		for i, line := range metaLines[1:] {
			if n := len(strings.Split(line, "\t")); n != want {
				p.failf("meta.tsv line %d has %d fields, header has %d", i+2, n, want)
				break
			}
		}
	}
	return p
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}
