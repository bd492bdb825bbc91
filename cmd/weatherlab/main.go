// Command weatherlab runs the weather analytics pipeline: schema init, CSV
// ingest, preprocessing, feature computation, projector export, and the
// read-only dashboard. Each subcommand is an independent batch job configured
// from the environment (DATABASE_URL is required) with optional flag
// overrides, and exits non-zero on any stage failure.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	httpadapter "github.com/bradfordwx/weatherlab/internal/adapter/http"
	"github.com/bradfordwx/weatherlab/internal/analytics"
	"github.com/bradfordwx/weatherlab/internal/config"
	"github.com/bradfordwx/weatherlab/internal/export"
	"github.com/bradfordwx/weatherlab/internal/ingest"
	"github.com/bradfordwx/weatherlab/internal/observability"
	"github.com/bradfordwx/weatherlab/internal/preprocess"
	"github.com/bradfordwx/weatherlab/internal/store/postgres"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// overrides are the flag-level overrides layered on top of env config.
type overrides struct {
	modelVersion string
	kmeansK      int
	exportDir    string
	csvPath      string
}

func (o *overrides) apply(cfg *config.Config) {
	if o.modelVersion != "" {
		cfg.ModelVersion = o.modelVersion
	}
	if o.kmeansK > 0 {
		cfg.KMeansK = o.kmeansK
	}
	if o.exportDir != "" {
		cfg.ExportDir = o.exportDir
	}
	if o.csvPath != "" {
		cfg.CSVPath = o.csvPath
	}
}

// stageEnv is everything a stage needs to run.
type stageEnv struct {
	cfg     *config.Config
	store   *postgres.Store
	logger  *slog.Logger
	metrics *observability.Metrics
}

func newRootCmd() *cobra.Command {
	var o overrides

	root := &cobra.Command{
		Use:   "weatherlab",
		Short: "Batch analytics pipeline over weather station archives",
		Long: `weatherlab turns raw weather station CSV exports into curated
observations, derives a 3D PCA embedding with KMeans cluster labels per
observation, and serves both for exploration.

Pipeline order: init-schema, ingest, preprocess, compute-features, then
export and/or dashboard.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&o.modelVersion, "model-version", "", "override MODEL_VERSION")
	root.PersistentFlags().IntVar(&o.kmeansK, "k", 0, "override KMEANS_K cluster count")
	root.PersistentFlags().StringVar(&o.exportDir, "out-dir", "", "override PROJECTOR_OUT_DIR")
	root.PersistentFlags().StringVar(&o.csvPath, "csv", "", "override CSV_PATH")

	root.AddCommand(
		stageCmd(&o, "init-schema", "Create the raw, curated, and features tables", runInitSchema),
		stageCmd(&o, "ingest", "Bulk-load a station archive CSV into the raw table", runIngest),
		stageCmd(&o, "preprocess", "Clean and type raw rows into the curated table", runPreprocess),
		stageCmd(&o, "compute-features", "Standardize, project, and cluster curated rows", runComputeFeatures),
		stageCmd(&o, "export", "Write projector vecs.tsv and meta.tsv for a model version", runExport),
		stageCmd(&o, "dashboard", "Serve the read-only dashboard API", runDashboard),
	)
	return root
}

// stageCmd wires a stage function into a cobra command with shared setup:
// config, logger, metrics, signal context, and store connection.
func stageCmd(o *overrides, use, short string, run func(ctx context.Context, env stageEnv) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				slog.Error("failed to load config", "error", err)
				return err
			}
			o.apply(cfg)

			logger := observability.NewLogger(cfg)
			metrics := observability.NewMetrics()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st, err := postgres.New(ctx, cfg.DatabaseURL, logger)
			if err != nil {
				logger.Error("failed to connect to store", "error", err)
				return err
			}
			defer st.Close()

			if err := run(ctx, stageEnv{cfg: cfg, store: st, logger: logger, metrics: metrics}); err != nil {
				logger.Error("stage failed", "stage", use, "error", err)
				return err
			}
			return nil
		},
	}
}

func runInitSchema(ctx context.Context, env stageEnv) error {
	return env.store.InitSchema(ctx)
}

func runIngest(ctx context.Context, env stageEnv) error {
	_, err := ingest.New(env.store, env.cfg, env.logger, env.metrics).Run(ctx)
	return err
}

func runPreprocess(ctx context.Context, env stageEnv) error {
	_, err := preprocess.New(env.store, env.store, env.cfg, env.logger, env.metrics).Run(ctx)
	return err
}

func runComputeFeatures(ctx context.Context, env stageEnv) error {
	_, err := analytics.New(env.store, env.store, env.cfg, env.logger, env.metrics).Run(ctx)
	return err
}

func runExport(ctx context.Context, env stageEnv) error {
	_, err := export.New(env.store, env.cfg, env.logger, env.metrics).Run(ctx)
	return err
}

func runDashboard(ctx context.Context, env stageEnv) error {
	srv := httpadapter.NewServer(env.cfg.HTTPAddr, env.store, env.store, env.cfg.ModelVersion, env.logger)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	env.logger.Info("dashboard shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), env.cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
