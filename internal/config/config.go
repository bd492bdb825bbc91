package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/bradfordwx/weatherlab/internal/domain"
)

// Missing-value policies for the preprocessor. The policy is explicit
// configuration rather than an inferred threshold.
const (
	PolicyKeep        = "keep"        // nulls stay null
	PolicyInterpolate = "interpolate" // per-station linear interpolation, edges extended
)

// Timestamp resolutions for curated rows.
const (
	ResolutionMinute = "minute"
	ResolutionHour   = "hour"
)

// Config holds all pipeline settings, populated from environment variables
// (with optional .env file). A single Config value is threaded through every
// stage constructor; stages never read process-wide state.
type Config struct {
	DatabaseURL string

	// Ingest.
	CSVPath    string
	DateColumn string
	TimeColumn string
	DayFirst   bool
	StationID  string

	// Preprocess.
	Resolution         string
	MissingValuePolicy string

	// Feature engine.
	KMeansK       int
	KMeansMaxIter int
	Seed          int64
	ModelVersion  string

	// Export.
	ExportDir string

	// Dashboard.
	HTTPAddr        string
	ShutdownTimeout time.Duration

	LogLevel  string
	LogFormat string
}

// Load reads configuration from the environment, applying defaults where
// unset. A .env file in the working directory is loaded first if present.
func Load() (*Config, error) {
	_ = godotenv.Load() // best effort; real env vars win over .env

	kmeansK, err := envInt("KMEANS_K", 4)
	if err != nil {
		return nil, err
	}
	maxIter, err := envInt("KMEANS_MAX_ITER", 300)
	if err != nil {
		return nil, err
	}
	seed, err := envInt("MODEL_SEED", 42)
	if err != nil {
		return nil, err
	}

	shutdownTimeout := 10 * time.Second
	if s := os.Getenv("SHUTDOWN_TIMEOUT"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("%w: invalid SHUTDOWN_TIMEOUT %q", domain.ErrConfiguration, s)
		}
		shutdownTimeout = d
	}

	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),

		CSVPath:    envOrDefault("CSV_PATH", "data/raw/weather.csv"),
		DateColumn: envOrDefault("DATE_COLUMN", "Date"),
		TimeColumn: envOrDefault("TIME_COLUMN", "Time"),
		DayFirst:   envOrDefault("DATE_FORMAT_DAYFIRST", "true") == "true",
		StationID:  envOrDefault("STATION_ID", "bradford"),

		Resolution:         envOrDefault("TIMESTAMP_RESOLUTION", ResolutionMinute),
		MissingValuePolicy: envOrDefault("MISSING_VALUE_POLICY", PolicyKeep),

		KMeansK:       kmeansK,
		KMeansMaxIter: maxIter,
		Seed:          int64(seed),
		ModelVersion:  envOrDefault("MODEL_VERSION", "pca3_kmeans_v1"),

		ExportDir: envOrDefault("PROJECTOR_OUT_DIR", "data/processed"),

		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		ShutdownTimeout: shutdownTimeout,

		LogLevel:  envOrDefault("LOG_LEVEL", "info"),
		LogFormat: envOrDefault("LOG_FORMAT", "json"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("%w: DATABASE_URL is required", domain.ErrConfiguration)
	}
	if cfg.KMeansK < 1 {
		return nil, fmt.Errorf("%w: KMEANS_K must be >= 1, got %d", domain.ErrConfiguration, cfg.KMeansK)
	}
	if cfg.KMeansMaxIter < 1 {
		return nil, fmt.Errorf("%w: KMEANS_MAX_ITER must be >= 1, got %d", domain.ErrConfiguration, cfg.KMeansMaxIter)
	}
	if cfg.ModelVersion == "" {
		return nil, fmt.Errorf("%w: MODEL_VERSION must not be empty", domain.ErrConfiguration)
	}
	if cfg.StationID == "" {
		return nil, fmt.Errorf("%w: STATION_ID must not be empty", domain.ErrConfiguration)
	}
	switch cfg.Resolution {
	case ResolutionMinute, ResolutionHour:
	default:
		return nil, fmt.Errorf("%w: invalid TIMESTAMP_RESOLUTION %q", domain.ErrConfiguration, cfg.Resolution)
	}
	switch cfg.MissingValuePolicy {
	case PolicyKeep, PolicyInterpolate:
	default:
		return nil, fmt.Errorf("%w: invalid MISSING_VALUE_POLICY %q", domain.ErrConfiguration, cfg.MissingValuePolicy)
	}

	return cfg, nil
}

// TruncateResolution returns the duration curated timestamps are truncated to.
func (c *Config) TruncateResolution() time.Duration {
	if c.Resolution == ResolutionHour {
		return time.Hour
	}
	return time.Minute
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s %q", domain.ErrConfiguration, key, s)
	}
	return n, nil
}
