package postgres

// schemaSQL creates the three pipeline tables. Everything is IF NOT EXISTS so
// init-schema is safe to re-run. The features FK cascades on delete: a full
// curated replace invalidates every derived row by construction.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS weather_raw (
    station_id  text NOT NULL,
    ts          timestamptz NOT NULL,
    payload     jsonb NOT NULL,
    source_file text NULL,
    ingested_at timestamptz NOT NULL DEFAULT now(),
    PRIMARY KEY (station_id, ts)
);
CREATE INDEX IF NOT EXISTS idx_weather_raw_ingested_at
    ON weather_raw (ingested_at);

CREATE TABLE IF NOT EXISTS weather_curated (
    station_id  text NOT NULL,
    ts          timestamptz NOT NULL,

    temp_out    double precision NULL,
    hi_temp     double precision NULL,
    low_temp    double precision NULL,
    dew_pt      double precision NULL,
    wind_chill  double precision NULL,
    heat_index  double precision NULL,

    out_hum     double precision NULL,

    wind_speed  double precision NULL,
    wind_dir    double precision NULL,
    hi_speed    double precision NULL,

    bar         double precision NULL,

    rain        double precision NULL,
    rain_rate   double precision NULL,

    solar_rad   double precision NULL,
    uv_index    double precision NULL,

    updated_at  timestamptz NOT NULL DEFAULT now(),
    PRIMARY KEY (station_id, ts)
);
CREATE INDEX IF NOT EXISTS idx_weather_curated_ts
    ON weather_curated (ts);

CREATE TABLE IF NOT EXISTS weather_features (
    station_id    text NOT NULL,
    ts            timestamptz NOT NULL,
    model_version text NOT NULL,

    f_temp_out    double precision NULL,
    f_out_hum     double precision NULL,
    f_bar         double precision NULL,
    f_wind_speed  double precision NULL,
    f_rain_rate   double precision NULL,
    f_solar_rad   double precision NULL,
    f_uv_index    double precision NULL,

    pc1           double precision NULL,
    pc2           double precision NULL,
    pc3           double precision NULL,

    cluster_label integer NULL,

    computed_at   timestamptz NOT NULL DEFAULT now(),
    PRIMARY KEY (station_id, ts, model_version),
    FOREIGN KEY (station_id, ts)
        REFERENCES weather_curated (station_id, ts) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_weather_features_model
    ON weather_features (model_version);
CREATE INDEX IF NOT EXISTS idx_weather_features_cluster
    ON weather_features (cluster_label);
`
