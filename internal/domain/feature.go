package domain

import "time"

// FeatureColumns is the fixed list of curated columns used as model inputs,
// in matrix column order.
var FeatureColumns = []string{
	"temp_out", "out_hum", "bar", "wind_speed", "rain_rate", "solar_rad", "uv_index",
}

// FeatureRow is one derived row per curated observation under a model
// version: the raw selected inputs echoed for display, the 3D principal
// component coordinates, and the cluster label. A row whose curated inputs
// contained nulls is a sentinel: nil coordinates and nil label.
type FeatureRow struct {
	StationID    string    `json:"station_id"`
	TS           time.Time `json:"ts"`
	ModelVersion string    `json:"model_version"`

	FTempOut   *float64 `json:"f_temp_out"`
	FOutHum    *float64 `json:"f_out_hum"`
	FBar       *float64 `json:"f_bar"`
	FWindSpeed *float64 `json:"f_wind_speed"`
	FRainRate  *float64 `json:"f_rain_rate"`
	FSolarRad  *float64 `json:"f_solar_rad"`
	FUVIndex   *float64 `json:"f_uv_index"`

	PC1 *float64 `json:"pc1"`
	PC2 *float64 `json:"pc2"`
	PC3 *float64 `json:"pc3"`

	ClusterLabel *int `json:"cluster_label"`

	ComputedAt time.Time `json:"computed_at"`
}

// ClusterCount is one per-label row count in a model version's clustering.
type ClusterCount struct {
	Label int `json:"label"`
	Rows  int `json:"rows"`
}

// Scored reports whether the row carries model output, as opposed to being
// an unscored sentinel.
func (f *FeatureRow) Scored() bool {
	return f.PC1 != nil && f.PC2 != nil && f.PC3 != nil && f.ClusterLabel != nil
}
