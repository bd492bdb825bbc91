package domain

import "time"

// RawRow is one ingested observation: the original CSV row kept as an
// untyped payload for lineage, keyed by station and timestamp.
type RawRow struct {
	StationID  string
	TS         time.Time
	Payload    map[string]string
	SourceFile string
	IngestedAt time.Time
}

// Observation is one curated row: typed, cleaned measurements for a
// (station, timestamp) pair. Nil measurement pointers are explicit nulls.
type Observation struct {
	StationID string    `json:"station_id"`
	TS        time.Time `json:"ts"`

	TempOut   *float64 `json:"temp_out"`
	HiTemp    *float64 `json:"hi_temp"`
	LowTemp   *float64 `json:"low_temp"`
	DewPt     *float64 `json:"dew_pt"`
	WindChill *float64 `json:"wind_chill"`
	HeatIndex *float64 `json:"heat_index"`
	OutHum    *float64 `json:"out_hum"`
	WindSpeed *float64 `json:"wind_speed"`
	WindDir   *float64 `json:"wind_dir"`
	HiSpeed   *float64 `json:"hi_speed"`
	Bar       *float64 `json:"bar"`
	Rain      *float64 `json:"rain"`
	RainRate  *float64 `json:"rain_rate"`
	SolarRad  *float64 `json:"solar_rad"`
	UVIndex   *float64 `json:"uv_index"`

	UpdatedAt time.Time `json:"updated_at"`
}

// MeasurementColumns lists every curated measurement column in table order.
var MeasurementColumns = []string{
	"temp_out", "hi_temp", "low_temp", "dew_pt", "wind_chill", "heat_index",
	"out_hum",
	"wind_speed", "wind_dir", "hi_speed",
	"bar",
	"rain", "rain_rate",
	"solar_rad", "uv_index",
}

// CSVToCurated maps archive CSV headers to curated column names. Headers are
// matched after trimming whitespace ("Bar  " carries trailing spaces in the
// source export).
var CSVToCurated = map[string]string{
	"Temp_Out":   "temp_out",
	"Hi_Temp":    "hi_temp",
	"Low_Temp":   "low_temp",
	"Dew_Pt":     "dew_pt",
	"Wind_Chill": "wind_chill",
	"Heat_Index": "heat_index",
	"Out_Hum":    "out_hum",
	"Wind_Speed": "wind_speed",
	"Wind_Dir":   "wind_dir",
	"Hi_Speed":   "hi_speed",
	"Bar":        "bar",
	"Rain":       "rain",
	"Rain_Rate":  "rain_rate",
	"Solar_Rad":  "solar_rad",
	"UV_Index":   "uv_index",
}

// Measurement returns the value of the named curated column, or nil for an
// unknown column name.
func (o *Observation) Measurement(col string) *float64 {
	switch col {
	case "temp_out":
		return o.TempOut
	case "hi_temp":
		return o.HiTemp
	case "low_temp":
		return o.LowTemp
	case "dew_pt":
		return o.DewPt
	case "wind_chill":
		return o.WindChill
	case "heat_index":
		return o.HeatIndex
	case "out_hum":
		return o.OutHum
	case "wind_speed":
		return o.WindSpeed
	case "wind_dir":
		return o.WindDir
	case "hi_speed":
		return o.HiSpeed
	case "bar":
		return o.Bar
	case "rain":
		return o.Rain
	case "rain_rate":
		return o.RainRate
	case "solar_rad":
		return o.SolarRad
	case "uv_index":
		return o.UVIndex
	default:
		return nil
	}
}

// SetMeasurement assigns the named curated column. Unknown names are ignored.
func (o *Observation) SetMeasurement(col string, v *float64) {
	switch col {
	case "temp_out":
		o.TempOut = v
	case "hi_temp":
		o.HiTemp = v
	case "low_temp":
		o.LowTemp = v
	case "dew_pt":
		o.DewPt = v
	case "wind_chill":
		o.WindChill = v
	case "heat_index":
		o.HeatIndex = v
	case "out_hum":
		o.OutHum = v
	case "wind_speed":
		o.WindSpeed = v
	case "wind_dir":
		o.WindDir = v
	case "hi_speed":
		o.HiSpeed = v
	case "bar":
		o.Bar = v
	case "rain":
		o.Rain = v
	case "rain_rate":
		o.RainRate = v
	case "solar_rad":
		o.SolarRad = v
	case "uv_index":
		o.UVIndex = v
	}
}
