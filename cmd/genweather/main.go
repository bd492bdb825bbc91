// Command genweather generates a synthetic station archive CSV for local
// pipeline runs and test fixtures. Output uses the same header conventions as
// real archive exports, including the trailing-space pressure header and the
// "---" missing-value sentinel, so the generated file exercises the same
// ingest and preprocess paths as production data.
//
// Usage:
//
//	go run ./cmd/genweather -out data/raw/weather.csv -rows 5000 -seed 42
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// header mirrors a real archive export, including the "Bar  " quirk.
var header = []string{
	"Date", "Time",
	"Temp_Out", "Hi_Temp", "Low_Temp", "Dew_Pt", "Wind_Chill", "Heat_Index",
	"Out_Hum",
	"Wind_Speed", "Wind_Dir", "Hi_Speed",
	"Bar  ",
	"Rain", "Rain_Rate",
	"Solar_Rad", "UV_Index",
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "data/raw/weather.csv", "output CSV path")
	rows := flag.Int("rows", 5000, "number of observation rows")
	start := flag.String("start", "2024-11-01T00:00:00Z", "first observation time (RFC 3339)")
	interval := flag.Duration("interval", 15*time.Minute, "time between observations")
	seed := flag.Int64("seed", 42, "PRNG seed")
	missing := flag.Float64("missing", 0.02, "fraction of measurements replaced with the --- sentinel")
	malformed := flag.Int("malformed", 0, "rows emitted with an unparseable timestamp")
	flag.Parse()

	startTS, err := time.Parse(time.RFC3339, *start)
	if err != nil {
		return fmt.Errorf("parse -start: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(*out), 0o755); err != nil {
		return err
	}
	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}

	stride := 0
	if *malformed > 0 {
		stride = *rows / *malformed
		if stride < 1 {
			stride = 1
		}
	}

	rng := rand.New(rand.NewSource(*seed))
	remaining := *malformed
	for i := 0; i < *rows; i++ {
		ts := startTS.Add(time.Duration(i) * *interval)
		record := buildRow(rng, ts, *missing)
		if remaining > 0 && i%stride == 0 {
			record[0] = "not-a-date"
			remaining--
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	log.Printf("wrote %d rows to %s", *rows, *out)
	return nil
}

// buildRow produces one plausibly correlated observation: a diurnal
// temperature cycle with humidity opposing it and solar radiation following
// daylight hours.
func buildRow(rng *rand.Rand, ts time.Time, missing float64) []string {
	hour := float64(ts.Hour()) + float64(ts.Minute())/60
	diurnal := math.Sin((hour - 9) / 24 * 2 * math.Pi)

	temp := 9 + 6*diurnal + rng.NormFloat64()*1.5
	hum := 78 - 18*diurnal + rng.NormFloat64()*5
	hum = math.Max(20, math.Min(100, hum))
	wind := math.Abs(8 + 4*rng.NormFloat64())
	bar := 1013 + rng.NormFloat64()*6

	daylight := math.Max(0, math.Sin((hour-6)/12*math.Pi))
	solar := daylight * (550 + rng.NormFloat64()*80)
	solar = math.Max(0, solar)
	uv := daylight * math.Abs(3+rng.NormFloat64())

	rainRate := 0.0
	if rng.Float64() < 0.08 {
		rainRate = rng.Float64() * 6
	}

	num := func(v float64) string {
		if rng.Float64() < missing {
			return "---"
		}
		return strconv.FormatFloat(math.Round(v*10)/10, 'f', -1, 64)
	}

	return []string{
		ts.Format("02/01/2006"), // day-first, like real archive exports
		ts.Format("15:04"),
		num(temp), num(temp + 0.4), num(temp - 0.4), num(temp - 3),
		num(temp - wind/8), num(temp + hum/50),
		num(hum),
		num(wind), num(float64(rng.Intn(360))), num(wind * 1.6),
		num(bar),
		num(rainRate / 4), num(rainRate),
		num(solar), num(uv),
	}
}
