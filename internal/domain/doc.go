// Package domain models Davis-style weather station archive data and the
// analytics features derived from it.
//
// # Data Source
//
// Observations originate from station archive CSV exports. Each row carries a
// Date column (day-first, e.g. "13/11/2024"), a Time column ("HH:MM"), and a
// set of measurement columns. The ingest command combines Date and Time into a
// UTC timestamp and stores the full row as a JSON payload for lineage; the
// preprocess command coerces the payload into typed curated rows.
//
// # Archive CSV Conventions
//
// Missing values:
//
//	"---" is the station sentinel for an unavailable reading (common for
//	Wind_Dir during calm periods). Empty strings mean the column was not
//	logged. Both become explicit nulls in the curated table. Rows are never
//	dropped for a missing measurement, only for a missing timestamp or
//	station identifier.
//
// Header quirks:
//
//	The pressure column header carries trailing whitespace in the source
//	export ("Bar  "). Column lookup trims header whitespace before matching.
//
// # Derived Features
//
// A feature row holds the three principal-component coordinates of the
// standardized selected measurements and a KMeans cluster label, tagged with
// the model version that produced them. Rows whose selected measurements
// contain nulls receive a sentinel row (null coordinates, null label) so the
// features table always has one row per curated observation.
//
// Component sign is not stable across refits, and cluster indices carry no
// meaning across model versions. Both are cosmetic to downstream consumers.
package domain
