package domain

import "errors"

// Pipeline failure classes. Stages wrap these with fmt.Errorf("%w: ...") so
// callers can classify failures with errors.Is while keeping the stage name
// and row counts in the message.
var (
	// ErrConfiguration marks missing or invalid connection/model settings,
	// detected before any stage runs.
	ErrConfiguration = errors.New("configuration error")

	// ErrDataIntegrity marks raw or curated input that fails required
	// structural checks. The stage aborts and writes nothing.
	ErrDataIntegrity = errors.New("data integrity error")

	// ErrSchemaMismatch marks a selected feature column absent from the
	// curated table, detected before any write.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrInsufficientData marks fewer scorable rows than the configured
	// cluster count; clustering is undefined below K.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrStore marks connectivity or transaction failures from the backing
	// store, surfaced verbatim with no retry.
	ErrStore = errors.New("store error")
)
