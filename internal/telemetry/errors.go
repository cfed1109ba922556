package telemetry

import "errors"

// Sentinel errors for telemetry operations.
//
// Validation errors (ErrInvalidTimestamp, ErrInvalidAggregation) always reach
// the caller so the HTTP layer can map them to 400 responses. Availability
// problems never do: the service converts them to soft results instead.
var (
	// ErrInvalidTimestamp indicates an unparseable absolute timestamp expression.
	ErrInvalidTimestamp = errors.New("telemetry: invalid timestamp")

	// ErrInvalidAggregation indicates an aggregation function outside the allow-list.
	ErrInvalidAggregation = errors.New("telemetry: invalid aggregation function")

	// ErrSeriesExists indicates an idempotent series declaration hit an
	// existing series. Backends return it so the write path can swallow it.
	ErrSeriesExists = errors.New("telemetry: series already exists")

	// ErrUnavailable indicates the storage backend cannot be reached.
	ErrUnavailable = errors.New("telemetry: backend unavailable")
)
