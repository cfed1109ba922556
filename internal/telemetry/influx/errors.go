package influx

import "errors"

// Sentinel errors for InfluxDB backend operations.
//
// These can be checked with errors.Is() for specific handling:
//
//	if errors.Is(err, influx.ErrDisabled) {
//	    // Fall back to the SQLite backend
//	}
var (
	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("influx: connection failed")

	// ErrWriteFailed indicates a point write failed.
	ErrWriteFailed = errors.New("influx: write failed")

	// ErrQueryFailed indicates a Flux query failed.
	ErrQueryFailed = errors.New("influx: query failed")

	// ErrDisabled indicates the InfluxDB backend is disabled in configuration.
	ErrDisabled = errors.New("influx: disabled in configuration")
)
