package telemetry

import (
	"context"
	"time"
)

// AggFunc is an aggregation function from the allow-list.
type AggFunc string

// Allowed aggregation functions.
const (
	AggAvg   AggFunc = "avg"
	AggSum   AggFunc = "sum"
	AggMin   AggFunc = "min"
	AggMax   AggFunc = "max"
	AggCount AggFunc = "count"
)

// ValidAggFunc reports whether fn is in the allow-list.
func ValidAggFunc(fn AggFunc) bool {
	switch fn {
	case AggAvg, AggSum, AggMin, AggMax, AggCount:
		return true
	}
	return false
}

// TimeRange bounds a query. Zero values mean "no bound" on that side;
// both bounds are inclusive.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// HasStart reports whether the range has a lower bound.
func (r TimeRange) HasStart() bool { return !r.Start.IsZero() }

// HasEnd reports whether the range has an upper bound.
func (r TimeRange) HasEnd() bool { return !r.End.IsZero() }

// RangeQuery describes a bounded row slice against one device path.
// Rows are always returned newest first.
type RangeQuery struct {
	// Measurement restricts the query to one series when non-empty.
	Measurement string
	Range       TimeRange
	Limit       int
	Offset      int
}

// Row is one backend result row: a timestamp plus a column per series.
//
// Column values are backend-native (float64, int64, bool, string or []byte)
// and are unwrapped by the result normalizer before leaving the service.
type Row struct {
	Time    time.Time
	Columns map[string]any
}

// Backend abstracts the time-series storage engine.
//
// Two implementations exist (influx.Backend, sqlitestore.Backend) and are
// selected by configuration at startup; callers must not depend on either.
//
// Availability contract: methods on an unavailable backend return
// ErrUnavailable. The Service translates that into soft-failure results
// (false writes, empty reads); backends never need to.
type Backend interface {
	// DeclareSeries idempotently declares one measurement series under a
	// device path. Returns ErrSeriesExists when the series was already
	// declared; that is the expected steady-state outcome.
	DeclareSeries(ctx context.Context, devicePath, measurement string, kind ValueKind) error

	// WritePoint commits all fields of one point in a single batched write
	// at the given timestamp.
	WritePoint(ctx context.Context, devicePath string, ts time.Time, fields map[string]Value) error

	// QueryRange returns rows for a device path ordered by time descending.
	QueryRange(ctx context.Context, devicePath string, q RangeQuery) ([]Row, error)

	// Latest returns the most recent row for a device path, or nil when the
	// device has no data.
	Latest(ctx context.Context, devicePath string) (*Row, error)

	// Count returns the number of points for a measurement in the range.
	// An empty measurement counts points across all series of the device.
	Count(ctx context.Context, devicePath, measurement string, tr TimeRange) (int64, error)

	// Aggregate applies fn to one measurement over the range.
	Aggregate(ctx context.Context, devicePath, measurement string, fn AggFunc, tr TimeRange) (float64, error)

	// DeleteRange removes all points for the device path inside the range.
	DeleteRange(ctx context.Context, devicePath string, tr TimeRange) error

	// Available reports the last known connection state.
	Available() bool

	// Close releases the backend's resources.
	Close() error
}
