// Package influx implements the telemetry backend on InfluxDB v2.
//
// Points are written to a single measurement with the device path as a tag;
// each telemetry field becomes an InfluxDB field. Queries are Flux with a
// pivot so one result row corresponds to one telemetry point.
package influx

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/iotflow/iotflow-core/internal/infrastructure/config"
	"github.com/iotflow/iotflow-core/internal/telemetry"
)

// Default timeouts for InfluxDB operations.
const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second
)

// pointMeasurement is the single InfluxDB measurement holding all telemetry.
// Series identity lives in the device_path tag plus the field key.
const pointMeasurement = "device_telemetry"

// Backend stores telemetry in InfluxDB v2.
//
// Thread Safety: all methods are safe for concurrent use from multiple
// goroutines.
type Backend struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	cfg      config.InfluxDBConfig

	connected bool
	mu        sync.RWMutex

	// declared tracks series this process has already declared. InfluxDB is
	// schemaless, so declaration is bookkeeping only; re-declaring reports
	// ErrSeriesExists to match the backend contract.
	declared   map[string]struct{}
	declaredMu sync.Mutex
}

// Connect establishes a connection to the InfluxDB server.
//
// It creates the client with token authentication, verifies connectivity
// with a ping, and prepares the blocking write API. Writes are synchronous
// so the caller learns immediately whether a point was committed.
//
// Returns ErrDisabled when the backend is disabled in configuration.
func Connect(cfg config.InfluxDBConfig) (*Backend, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	return &Backend{
		client:    client,
		writeAPI:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		queryAPI:  client.QueryAPI(cfg.Org),
		cfg:       cfg,
		connected: true,
		declared:  make(map[string]struct{}),
	}, nil
}

// Unavailable returns a backend that is permanently down. Every operation
// reports telemetry.ErrUnavailable, letting the service run in degraded
// mode when InfluxDB is disabled or unreachable at startup.
func Unavailable() *Backend {
	return &Backend{declared: make(map[string]struct{})}
}

// Available reports the last known connection state.
func (b *Backend) Available() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

// Close shuts down the InfluxDB client.
func (b *Backend) Close() error {
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()

	if b.client != nil {
		b.client.Close()
	}
	return nil
}

// HealthCheck verifies the InfluxDB connection is alive.
func (b *Backend) HealthCheck(ctx context.Context) error {
	if !b.Available() {
		return telemetry.ErrUnavailable
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := b.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check: server not healthy")
	}
	return nil
}

// DeclareSeries records the series in the local declaration set. InfluxDB
// creates series implicitly on first write, so this never talks to the
// server; a repeat declaration returns telemetry.ErrSeriesExists. Two
// goroutines racing on a first declaration both succeed; create-if-absent
// is the whole contract.
func (b *Backend) DeclareSeries(_ context.Context, devicePath, measurement string, _ telemetry.ValueKind) error {
	if !b.Available() {
		return telemetry.ErrUnavailable
	}

	key := devicePath + "." + measurement
	b.declaredMu.Lock()
	defer b.declaredMu.Unlock()

	if _, ok := b.declared[key]; ok {
		return telemetry.ErrSeriesExists
	}
	b.declared[key] = struct{}{}
	return nil
}

// WritePoint commits one point synchronously.
func (b *Backend) WritePoint(ctx context.Context, devicePath string, ts time.Time, fields map[string]telemetry.Value) error {
	if !b.Available() {
		return telemetry.ErrUnavailable
	}
	if len(fields) == 0 {
		return nil
	}

	native := make(map[string]any, len(fields))
	for name, value := range fields {
		native[name] = value.Native()
	}

	point := influxdb2.NewPoint(
		pointMeasurement,
		map[string]string{"device_path": devicePath},
		native,
		ts.UTC(),
	)

	if err := b.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

// QueryRange returns pivoted rows for a path ordered newest first.
// The path matches exactly or as a prefix (tenant-wide queries).
func (b *Backend) QueryRange(ctx context.Context, devicePath string, q telemetry.RangeQuery) ([]telemetry.Row, error) {
	if !b.Available() {
		return nil, telemetry.ErrUnavailable
	}

	limit := q.Limit
	if limit <= 0 {
		limit = telemetry.DefaultQueryLimit
	}

	var flux strings.Builder
	flux.WriteString("import \"strings\"\n")
	flux.WriteString(b.rangeSource(devicePath, q.Measurement, q.Range))
	flux.WriteString(`  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")` + "\n")
	flux.WriteString(`  |> group()` + "\n")
	flux.WriteString(`  |> sort(columns: ["_time"], desc: true)` + "\n")
	flux.WriteString(fmt.Sprintf("  |> limit(n: %d, offset: %d)\n", limit, q.Offset))

	return b.collectRows(ctx, flux.String())
}

// Latest returns the newest point for a device path, or nil when none.
func (b *Backend) Latest(ctx context.Context, devicePath string) (*telemetry.Row, error) {
	if !b.Available() {
		return nil, telemetry.ErrUnavailable
	}

	var flux strings.Builder
	flux.WriteString("import \"strings\"\n")
	flux.WriteString(b.rangeSource(devicePath, "", telemetry.TimeRange{}))
	flux.WriteString(`  |> last()` + "\n")
	flux.WriteString(`  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")` + "\n")
	flux.WriteString(`  |> group()` + "\n")
	flux.WriteString(`  |> sort(columns: ["_time"], desc: true)` + "\n")
	flux.WriteString("  |> limit(n: 1)\n")

	rows, err := b.collectRows(ctx, flux.String())
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// Count returns the number of points in the range. With a measurement
// filter it counts that field's values; without one it counts distinct
// timestamps, matching what QueryRange paginates.
func (b *Backend) Count(ctx context.Context, devicePath, measurement string, tr telemetry.TimeRange) (int64, error) {
	if !b.Available() {
		return 0, telemetry.ErrUnavailable
	}

	var flux strings.Builder
	flux.WriteString("import \"strings\"\n")
	flux.WriteString(b.rangeSource(devicePath, measurement, tr))
	if measurement != "" {
		flux.WriteString(`  |> group()` + "\n")
		flux.WriteString(`  |> count()` + "\n")
	} else {
		flux.WriteString(`  |> group()` + "\n")
		flux.WriteString(`  |> keep(columns: ["_time"])` + "\n")
		flux.WriteString(`  |> distinct(column: "_time")` + "\n")
		flux.WriteString(`  |> count()` + "\n")
	}

	return b.scanScalarInt(ctx, flux.String())
}

// Aggregate applies fn to one measurement over the range.
func (b *Backend) Aggregate(ctx context.Context, devicePath, measurement string, fn telemetry.AggFunc, tr telemetry.TimeRange) (float64, error) {
	if !b.Available() {
		return 0, telemetry.ErrUnavailable
	}

	var fluxFn string
	switch fn {
	case telemetry.AggAvg:
		fluxFn = "mean()"
	case telemetry.AggSum:
		fluxFn = "sum()"
	case telemetry.AggMin:
		fluxFn = "min()"
	case telemetry.AggMax:
		fluxFn = "max()"
	case telemetry.AggCount:
		fluxFn = "count()"
	default:
		return 0, telemetry.ErrInvalidAggregation
	}

	var flux strings.Builder
	flux.WriteString("import \"strings\"\n")
	flux.WriteString(b.rangeSource(devicePath, measurement, tr))
	flux.WriteString(`  |> group()` + "\n")
	flux.WriteString("  |> " + fluxFn + "\n")

	return b.scanScalarFloat(ctx, flux.String())
}

// DeleteRange removes all points for the path inside the range using the
// delete API. InfluxDB requires both bounds; missing ones widen to the
// epoch and now respectively.
func (b *Backend) DeleteRange(ctx context.Context, devicePath string, tr telemetry.TimeRange) error {
	if !b.Available() {
		return telemetry.ErrUnavailable
	}

	start := tr.Start
	if start.IsZero() {
		start = time.Unix(0, 0)
	}
	end := tr.End
	if end.IsZero() {
		end = time.Now().UTC()
	}

	predicate := fmt.Sprintf(`_measurement="%s" AND device_path="%s"`, pointMeasurement, escapeFlux(devicePath))
	err := b.client.DeleteAPI().DeleteWithName(ctx, b.cfg.Org, b.cfg.Bucket, start.UTC(), end.UTC(), predicate)
	if err != nil {
		return fmt.Errorf("deleting telemetry range: %w", err)
	}
	return nil
}

// rangeSource builds the shared from/range/filter prelude of every query.
func (b *Backend) rangeSource(devicePath, measurement string, tr telemetry.TimeRange) string {
	start := "0"
	if tr.HasStart() {
		start = tr.Start.UTC().Format(time.RFC3339Nano)
	}

	var s strings.Builder
	fmt.Fprintf(&s, "from(bucket: %q)\n", b.cfg.Bucket)
	if tr.HasEnd() {
		// Flux stop is exclusive; nudge by 1ms to keep the bound inclusive.
		fmt.Fprintf(&s, "  |> range(start: %s, stop: %s)\n",
			start, tr.End.Add(time.Millisecond).UTC().Format(time.RFC3339Nano))
	} else {
		fmt.Fprintf(&s, "  |> range(start: %s)\n", start)
	}
	fmt.Fprintf(&s, "  |> filter(fn: (r) => r._measurement == %q)\n", pointMeasurement)
	fmt.Fprintf(&s, "  |> filter(fn: (r) => r.device_path == %q or strings.hasPrefix(v: r.device_path, prefix: %q))\n",
		escapeFlux(devicePath), escapeFlux(devicePath)+".")
	if measurement != "" {
		fmt.Fprintf(&s, "  |> filter(fn: (r) => r._field == %q)\n", escapeFlux(measurement))
	}
	return s.String()
}

// collectRows executes a pivoted query and converts records to rows.
func (b *Backend) collectRows(ctx context.Context, flux string) ([]telemetry.Row, error) {
	result, err := b.queryAPI.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	defer result.Close()

	var rows []telemetry.Row
	for result.Next() {
		record := result.Record()

		path, _ := record.ValueByKey("device_path").(string)
		columns := make(map[string]any)
		for key, value := range record.Values() {
			if isInternalColumn(key) {
				continue
			}
			// Keep the full series path in the key so tenant-wide callers
			// can recover the device id.
			columns[path+"."+key] = value
		}

		rows = append(rows, telemetry.Row{
			Time:    record.Time().UTC(),
			Columns: columns,
		})
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, result.Err())
	}

	return rows, nil
}

// scanScalarInt reads a single integer result value.
func (b *Backend) scanScalarInt(ctx context.Context, flux string) (int64, error) {
	result, err := b.queryAPI.Query(ctx, flux)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	defer result.Close()

	for result.Next() {
		switch v := result.Record().Value().(type) {
		case int64:
			return v, nil
		case float64:
			return int64(v), nil
		}
	}
	if result.Err() != nil {
		return 0, fmt.Errorf("%w: %w", ErrQueryFailed, result.Err())
	}
	return 0, nil
}

// scanScalarFloat reads a single float result value.
func (b *Backend) scanScalarFloat(ctx context.Context, flux string) (float64, error) {
	result, err := b.queryAPI.Query(ctx, flux)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	defer result.Close()

	for result.Next() {
		switch v := result.Record().Value().(type) {
		case float64:
			return v, nil
		case int64:
			return float64(v), nil
		}
	}
	if result.Err() != nil {
		return 0, fmt.Errorf("%w: %w", ErrQueryFailed, result.Err())
	}
	return 0, nil
}

// isInternalColumn reports whether a pivoted record key is Flux machinery
// or a tag rather than a telemetry field.
func isInternalColumn(key string) bool {
	if strings.HasPrefix(key, "_") {
		return true
	}
	switch key {
	case "result", "table", "device_path":
		return true
	}
	return false
}

// escapeFlux strips characters that would break out of a Flux string literal.
func escapeFlux(s string) string {
	s = strings.ReplaceAll(s, `\`, ``)
	s = strings.ReplaceAll(s, `"`, ``)
	return s
}
