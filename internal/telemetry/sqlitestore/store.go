// Package sqlitestore implements the telemetry backend on embedded SQLite.
//
// Each measurement value is stored as its own row with typed columns, one
// column per storage kind, and series declarations live in a separate table
// with a uniqueness constraint that makes declaration naturally idempotent.
// It is the zero-infrastructure backend: suitable for single-node deployments
// and used throughout the test suite via in-memory databases.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/iotflow/iotflow-core/internal/telemetry"
)

// Backend stores telemetry points in SQLite.
//
// Thread Safety: all methods are safe for concurrent use; the underlying
// *sql.DB serialises writers.
type Backend struct {
	db *sql.DB

	mu     sync.RWMutex
	closed bool
}

// New creates a SQLite telemetry backend over an open connection.
// The telemetry_series and telemetry_points tables must exist (created by
// the embedded migrations, or directly in tests).
func New(db *sql.DB) *Backend {
	return &Backend{db: db}
}

// Available reports whether the backend can serve requests.
func (b *Backend) Available() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.db != nil && !b.closed
}

// Close marks the backend unavailable. The *sql.DB itself is owned by the
// caller (it is shared with the status repository) and is not closed here.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// DeclareSeries registers a measurement series if it is not already known.
// A uniqueness violation on (device_path, measurement) maps to
// telemetry.ErrSeriesExists.
func (b *Backend) DeclareSeries(ctx context.Context, devicePath, measurement string, kind telemetry.ValueKind) error {
	if !b.Available() {
		return telemetry.ErrUnavailable
	}

	_, err := b.db.ExecContext(ctx,
		`INSERT INTO telemetry_series (device_path, measurement, kind) VALUES (?, ?, ?)`,
		devicePath, measurement, kind.String(),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return telemetry.ErrSeriesExists
		}
		return fmt.Errorf("declaring series: %w", err)
	}
	return nil
}

// WritePoint inserts all fields of a point inside one transaction, so a
// point is either fully visible or absent.
func (b *Backend) WritePoint(ctx context.Context, devicePath string, ts time.Time, fields map[string]telemetry.Value) error {
	if !b.Available() {
		return telemetry.ErrUnavailable
	}
	if len(fields) == 0 {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning point write: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO telemetry_points
		 (device_path, measurement, ts_ms, bool_value, int_value, float_value, text_value)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("preparing point write: %w", err)
	}
	defer stmt.Close()

	tsMs := ts.UTC().UnixMilli()
	for measurement, value := range fields {
		boolCol, intCol, floatCol, textCol := valueColumns(value)
		if _, err := stmt.ExecContext(ctx, devicePath, measurement, tsMs, boolCol, intCol, floatCol, textCol); err != nil {
			return fmt.Errorf("inserting point field %q: %w", measurement, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing point write: %w", err)
	}
	return nil
}

// QueryRange returns rows for a path ordered newest first.
//
// The path may be a device path or a tenant prefix; prefix matching picks up
// every device underneath. Pagination operates on timestamp groups, not on
// individual field rows, so a page holds whole points.
func (b *Backend) QueryRange(ctx context.Context, devicePath string, q telemetry.RangeQuery) ([]telemetry.Row, error) {
	if !b.Available() {
		return nil, telemetry.ErrUnavailable
	}

	where, args := scopeClause(devicePath, q.Measurement, q.Range)

	limit := q.Limit
	if limit <= 0 {
		limit = telemetry.DefaultQueryLimit
	}

	query := fmt.Sprintf(
		`SELECT device_path, measurement, ts_ms, bool_value, int_value, float_value, text_value
		 FROM telemetry_points
		 WHERE (device_path, ts_ms) IN (
		     SELECT DISTINCT device_path, ts_ms FROM telemetry_points
		     WHERE %s
		     ORDER BY ts_ms DESC, device_path
		     LIMIT ? OFFSET ?
		 )
		 ORDER BY ts_ms DESC, device_path`,
		where,
	)
	args = append(args, limit, q.Offset)

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying telemetry range: %w", err)
	}
	defer rows.Close()

	return collectRows(rows)
}

// Latest returns the most recent point for a device path, or nil when none.
func (b *Backend) Latest(ctx context.Context, devicePath string) (*telemetry.Row, error) {
	if !b.Available() {
		return nil, telemetry.ErrUnavailable
	}

	rows, err := b.db.QueryContext(ctx,
		`SELECT device_path, measurement, ts_ms, bool_value, int_value, float_value, text_value
		 FROM telemetry_points
		 WHERE device_path = ?
		   AND ts_ms = (SELECT MAX(ts_ms) FROM telemetry_points WHERE device_path = ?)
		 ORDER BY measurement`,
		devicePath, devicePath,
	)
	if err != nil {
		return nil, fmt.Errorf("querying latest telemetry: %w", err)
	}
	defer rows.Close()

	collected, err := collectRows(rows)
	if err != nil {
		return nil, err
	}
	if len(collected) == 0 {
		return nil, nil
	}
	return &collected[0], nil
}

// Count returns the number of points in the range. With a measurement filter
// it counts that measurement's values; without one it counts whole points
// (distinct timestamps per device), matching what QueryRange paginates.
func (b *Backend) Count(ctx context.Context, devicePath, measurement string, tr telemetry.TimeRange) (int64, error) {
	if !b.Available() {
		return 0, telemetry.ErrUnavailable
	}

	where, args := scopeClause(devicePath, measurement, tr)

	var query string
	if measurement != "" {
		query = `SELECT COUNT(*) FROM telemetry_points WHERE ` + where
	} else {
		query = `SELECT COUNT(*) FROM (SELECT DISTINCT device_path, ts_ms FROM telemetry_points WHERE ` + where + `)`
	}

	var count int64
	if err := b.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting telemetry points: %w", err)
	}
	return count, nil
}

// Aggregate applies fn to the numeric values of one measurement.
func (b *Backend) Aggregate(ctx context.Context, devicePath, measurement string, fn telemetry.AggFunc, tr telemetry.TimeRange) (float64, error) {
	if !b.Available() {
		return 0, telemetry.ErrUnavailable
	}

	var sqlFn string
	switch fn {
	case telemetry.AggAvg:
		sqlFn = "AVG"
	case telemetry.AggSum:
		sqlFn = "SUM"
	case telemetry.AggMin:
		sqlFn = "MIN"
	case telemetry.AggMax:
		sqlFn = "MAX"
	case telemetry.AggCount:
		sqlFn = "COUNT"
	default:
		return 0, telemetry.ErrInvalidAggregation
	}

	where, args := scopeClause(devicePath, measurement, tr)

	var query string
	if fn == telemetry.AggCount {
		query = `SELECT COUNT(*) FROM telemetry_points WHERE ` + where
	} else {
		query = fmt.Sprintf(
			`SELECT %s(COALESCE(float_value, CAST(int_value AS REAL))) FROM telemetry_points WHERE %s`,
			sqlFn, where,
		)
	}

	var value sql.NullFloat64
	if err := b.db.QueryRowContext(ctx, query, args...).Scan(&value); err != nil {
		return 0, fmt.Errorf("aggregating telemetry: %w", err)
	}
	return value.Float64, nil
}

// DeleteRange removes all points for the path inside the range.
func (b *Backend) DeleteRange(ctx context.Context, devicePath string, tr telemetry.TimeRange) error {
	if !b.Available() {
		return telemetry.ErrUnavailable
	}

	where, args := scopeClause(devicePath, "", tr)
	if _, err := b.db.ExecContext(ctx, `DELETE FROM telemetry_points WHERE `+where, args...); err != nil {
		return fmt.Errorf("deleting telemetry range: %w", err)
	}
	return nil
}

// scopeClause builds the shared WHERE clause for a path scope, optional
// measurement filter and inclusive time bounds.
func scopeClause(devicePath, measurement string, tr telemetry.TimeRange) (string, []any) {
	conditions := []string{"(device_path = ? OR device_path LIKE ?)"}
	args := []any{devicePath, devicePath + ".%"}

	if measurement != "" {
		conditions = append(conditions, "measurement = ?")
		args = append(args, measurement)
	}
	if tr.HasStart() {
		conditions = append(conditions, "ts_ms >= ?")
		args = append(args, tr.Start.UTC().UnixMilli())
	}
	if tr.HasEnd() {
		conditions = append(conditions, "ts_ms <= ?")
		args = append(args, tr.End.UTC().UnixMilli())
	}

	return strings.Join(conditions, " AND "), args
}

// valueColumns spreads a Value across the typed storage columns.
func valueColumns(v telemetry.Value) (boolCol, intCol, floatCol, textCol any) {
	switch v.Kind {
	case telemetry.KindBool:
		return v.Bool, nil, nil, nil
	case telemetry.KindInt64:
		return nil, v.Int, nil, nil
	case telemetry.KindFloat64:
		return nil, nil, v.Float, nil
	default:
		return nil, nil, nil, v.Text
	}
}

// collectRows groups scanned field rows into telemetry rows keyed by
// (device path, timestamp), preserving scan order.
func collectRows(rows *sql.Rows) ([]telemetry.Row, error) {
	type groupKey struct {
		path string
		tsMs int64
	}

	var (
		result []telemetry.Row
		index  = make(map[groupKey]int)
	)

	for rows.Next() {
		var (
			path        string
			measurement string
			tsMs        int64
			boolCol     sql.NullBool
			intCol      sql.NullInt64
			floatCol    sql.NullFloat64
			textCol     sql.NullString
		)
		if err := rows.Scan(&path, &measurement, &tsMs, &boolCol, &intCol, &floatCol, &textCol); err != nil {
			return nil, fmt.Errorf("scanning telemetry row: %w", err)
		}

		key := groupKey{path: path, tsMs: tsMs}
		i, ok := index[key]
		if !ok {
			result = append(result, telemetry.Row{
				Time:    time.UnixMilli(tsMs).UTC(),
				Columns: make(map[string]any),
			})
			i = len(result) - 1
			index[key] = i
		}

		// Column keys carry the full series path so tenant-wide queries can
		// recover the device id; the normalizer strips it back down.
		column := path + "." + measurement
		switch {
		case boolCol.Valid:
			result[i].Columns[column] = boolCol.Bool
		case intCol.Valid:
			result[i].Columns[column] = intCol.Int64
		case floatCol.Valid:
			result[i].Columns[column] = floatCol.Float64
		case textCol.Valid:
			result[i].Columns[column] = textCol.String
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating telemetry rows: %w", err)
	}

	return result, nil
}
