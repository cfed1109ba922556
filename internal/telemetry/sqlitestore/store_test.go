package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/iotflow/iotflow-core/internal/telemetry"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(`
		CREATE TABLE telemetry_series (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			device_path TEXT NOT NULL,
			measurement TEXT NOT NULL,
			kind        TEXT NOT NULL,
			UNIQUE (device_path, measurement)
		);
		CREATE TABLE telemetry_points (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			device_path TEXT NOT NULL,
			measurement TEXT NOT NULL,
			ts_ms       INTEGER NOT NULL,
			bool_value  INTEGER,
			int_value   INTEGER,
			float_value REAL,
			text_value  TEXT
		);
	`); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	return New(db)
}

const testPath = "root.iotflow.tenants.tenant_1.devices.device_a"

func writeTestPoint(t *testing.T, b *Backend, path string, ts time.Time, fields map[string]telemetry.Value) {
	t.Helper()
	if err := b.WritePoint(context.Background(), path, ts, fields); err != nil {
		t.Fatalf("WritePoint: %v", err)
	}
}

func TestDeclareSeries(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	if err := b.DeclareSeries(ctx, testPath, "temperature", telemetry.KindFloat64); err != nil {
		t.Fatalf("first declaration: %v", err)
	}
	err := b.DeclareSeries(ctx, testPath, "temperature", telemetry.KindFloat64)
	if !errors.Is(err, telemetry.ErrSeriesExists) {
		t.Errorf("second declaration error = %v, want ErrSeriesExists", err)
	}

	// A different measurement on the same path is a new series.
	if err := b.DeclareSeries(ctx, testPath, "humidity", telemetry.KindFloat64); err != nil {
		t.Errorf("sibling declaration: %v", err)
	}
}

func TestWriteAndQueryRange(t *testing.T) {
	b := newTestBackend(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		writeTestPoint(t, b, testPath, base.Add(time.Duration(i)*time.Minute), map[string]telemetry.Value{
			"temperature": telemetry.FloatValue(20 + float64(i)),
			"active":      telemetry.BoolValue(i%2 == 0),
		})
	}

	rows, err := b.QueryRange(context.Background(), testPath, telemetry.RangeQuery{Limit: 10})
	if err != nil {
		t.Fatalf("QueryRange: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}

	// Newest first, fields grouped per timestamp, keys carry the series path.
	if !rows[0].Time.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("rows[0].Time = %v, want newest", rows[0].Time)
	}
	if got := rows[0].Columns[testPath+".temperature"]; got != 22.0 {
		t.Errorf("temperature = %v, want 22", got)
	}
	if got := rows[0].Columns[testPath+".active"]; got != true {
		t.Errorf("active = %v, want true", got)
	}
}

func TestQueryRangeMeasurementFilter(t *testing.T) {
	b := newTestBackend(t)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	writeTestPoint(t, b, testPath, ts, map[string]telemetry.Value{
		"temperature": telemetry.FloatValue(21),
		"humidity":    telemetry.FloatValue(40),
	})

	rows, err := b.QueryRange(context.Background(), testPath, telemetry.RangeQuery{
		Measurement: "temperature",
		Limit:       10,
	})
	if err != nil {
		t.Fatalf("QueryRange: %v", err)
	}
	if len(rows) != 1 || len(rows[0].Columns) != 1 {
		t.Fatalf("rows = %+v, want one row with one column", rows)
	}
}

func TestQueryRangeTimeBounds(t *testing.T) {
	b := newTestBackend(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		writeTestPoint(t, b, testPath, base.Add(time.Duration(i)*time.Hour), map[string]telemetry.Value{
			"temperature": telemetry.FloatValue(float64(i)),
		})
	}

	// Bounds are inclusive on both sides.
	rows, err := b.QueryRange(context.Background(), testPath, telemetry.RangeQuery{
		Range: telemetry.TimeRange{Start: base.Add(time.Hour), End: base.Add(3 * time.Hour)},
		Limit: 10,
	})
	if err != nil {
		t.Fatalf("QueryRange: %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("got %d rows, want 3", len(rows))
	}
}

func TestQueryRangePaginatesWholePoints(t *testing.T) {
	b := newTestBackend(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Each point is two field rows; pagination counts points, not rows.
	for i := 0; i < 4; i++ {
		writeTestPoint(t, b, testPath, base.Add(time.Duration(i)*time.Minute), map[string]telemetry.Value{
			"temperature": telemetry.FloatValue(float64(i)),
			"humidity":    telemetry.FloatValue(float64(i * 10)),
		})
	}

	rows, err := b.QueryRange(context.Background(), testPath, telemetry.RangeQuery{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("QueryRange: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	for i, row := range rows {
		if len(row.Columns) != 2 {
			t.Errorf("rows[%d] has %d columns, want whole point with 2", i, len(row.Columns))
		}
	}
	if !rows[0].Time.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("rows[0].Time = %v, want second-newest point", rows[0].Time)
	}
}

func TestQueryRangeTenantPrefix(t *testing.T) {
	b := newTestBackend(t)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tenantPath := "root.iotflow.tenants.tenant_1.devices"

	writeTestPoint(t, b, tenantPath+".device_a", ts, map[string]telemetry.Value{
		"temperature": telemetry.FloatValue(1),
	})
	writeTestPoint(t, b, tenantPath+".device_b", ts, map[string]telemetry.Value{
		"temperature": telemetry.FloatValue(2),
	})
	// Another tenant stays invisible.
	writeTestPoint(t, b, "root.iotflow.tenants.tenant_2.devices.device_c", ts, map[string]telemetry.Value{
		"temperature": telemetry.FloatValue(3),
	})

	rows, err := b.QueryRange(context.Background(), tenantPath, telemetry.RangeQuery{Limit: 10})
	if err != nil {
		t.Fatalf("QueryRange: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("got %d rows, want 2 devices of tenant 1", len(rows))
	}
}

func TestLatest(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	row, err := b.Latest(ctx, testPath)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if row != nil {
		t.Errorf("Latest = %+v, want nil for no data", row)
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	writeTestPoint(t, b, testPath, base, map[string]telemetry.Value{"temperature": telemetry.FloatValue(20)})
	writeTestPoint(t, b, testPath, base.Add(time.Minute), map[string]telemetry.Value{"temperature": telemetry.FloatValue(21)})

	row, err = b.Latest(ctx, testPath)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if row == nil {
		t.Fatal("Latest = nil, want newest row")
	}
	if got := row.Columns[testPath+".temperature"]; got != 21.0 {
		t.Errorf("temperature = %v, want 21", got)
	}
}

func TestCount(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		writeTestPoint(t, b, testPath, base.Add(time.Duration(i)*time.Minute), map[string]telemetry.Value{
			"temperature": telemetry.FloatValue(float64(i)),
			"humidity":    telemetry.FloatValue(float64(i)),
		})
	}

	// Without a measurement: whole points.
	count, err := b.Count(ctx, testPath, "", telemetry.TimeRange{})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 3 {
		t.Errorf("point count = %d, want 3", count)
	}

	// With a measurement: that measurement's values.
	count, err = b.Count(ctx, testPath, "humidity", telemetry.TimeRange{})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 3 {
		t.Errorf("humidity count = %d, want 3", count)
	}
}

func TestAggregate(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, v := range []float64{10, 20, 30} {
		writeTestPoint(t, b, testPath, base.Add(time.Duration(i)*time.Minute), map[string]telemetry.Value{
			"temperature": telemetry.FloatValue(v),
		})
	}

	tests := []struct {
		fn   telemetry.AggFunc
		want float64
	}{
		{telemetry.AggAvg, 20},
		{telemetry.AggSum, 60},
		{telemetry.AggMin, 10},
		{telemetry.AggMax, 30},
		{telemetry.AggCount, 3},
	}
	for _, tt := range tests {
		t.Run(string(tt.fn), func(t *testing.T) {
			got, err := b.Aggregate(ctx, testPath, "temperature", tt.fn, telemetry.TimeRange{})
			if err != nil {
				t.Fatalf("Aggregate(%s): %v", tt.fn, err)
			}
			if got != tt.want {
				t.Errorf("Aggregate(%s) = %v, want %v", tt.fn, got, tt.want)
			}
		})
	}
}

func TestAggregateIntegerValues(t *testing.T) {
	b := newTestBackend(t)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	writeTestPoint(t, b, testPath, ts, map[string]telemetry.Value{"pulses": telemetry.IntValue(4)})
	writeTestPoint(t, b, testPath, ts.Add(time.Minute), map[string]telemetry.Value{"pulses": telemetry.IntValue(6)})

	got, err := b.Aggregate(context.Background(), testPath, "pulses", telemetry.AggAvg, telemetry.TimeRange{})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if got != 5 {
		t.Errorf("avg = %v, want 5", got)
	}
}

func TestAggregateInvalidFunction(t *testing.T) {
	b := newTestBackend(t)
	_, err := b.Aggregate(context.Background(), testPath, "temperature", telemetry.AggFunc("median"), telemetry.TimeRange{})
	if !errors.Is(err, telemetry.ErrInvalidAggregation) {
		t.Errorf("error = %v, want ErrInvalidAggregation", err)
	}
}

func TestDeleteRange(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		writeTestPoint(t, b, testPath, base.Add(time.Duration(i)*time.Hour), map[string]telemetry.Value{
			"temperature": telemetry.FloatValue(float64(i)),
		})
	}

	err := b.DeleteRange(ctx, testPath, telemetry.TimeRange{
		Start: base.Add(time.Hour),
		End:   base.Add(3 * time.Hour),
	})
	if err != nil {
		t.Fatalf("DeleteRange: %v", err)
	}

	count, err := b.Count(ctx, testPath, "", telemetry.TimeRange{})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 2 {
		t.Errorf("count after delete = %d, want 2", count)
	}
}

func TestTextValuesRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	writeTestPoint(t, b, testPath, ts, map[string]telemetry.Value{
		"state":  telemetry.TextValue("charging"),
		"config": telemetry.JSONValue(`{"interval":30}`),
	})

	row, err := b.Latest(context.Background(), testPath)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if row == nil {
		t.Fatal("Latest = nil")
	}
	if got := row.Columns[testPath+".state"]; got != "charging" {
		t.Errorf("state = %v, want charging", got)
	}
	if got := row.Columns[testPath+".config"]; got != `{"interval":30}` {
		t.Errorf("config = %v, want raw JSON text", got)
	}
}

func TestClosedBackendUnavailable(t *testing.T) {
	b := newTestBackend(t)
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if b.Available() {
		t.Error("Available = true after Close")
	}
	err := b.WritePoint(context.Background(), testPath, time.Now(), map[string]telemetry.Value{
		"temperature": telemetry.FloatValue(1),
	})
	if !errors.Is(err, telemetry.ErrUnavailable) {
		t.Errorf("WritePoint error = %v, want ErrUnavailable", err)
	}
}
