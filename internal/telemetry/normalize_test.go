package telemetry

import (
	"math"
	"reflect"
	"testing"
	"time"
)

func TestNormalizeRow(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	path := "root.iotflow.tenants.tenant_1.devices.device_42"

	row := Row{
		Time: ts,
		Columns: map[string]any{
			path + ".temperature":   21.5,
			path + ".active":        true,
			path + ".meta_location": "attic",
			path + ".meta_firmware": "1.2.0",
		},
	}

	rec := NormalizeRow(row, "42")

	if rec.Timestamp != "2026-03-01T12:00:00Z" {
		t.Errorf("Timestamp = %q, want RFC 3339 UTC", rec.Timestamp)
	}
	if rec.DeviceID != "42" {
		t.Errorf("DeviceID = %q, want %q", rec.DeviceID, "42")
	}

	wantMeasurements := map[string]any{"temperature": 21.5, "active": true}
	if !reflect.DeepEqual(rec.Measurements, wantMeasurements) {
		t.Errorf("Measurements = %v, want %v", rec.Measurements, wantMeasurements)
	}

	wantMetadata := map[string]any{"location": "attic", "firmware": "1.2.0"}
	if !reflect.DeepEqual(rec.Metadata, wantMetadata) {
		t.Errorf("Metadata = %v, want %v", rec.Metadata, wantMetadata)
	}
}

func TestNormalizeRowDropsAbsentValues(t *testing.T) {
	row := Row{
		Time: time.Now().UTC(),
		Columns: map[string]any{
			"temperature": math.NaN(),
			"humidity":    nil,
			"valid":       55.0,
		},
	}

	rec := NormalizeRow(row, "d")
	if _, ok := rec.Measurements["temperature"]; ok {
		t.Error("NaN value should be dropped")
	}
	if _, ok := rec.Measurements["humidity"]; ok {
		t.Error("nil value should be dropped")
	}
	if rec.Measurements["valid"] != 55.0 {
		t.Errorf("valid = %v, want 55", rec.Measurements["valid"])
	}
}

func TestNormalizeRowDecodesValues(t *testing.T) {
	row := Row{
		Time: time.Now().UTC(),
		Columns: map[string]any{
			"config":  `{"interval": 30}`,
			"label":   []byte("sensor-a"),
			"numeric": "42",
			"gone":    "null",
		},
	}

	rec := NormalizeRow(row, "d")

	config, ok := rec.Measurements["config"].(map[string]any)
	if !ok || config["interval"] != float64(30) {
		t.Errorf("config = %v, want decoded JSON object", rec.Measurements["config"])
	}
	if rec.Measurements["label"] != "sensor-a" {
		t.Errorf("label = %v, want utf-8 decoded text", rec.Measurements["label"])
	}
	// A plain numeric string stays text: the producer wrote a string.
	if rec.Measurements["numeric"] != "42" {
		t.Errorf("numeric = %v, want %q", rec.Measurements["numeric"], "42")
	}
	if _, ok := rec.Measurements["gone"]; ok {
		t.Error("JSON null should collapse to absent")
	}
}

func TestNormalizeRowMetadataOmittedWhenEmpty(t *testing.T) {
	rec := NormalizeRow(Row{Time: time.Now(), Columns: map[string]any{"x": 1.0}}, "d")
	if rec.Metadata != nil {
		t.Errorf("Metadata = %v, want nil", rec.Metadata)
	}
}
