package telemetry

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

// MetadataPrefix namespaces metadata columns so they can never collide with
// device-supplied measurement names.
const MetadataPrefix = "meta_"

// Record is one normalized telemetry row as returned to callers.
type Record struct {
	// Timestamp is the row time as a UTC RFC 3339 string.
	Timestamp string `json:"timestamp"`

	// DeviceID identifies the originating device.
	DeviceID string `json:"device_id"`

	// Measurements holds the normalized measurement columns.
	Measurements map[string]any `json:"measurements"`

	// Metadata holds columns written with the reserved metadata prefix,
	// with the prefix stripped. Omitted when empty.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NormalizeRow converts a backend row into a caller-facing Record.
//
// Column names may be full series paths; only the final path segment is kept.
// Per-value normalization:
//   - byte strings are decoded as UTF-8, falling back to a string rendering
//   - NaN and nil collapse to absent (the column is dropped)
//   - text that parses as JSON is replaced by the decoded structure
func NormalizeRow(row Row, deviceID string) Record {
	rec := Record{
		Timestamp:    row.Time.UTC().Format(time.RFC3339),
		DeviceID:     deviceID,
		Measurements: make(map[string]any, len(row.Columns)),
	}

	for column, raw := range row.Columns {
		value, ok := normalizeValue(raw)
		if !ok {
			continue
		}

		name := lastPathSegment(column)
		if strings.HasPrefix(name, MetadataPrefix) {
			if rec.Metadata == nil {
				rec.Metadata = make(map[string]any)
			}
			rec.Metadata[strings.TrimPrefix(name, MetadataPrefix)] = value
			continue
		}
		rec.Measurements[name] = value
	}

	return rec
}

// normalizeValue unwraps one backend column value.
// The second return is false when the value collapses to absent.
func normalizeValue(raw any) (any, bool) {
	switch v := raw.(type) {
	case nil:
		return nil, false
	case []byte:
		return dropNull(normalizeText(decodeBytes(v)))
	case string:
		return dropNull(normalizeText(v))
	case float64:
		if math.IsNaN(v) {
			return nil, false
		}
		return v, true
	case float32:
		if math.IsNaN(float64(v)) {
			return nil, false
		}
		return float64(v), true
	case Value:
		return normalizeValue(v.Native())
	default:
		return v, true
	}
}

// dropNull collapses a JSON-decoded null to absent.
func dropNull(v any) (any, bool) {
	if v == nil {
		return nil, false
	}
	return v, true
}

// decodeBytes decodes a byte string as UTF-8, falling back to a printable
// rendering when the bytes are not valid text.
func decodeBytes(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return fmt.Sprintf("%q", b)
}

// normalizeText attempts a best-effort JSON decode of a text value, keeping
// the raw text when it is not valid JSON. Plain numeric strings stay text:
// a device that writes "42" into a TEXT series meant a string.
func normalizeText(s string) any {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return s
	}
	switch trimmed[0] {
	case '{', '[', '"', 't', 'f', 'n':
		var decoded any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
			return decoded
		}
	}
	return s
}

// lastPathSegment extracts the measurement name from a full series path.
func lastPathSegment(column string) string {
	if i := strings.LastIndexByte(column, '.'); i >= 0 {
		return column[i+1:]
	}
	return column
}
