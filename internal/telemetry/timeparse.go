package telemetry

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// epochSecondsCutoff separates epoch seconds from epoch milliseconds.
// Numeric timestamps below 10^10 are treated as seconds.
const epochSecondsCutoff = 1e10

// Textual layouts devices are known to send, tried after RFC 3339.
var fallbackLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"01/02/2006 15:04:05",
}

// ParseTimeExpr converts a timestamp expression to a UTC instant.
//
// Accepted forms:
//   - relative shorthand: "-2h", "-7d" (resolved against now)
//   - absolute ISO-8601: "2024-01-15T10:00:00Z"
//   - numeric epoch: seconds or milliseconds, disambiguated by magnitude
//
// Relative expressions with an unrecognised unit fall back to one hour, as
// the ingestion firmware has always been forgiven that mistake. Unparseable
// absolute input returns ErrInvalidTimestamp; the empty string is also an
// error; callers that treat "" as "no bound" must check before calling.
func ParseTimeExpr(expr string, now time.Time) (time.Time, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return time.Time{}, fmt.Errorf("%w: empty expression", ErrInvalidTimestamp)
	}

	if strings.HasPrefix(expr, "-") {
		return parseRelative(expr, now)
	}

	if n, err := strconv.ParseFloat(expr, 64); err == nil {
		return fromEpoch(n), nil
	}

	return parseAbsolute(expr)
}

// ParseDeviceTimestamp parses the optional timestamp field of an inbound
// telemetry payload. JSON decoding yields float64 for numbers and string for
// everything else; nil means the device sent no timestamp.
//
// Returns the zero time with a nil error when the input is nil.
func ParseDeviceTimestamp(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case nil:
		return time.Time{}, nil
	case float64:
		return fromEpoch(v), nil
	case int64:
		return fromEpoch(float64(v)), nil
	case string:
		if strings.TrimSpace(v) == "" {
			return time.Time{}, nil
		}
		return ParseTimeExpr(v, time.Now().UTC())
	default:
		return time.Time{}, fmt.Errorf("%w: unsupported timestamp type %T", ErrInvalidTimestamp, raw)
	}
}

// parseRelative resolves "-<N>h" / "-<N>d" shorthand against now.
func parseRelative(expr string, now time.Time) (time.Time, error) {
	body := strings.TrimPrefix(expr, "-")

	var unit time.Duration
	switch {
	case strings.HasSuffix(body, "h"):
		unit = time.Hour
		body = strings.TrimSuffix(body, "h")
	case strings.HasSuffix(body, "d"):
		unit = 24 * time.Hour
		body = strings.TrimSuffix(body, "d")
	default:
		// Unknown unit: default window of one hour.
		return now.Add(-time.Hour).UTC(), nil
	}

	n, err := strconv.Atoi(body)
	if err != nil || n < 0 {
		return time.Time{}, fmt.Errorf("%w: bad relative expression %q", ErrInvalidTimestamp, expr)
	}

	return now.Add(-time.Duration(n) * unit).UTC(), nil
}

// parseAbsolute parses an ISO-8601 string, normalising the doubled timezone
// suffix some firmwares emit ("+00:00Z") before attempting real parses.
func parseAbsolute(expr string) (time.Time, error) {
	expr = normalizeSuffix(expr)

	if t, err := time.Parse(time.RFC3339Nano, expr); err == nil {
		return t.UTC(), nil
	}

	for _, layout := range fallbackLayouts {
		if t, err := time.Parse(layout, expr); err == nil {
			// Layouts without zone info are taken as UTC.
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, expr)
}

// normalizeSuffix fixes offset-then-Z endings like "2025-08-07T17:32:25+00:00Z".
func normalizeSuffix(expr string) string {
	lower := strings.ToLower(expr)
	if strings.HasSuffix(lower, "+00:00z") {
		return expr[:len(expr)-len("+00:00Z")] + "Z"
	}
	return expr
}

// fromEpoch converts a numeric epoch value to UTC, treating values below
// the cutoff as seconds and everything else as milliseconds.
func fromEpoch(n float64) time.Time {
	if n < epochSecondsCutoff {
		sec := int64(n)
		nsec := int64((n - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec).UTC()
	}
	ms := int64(n)
	return time.UnixMilli(ms).UTC()
}
