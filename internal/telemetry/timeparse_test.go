package telemetry

import (
	"errors"
	"testing"
	"time"
)

func TestParseTimeExpr(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		expr string
		want time.Time
	}{
		{
			name: "relative hours",
			expr: "-2h",
			want: now.Add(-2 * time.Hour),
		},
		{
			name: "relative days",
			expr: "-7d",
			want: now.Add(-7 * 24 * time.Hour),
		},
		{
			name: "relative unknown unit defaults to one hour",
			expr: "-30m",
			want: now.Add(-time.Hour),
		},
		{
			name: "rfc3339",
			expr: "2026-01-15T10:00:00Z",
			want: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
		},
		{
			name: "rfc3339 with offset",
			expr: "2026-01-15T12:00:00+02:00",
			want: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
		},
		{
			name: "doubled timezone suffix",
			expr: "2026-08-07T17:32:25+00:00Z",
			want: time.Date(2026, 8, 7, 17, 32, 25, 0, time.UTC),
		},
		{
			name: "naive datetime taken as utc",
			expr: "2026-01-15 10:00:00",
			want: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
		},
		{
			name: "epoch seconds",
			expr: "1767225600",
			want: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "epoch milliseconds",
			expr: "1767225600000",
			want: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimeExpr(tt.expr, now)
			if err != nil {
				t.Fatalf("ParseTimeExpr(%q) error: %v", tt.expr, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseTimeExpr(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestParseTimeExprErrors(t *testing.T) {
	now := time.Now().UTC()

	for _, expr := range []string{"", "  ", "not-a-time", "-xh", "2026-13-45T99:00:00Z"} {
		if _, err := ParseTimeExpr(expr, now); !errors.Is(err, ErrInvalidTimestamp) {
			t.Errorf("ParseTimeExpr(%q) error = %v, want ErrInvalidTimestamp", expr, err)
		}
	}
}

func TestParseDeviceTimestamp(t *testing.T) {
	t.Run("nil means no timestamp", func(t *testing.T) {
		got, err := ParseDeviceTimestamp(nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !got.IsZero() {
			t.Errorf("got %v, want zero time", got)
		}
	})

	t.Run("float below cutoff is seconds", func(t *testing.T) {
		got, err := ParseDeviceTimestamp(float64(1767225600))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		if !got.Equal(want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("float above cutoff is milliseconds", func(t *testing.T) {
		got, err := ParseDeviceTimestamp(float64(1767225600000))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		if !got.Equal(want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("string parses as expression", func(t *testing.T) {
		got, err := ParseDeviceTimestamp("2026-01-15T10:00:00Z")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
		if !got.Equal(want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("blank string means no timestamp", func(t *testing.T) {
		got, err := ParseDeviceTimestamp("  ")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !got.IsZero() {
			t.Errorf("got %v, want zero time", got)
		}
	})

	t.Run("unsupported type", func(t *testing.T) {
		if _, err := ParseDeviceTimestamp([]string{"nope"}); !errors.Is(err, ErrInvalidTimestamp) {
			t.Errorf("error = %v, want ErrInvalidTimestamp", err)
		}
	})
}
