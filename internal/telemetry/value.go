package telemetry

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ValueKind identifies the storage type of a measurement value.
type ValueKind int

// Storage types supported by the telemetry backends.
const (
	KindBool ValueKind = iota
	KindInt64
	KindFloat64
	KindText
	KindJSON
)

// String returns the lowercase name of the kind.
func (k ValueKind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt64:
		return "int64"
	case KindFloat64:
		return "float64"
	case KindText:
		return "text"
	case KindJSON:
		return "json"
	default:
		return "unknown"
	}
}

// Value is a tagged union over the types a schema-less measurement can carry.
//
// Exactly one payload field is meaningful, selected by Kind. Maps and slices
// are serialised to JSON text at construction time (KindJSON) so backends
// only ever see scalar values.
type Value struct {
	Kind  ValueKind
	Bool  bool
	Int   int64
	Float float64
	Text  string
}

// BoolValue returns a Value holding a boolean.
func BoolValue(v bool) Value { return Value{Kind: KindBool, Bool: v} }

// IntValue returns a Value holding a 64-bit integer.
func IntValue(v int64) Value { return Value{Kind: KindInt64, Int: v} }

// FloatValue returns a Value holding a double.
func FloatValue(v float64) Value { return Value{Kind: KindFloat64, Float: v} }

// TextValue returns a Value holding text.
func TextValue(v string) Value { return Value{Kind: KindText, Text: v} }

// JSONValue returns a Value holding pre-serialised JSON text.
func JSONValue(v string) Value { return Value{Kind: KindJSON, Text: v} }

// ValueOf infers the storage type for a runtime value.
//
// The input is typically an entry from a JSON-decoded measurement map, so
// numbers usually arrive as float64. Whole-valued float64s are kept as
// doubles (the producer sent a JSON number; narrowing to int64 would change
// the series type between writes). Maps and slices are serialised to JSON
// text; anything unrecognised falls back to its string representation.
func ValueOf(v any) Value {
	switch val := v.(type) {
	case bool:
		return BoolValue(val)
	case int:
		return IntValue(int64(val))
	case int32:
		return IntValue(int64(val))
	case int64:
		return IntValue(val)
	case float32:
		return FloatValue(float64(val))
	case float64:
		return FloatValue(val)
	case string:
		return TextValue(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return IntValue(i)
		}
		f, err := val.Float64()
		if err != nil {
			return TextValue(val.String())
		}
		return FloatValue(f)
	case map[string]any, []any:
		encoded, err := json.Marshal(val)
		if err != nil {
			return TextValue(fmt.Sprint(val))
		}
		return JSONValue(string(encoded))
	case nil:
		return TextValue("")
	default:
		return TextValue(fmt.Sprint(val))
	}
}

// Native returns the Go value carried by the union.
// KindJSON values are returned as their raw JSON text.
func (v Value) Native() any {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindInt64:
		return v.Int
	case KindFloat64:
		return v.Float
	default:
		return v.Text
	}
}

// String renders the value for text-oriented storage backends.
func (v Value) String() string {
	switch v.Kind {
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindInt64:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat64:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	default:
		return v.Text
	}
}
