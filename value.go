package symphonycore

import "fmt"

// ValueKind tags the variant carried by a Value. Source systems like this
// one pass open-ended mapping<string, object> dictionaries around (stimulus
// parameters, epoch properties, node configurations); Go has no "object"
// type, so Value is the tagged union DESIGN.md's grounding calls for in its
// place: one variant per supported primitive, one per primitive array, a
// Measurement variant, and a string fallback for anything else.
type ValueKind int

const (
	KindInt ValueKind = iota
	KindFloat
	KindBool
	KindString
	KindMeasurement
	KindIntArray
	KindFloatArray
	KindBoolArray
	KindStringArray
)

// Value is a single entry of an ambient properties/parameters dictionary.
type Value struct {
	Kind        ValueKind
	IntVal      int64
	FloatVal    float64
	BoolVal     bool
	StringVal   string
	Measurement Measurement
	IntArray    []int64
	FloatArray  []float64
	BoolArray   []bool
	StringArray []string
}

func IntValue(v int64) Value            { return Value{Kind: KindInt, IntVal: v} }
func FloatValue(v float64) Value        { return Value{Kind: KindFloat, FloatVal: v} }
func BoolValue(v bool) Value            { return Value{Kind: KindBool, BoolVal: v} }
func StringValue(v string) Value        { return Value{Kind: KindString, StringVal: v} }
func MeasurementValue(v Measurement) Value {
	return Value{Kind: KindMeasurement, Measurement: v}
}
func IntArrayValue(v []int64) Value    { return Value{Kind: KindIntArray, IntArray: v} }
func FloatArrayValue(v []float64) Value { return Value{Kind: KindFloatArray, FloatArray: v} }
func BoolArrayValue(v []bool) Value    { return Value{Kind: KindBoolArray, BoolArray: v} }
func StringArrayValue(v []string) Value {
	return Value{Kind: KindStringArray, StringArray: v}
}

// Supported reports whether Kind is one of the defined scalar, array or
// Measurement variants. A Value is always "supported" in memory; the
// persistor's SetAttribute writes the scalar kinds and Measurement
// natively and writes the array kinds in their String() form, so arrays
// do not read back as arrays.
func (v Value) Supported() bool {
	switch v.Kind {
	case KindInt, KindFloat, KindBool, KindString, KindMeasurement,
		KindIntArray, KindFloatArray, KindBoolArray, KindStringArray:
		return true
	default:
		return false
	}
}

// String renders the fallback string form used when a property's value
// cannot be stored as one of the persistor's supported scalar types.
func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return fmt.Sprintf("%d", v.IntVal)
	case KindFloat:
		return fmt.Sprintf("%g", v.FloatVal)
	case KindBool:
		return fmt.Sprintf("%t", v.BoolVal)
	case KindString:
		return v.StringVal
	case KindMeasurement:
		return v.Measurement.DisplayString()
	case KindIntArray:
		return fmt.Sprintf("%v", v.IntArray)
	case KindFloatArray:
		return fmt.Sprintf("%v", v.FloatArray)
	case KindBoolArray:
		return fmt.Sprintf("%v", v.BoolArray)
	case KindStringArray:
		return fmt.Sprintf("%v", v.StringArray)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Equal compares two Values by kind and content.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindInt:
		return v.IntVal == other.IntVal
	case KindFloat:
		return v.FloatVal == other.FloatVal
	case KindBool:
		return v.BoolVal == other.BoolVal
	case KindString:
		return v.StringVal == other.StringVal
	case KindMeasurement:
		return v.Measurement.Equal(other.Measurement)
	case KindIntArray:
		return int64SliceEqual(v.IntArray, other.IntArray)
	case KindFloatArray:
		return float64SliceEqual(v.FloatArray, other.FloatArray)
	case KindBoolArray:
		return boolSliceEqual(v.BoolArray, other.BoolArray)
	case KindStringArray:
		return stringSliceEqual(v.StringArray, other.StringArray)
	}
	return false
}

func int64SliceEqual(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func float64SliceEqual(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func boolSliceEqual(a, b []bool) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
