package sparkplug

import (
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
)

// Kind identifies which variant of a Value is populated.
type Kind uint8

// Value kinds. KindAbsent marks a metric whose payload carried no value that
// matches its datatype.
const (
	KindAbsent Kind = iota
	KindInt
	KindUint
	KindFloat
	KindDouble
	KindBool
	KindString
	KindBytes
	KindDataSet
	KindTemplate
)

var kindNames = [...]string{"absent", "int", "uint", "float", "double", "bool", "string", "bytes", "dataset", "template"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is a tagged union over the Sparkplug metric value variants. The zero
// Value is absent.
type Value struct {
	kind Kind
	bits uint64 // int, uint, bool and float bit patterns
	str  string
	raw  []byte
}

// Int returns a signed integer value.
func Int(v int64) Value { return Value{kind: KindInt, bits: uint64(v)} }

// Uint returns an unsigned integer value.
func Uint(v uint64) Value { return Value{kind: KindUint, bits: v} }

// Float returns a 32-bit float value.
func Float(v float32) Value { return Value{kind: KindFloat, bits: uint64(math.Float32bits(v))} }

// Double returns a 64-bit float value.
func Double(v float64) Value { return Value{kind: KindDouble, bits: math.Float64bits(v)} }

// Bool returns a boolean value.
func Bool(v bool) Value {
	var bits uint64
	if v {
		bits = 1
	}
	return Value{kind: KindBool, bits: bits}
}

// String returns a string value.
func String(v string) Value { return Value{kind: KindString, str: v} }

// Bytes returns a bytes value. The slice is retained.
func Bytes(v []byte) Value { return Value{kind: KindBytes, raw: v} }

// DataSet returns a dataset value holding the undecoded DataSet message.
func DataSet(raw []byte) Value { return Value{kind: KindDataSet, raw: raw} }

// Template returns the marker value for a template metric. The template's
// members live in Metric.Nested.
func Template() Value { return Value{kind: KindTemplate} }

// Kind returns the populated variant.
func (v Value) Kind() Kind { return v.kind }

// IsAbsent reports whether no variant is populated.
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// AsInt returns the value as int64 for int and uint kinds.
func (v Value) AsInt() (int64, bool) {
	switch v.kind {
	case KindInt, KindUint:
		return int64(v.bits), true
	}
	return 0, false
}

// AsUint returns the value for the uint kind.
func (v Value) AsUint() (uint64, bool) {
	if v.kind == KindUint {
		return v.bits, true
	}
	return 0, false
}

// AsFloat returns float and double kinds as float64.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return float64(math.Float32frombits(uint32(v.bits))), true
	case KindDouble:
		return math.Float64frombits(v.bits), true
	}
	return 0, false
}

// AsBool returns the value for the bool kind.
func (v Value) AsBool() (bool, bool) {
	if v.kind == KindBool {
		return v.bits != 0, true
	}
	return false, false
}

// AsString returns the value for the string kind.
func (v Value) AsString() (string, bool) {
	if v.kind == KindString {
		return v.str, true
	}
	return "", false
}

// AsBytes returns the raw bytes for bytes and dataset kinds.
func (v Value) AsBytes() ([]byte, bool) {
	switch v.kind {
	case KindBytes, KindDataSet:
		return v.raw, true
	}
	return nil, false
}

// Interface returns the value as a plain Go value suitable for JSON encoding.
// Absent and template values return nil. NaN and infinities have no JSON
// number form and come back as their String text ("NaN", "+Inf", "-Inf").
func (v Value) Interface() any {
	switch v.kind {
	case KindInt:
		return int64(v.bits)
	case KindUint:
		return v.bits
	case KindFloat:
		f := math.Float32frombits(uint32(v.bits))
		if !finite(float64(f)) {
			return v.String()
		}
		return f
	case KindDouble:
		f := math.Float64frombits(v.bits)
		if !finite(f) {
			return v.String()
		}
		return f
	case KindBool:
		return v.bits != 0
	case KindString:
		return v.str
	case KindBytes, KindDataSet:
		return v.raw
	}
	return nil
}

// String renders the value the way it is pushed to subscribers. Floats use the
// shortest representation for their width, so a float32 0.87 prints as 0.87.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(int64(v.bits), 10)
	case KindUint:
		return strconv.FormatUint(v.bits, 10)
	case KindFloat:
		return strconv.FormatFloat(float64(math.Float32frombits(uint32(v.bits))), 'g', -1, 32)
	case KindDouble:
		return strconv.FormatFloat(math.Float64frombits(v.bits), 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.bits != 0)
	case KindString:
		return v.str
	case KindBytes, KindDataSet:
		return base64.StdEncoding.EncodeToString(v.raw)
	case KindTemplate:
		return "<template>"
	case KindAbsent:
		return "<absent>"
	}
	return fmt.Sprintf("<%s>", v.kind)
}

// Equal reports whether two values hold the same variant and contents.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind || v.bits != o.bits || v.str != o.str || len(v.raw) != len(o.raw) {
		return false
	}
	for i := range v.raw {
		if v.raw[i] != o.raw[i] {
			return false
		}
	}
	return true
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
