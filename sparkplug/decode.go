package sparkplug

import (
	stderrors "errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/c360/sparkbridge/errors"
)

// MaxNestingDepth bounds template recursion so a hostile payload cannot
// exhaust the stack.
const MaxNestingDepth = 16

// Field numbers from sparkplug_b.proto.
const (
	payloadTimestamp protowire.Number = 1
	payloadMetrics   protowire.Number = 2
	payloadSeq       protowire.Number = 3
	payloadUUID      protowire.Number = 4
	payloadBody      protowire.Number = 5

	metricName         protowire.Number = 1
	metricAlias        protowire.Number = 2
	metricTimestamp    protowire.Number = 3
	metricDataType     protowire.Number = 4
	metricIsHistorical protowire.Number = 5
	metricIsTransient  protowire.Number = 6
	metricIsNull       protowire.Number = 7
	metricInt          protowire.Number = 10
	metricLong         protowire.Number = 11
	metricFloat        protowire.Number = 12
	metricDouble       protowire.Number = 13
	metricBoolean      protowire.Number = 14
	metricString       protowire.Number = 15
	metricBytes        protowire.Number = 16
	metricDataSet      protowire.Number = 17
	metricTemplate     protowire.Number = 18
	metricExtension    protowire.Number = 19

	templateMetrics protowire.Number = 2
)

// DecodeError reports a malformed payload. Offset is the byte position in the
// top-level buffer where decoding stopped.
type DecodeError struct {
	Offset int
	Field  string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("sparkplug: decode %s at offset %d: %s", e.Field, e.Offset, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the protowire cause and errors.ErrDecode.
func (e *DecodeError) Unwrap() []error {
	if e.Err != nil {
		return []error{errors.ErrDecode, e.Err}
	}
	return []error{errors.ErrDecode}
}

// IsDecodeError reports whether err is or wraps a *DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return stderrors.As(err, &de)
}

func parseErr(off int, field string, n int) error {
	return &DecodeError{Offset: off, Field: field, Reason: "malformed wire data", Err: protowire.ParseError(n)}
}

func wireTypeErr(off int, field string, got protowire.Type) error {
	return &DecodeError{Offset: off, Field: field, Reason: fmt.Sprintf("unexpected wire type %d", got)}
}

// Decode parses a Sparkplug B payload. It never panics on corrupt input; any
// framing problem, truncation, wire type mismatch or unknown datatype is
// returned as a *DecodeError. Metrics whose datatype does not match the
// populated value field decode with an absent Value.
func Decode(b []byte) (*Payload, error) {
	p := &Payload{}
	err := walkFields(b, 0, func(num protowire.Number, typ protowire.Type, v []byte, off int) (int, error) {
		switch num {
		case payloadTimestamp:
			return consumeVarint(typ, v, off, "payload.timestamp", &p.Timestamp)
		case payloadSeq:
			return consumeVarint(typ, v, off, "payload.seq", &p.Seq)
		case payloadUUID:
			var raw []byte
			n, err := consumeBytes(typ, v, off, "payload.uuid", &raw)
			p.UUID = string(raw)
			return n, err
		case payloadBody:
			return consumeBytes(typ, v, off, "payload.body", &p.Body)
		case payloadMetrics:
			var raw []byte
			n, err := consumeBytes(typ, v, off, "payload.metrics", &raw)
			if err != nil {
				return 0, err
			}
			m, err := decodeMetric(raw, off+n-len(raw), 0)
			if err != nil {
				return 0, err
			}
			p.Metrics = append(p.Metrics, m)
			return n, nil
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// rawValue remembers the last populated member of the value oneof.
type rawValue struct {
	field protowire.Number
	off   int
	bits  uint64
	buf   []byte
}

func decodeMetric(b []byte, base, depth int) (Metric, error) {
	var (
		m  Metric
		rv rawValue
	)
	err := walkFields(b, base, func(num protowire.Number, typ protowire.Type, v []byte, off int) (int, error) {
		switch num {
		case metricName:
			var raw []byte
			n, err := consumeBytes(typ, v, off, "metric.name", &raw)
			m.Name = string(raw)
			return n, err
		case metricAlias:
			return consumeVarint(typ, v, off, "metric.alias", &m.Alias)
		case metricTimestamp:
			return consumeVarint(typ, v, off, "metric.timestamp", &m.Timestamp)
		case metricDataType:
			var dt uint64
			n, err := consumeVarint(typ, v, off, "metric.datatype", &dt)
			if err != nil {
				return 0, err
			}
			if dt > uint64(maxDataType) {
				return 0, &DecodeError{Offset: off, Field: "metric.datatype", Reason: fmt.Sprintf("unknown datatype %d", dt)}
			}
			m.DataType = DataType(dt)
			return n, nil
		case metricIsHistorical, metricIsTransient, metricIsNull:
			var flag uint64
			n, err := consumeVarint(typ, v, off, "metric.flags", &flag)
			switch num {
			case metricIsHistorical:
				m.IsHistorical = flag != 0
			case metricIsTransient:
				m.IsTransient = flag != 0
			default:
				m.IsNull = flag != 0
			}
			return n, err
		case metricInt, metricLong, metricBoolean:
			rv = rawValue{field: num, off: off}
			return consumeVarint(typ, v, off, "metric.value", &rv.bits)
		case metricFloat:
			if typ != protowire.Fixed32Type {
				return 0, wireTypeErr(off, "metric.float_value", typ)
			}
			x, n := protowire.ConsumeFixed32(v)
			if n < 0 {
				return 0, parseErr(off, "metric.float_value", n)
			}
			rv = rawValue{field: num, off: off, bits: uint64(x)}
			return n, nil
		case metricDouble:
			if typ != protowire.Fixed64Type {
				return 0, wireTypeErr(off, "metric.double_value", typ)
			}
			x, n := protowire.ConsumeFixed64(v)
			if n < 0 {
				return 0, parseErr(off, "metric.double_value", n)
			}
			rv = rawValue{field: num, off: off, bits: x}
			return n, nil
		case metricString, metricBytes, metricDataSet, metricTemplate, metricExtension:
			rv = rawValue{field: num}
			n, err := consumeBytes(typ, v, off, "metric.value", &rv.buf)
			rv.off = off + n - len(rv.buf)
			return n, err
		}
		return 0, nil
	})
	if err != nil {
		return Metric{}, err
	}

	if m.IsNull || rv.field == 0 {
		return m, nil
	}
	if err := resolveValue(&m, rv, depth); err != nil {
		return Metric{}, err
	}
	return m, nil
}

// resolveValue maps the populated wire field onto a Value using the declared
// datatype. A datatype of Unknown falls back to the field's natural kind,
// which is what DATA messages that rely on birth-time aliases look like.
func resolveValue(m *Metric, rv rawValue, depth int) error {
	dt := m.DataType
	if dt == TypeUnknown {
		dt = naturalType(rv.field)
	}

	switch {
	case dt.isSignedInt() && (rv.field == metricInt || rv.field == metricLong):
		m.Value = Int(signExtend(dt, rv.bits))
	case dt.isUnsignedInt() && (rv.field == metricInt || rv.field == metricLong):
		if rv.field == metricInt {
			rv.bits = uint64(uint32(rv.bits))
		}
		m.Value = Uint(rv.bits)
	case dt == TypeFloat && rv.field == metricFloat:
		m.Value = Float(math.Float32frombits(uint32(rv.bits)))
	case dt == TypeDouble && rv.field == metricDouble:
		m.Value = Double(math.Float64frombits(rv.bits))
	case dt == TypeBoolean && rv.field == metricBoolean:
		m.Value = Bool(rv.bits != 0)
	case (dt == TypeString || dt == TypeText || dt == TypeUUID) && rv.field == metricString:
		m.Value = String(string(rv.buf))
	case (dt == TypeBytes || dt == TypeFile || dt.isArray()) && rv.field == metricBytes:
		m.Value = Bytes(rv.buf)
	case dt == TypeDataSet && rv.field == metricDataSet:
		m.Value = DataSet(rv.buf)
	case dt == TypeTemplate && rv.field == metricTemplate:
		if depth+1 > MaxNestingDepth {
			return &DecodeError{Offset: rv.off, Field: "metric.template_value", Reason: "template nesting too deep"}
		}
		nested, err := decodeTemplate(rv.buf, rv.off, depth+1)
		if err != nil {
			return err
		}
		m.Value = Template()
		m.Nested = nested
	}
	return nil
}

func naturalType(field protowire.Number) DataType {
	switch field {
	case metricInt:
		return TypeUInt32
	case metricLong:
		return TypeUInt64
	case metricFloat:
		return TypeFloat
	case metricDouble:
		return TypeDouble
	case metricBoolean:
		return TypeBoolean
	case metricString:
		return TypeString
	case metricBytes:
		return TypeBytes
	case metricDataSet:
		return TypeDataSet
	case metricTemplate:
		return TypeTemplate
	}
	return TypeUnknown
}

func signExtend(dt DataType, bits uint64) int64 {
	switch dt {
	case TypeInt8:
		return int64(int8(bits))
	case TypeInt16:
		return int64(int16(bits))
	case TypeInt32:
		return int64(int32(bits))
	}
	return int64(bits)
}

func decodeTemplate(b []byte, base, depth int) ([]Metric, error) {
	var nested []Metric
	err := walkFields(b, base, func(num protowire.Number, typ protowire.Type, v []byte, off int) (int, error) {
		if num != templateMetrics {
			return 0, nil
		}
		var raw []byte
		n, err := consumeBytes(typ, v, off, "template.metrics", &raw)
		if err != nil {
			return 0, err
		}
		m, err := decodeMetric(raw, off+n-len(raw), depth)
		if err != nil {
			return 0, err
		}
		nested = append(nested, m)
		return n, nil
	})
	return nested, err
}

// fieldFunc handles one field value starting at v. It returns how many bytes
// it consumed, or 0 to have the field skipped.
type fieldFunc func(num protowire.Number, typ protowire.Type, v []byte, off int) (int, error)

func walkFields(b []byte, base int, fn fieldFunc) error {
	pos := 0
	for pos < len(b) {
		num, typ, n := protowire.ConsumeTag(b[pos:])
		if n < 0 {
			return parseErr(base+pos, "tag", n)
		}
		pos += n

		used, err := fn(num, typ, b[pos:], base+pos)
		if err != nil {
			return err
		}
		if used == 0 {
			used = protowire.ConsumeFieldValue(num, typ, b[pos:])
			if used < 0 {
				return parseErr(base+pos, fmt.Sprintf("field %d", num), used)
			}
		}
		pos += used
	}
	return nil
}

func consumeVarint(typ protowire.Type, v []byte, off int, field string, dst *uint64) (int, error) {
	if typ != protowire.VarintType {
		return 0, wireTypeErr(off, field, typ)
	}
	x, n := protowire.ConsumeVarint(v)
	if n < 0 {
		return 0, parseErr(off, field, n)
	}
	*dst = x
	return n, nil
}

func consumeBytes(typ protowire.Type, v []byte, off int, field string, dst *[]byte) (int, error) {
	if typ != protowire.BytesType {
		return 0, wireTypeErr(off, field, typ)
	}
	x, n := protowire.ConsumeBytes(v)
	if n < 0 {
		return 0, parseErr(off, field, n)
	}
	*dst = x
	return n, nil
}
