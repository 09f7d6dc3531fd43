package sparkplug

import "google.golang.org/protobuf/encoding/protowire"

// Encode serializes p in Sparkplug B wire format. The value field written for
// each metric follows its DataType, or the Value kind when DataType is Unknown.
// Absent values are omitted.
func Encode(p *Payload) []byte {
	var b []byte
	if p.Timestamp != 0 {
		b = protowire.AppendTag(b, payloadTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, p.Timestamp)
	}
	for i := range p.Metrics {
		b = protowire.AppendTag(b, payloadMetrics, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeMetric(&p.Metrics[i]))
	}
	if p.Seq != 0 {
		b = protowire.AppendTag(b, payloadSeq, protowire.VarintType)
		b = protowire.AppendVarint(b, p.Seq)
	}
	if p.UUID != "" {
		b = protowire.AppendTag(b, payloadUUID, protowire.BytesType)
		b = protowire.AppendString(b, p.UUID)
	}
	if len(p.Body) > 0 {
		b = protowire.AppendTag(b, payloadBody, protowire.BytesType)
		b = protowire.AppendBytes(b, p.Body)
	}
	return b
}

func encodeMetric(m *Metric) []byte {
	var b []byte
	if m.Name != "" {
		b = protowire.AppendTag(b, metricName, protowire.BytesType)
		b = protowire.AppendString(b, m.Name)
	}
	if m.Alias != 0 {
		b = protowire.AppendTag(b, metricAlias, protowire.VarintType)
		b = protowire.AppendVarint(b, m.Alias)
	}
	if m.Timestamp != 0 {
		b = protowire.AppendTag(b, metricTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, m.Timestamp)
	}
	if m.DataType != TypeUnknown {
		b = protowire.AppendTag(b, metricDataType, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.DataType))
	}
	b = appendFlag(b, metricIsHistorical, m.IsHistorical)
	b = appendFlag(b, metricIsTransient, m.IsTransient)
	b = appendFlag(b, metricIsNull, m.IsNull)

	v := m.Value
	switch v.kind {
	case KindInt, KindUint:
		if m.DataType == TypeInt8 || m.DataType == TypeInt16 || m.DataType == TypeInt32 ||
			m.DataType == TypeUInt8 || m.DataType == TypeUInt16 || m.DataType == TypeUInt32 {
			b = protowire.AppendTag(b, metricInt, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(uint32(v.bits)))
		} else {
			b = protowire.AppendTag(b, metricLong, protowire.VarintType)
			b = protowire.AppendVarint(b, v.bits)
		}
	case KindFloat:
		b = protowire.AppendTag(b, metricFloat, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, uint32(v.bits))
	case KindDouble:
		b = protowire.AppendTag(b, metricDouble, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, v.bits)
	case KindBool:
		b = protowire.AppendTag(b, metricBoolean, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(v.bits != 0))
	case KindString:
		b = protowire.AppendTag(b, metricString, protowire.BytesType)
		b = protowire.AppendString(b, v.str)
	case KindBytes:
		b = protowire.AppendTag(b, metricBytes, protowire.BytesType)
		b = protowire.AppendBytes(b, v.raw)
	case KindDataSet:
		b = protowire.AppendTag(b, metricDataSet, protowire.BytesType)
		b = protowire.AppendBytes(b, v.raw)
	case KindTemplate:
		var t []byte
		for i := range m.Nested {
			t = protowire.AppendTag(t, templateMetrics, protowire.BytesType)
			t = protowire.AppendBytes(t, encodeMetric(&m.Nested[i]))
		}
		b = protowire.AppendTag(b, metricTemplate, protowire.BytesType)
		b = protowire.AppendBytes(b, t)
	}
	return b
}

func appendFlag(b []byte, num protowire.Number, set bool) []byte {
	if !set {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

// NewDoubleMetric is a convenience for building double metrics.
func NewDoubleMetric(name string, v float64, ts uint64) Metric {
	return Metric{Name: name, Timestamp: ts, DataType: TypeDouble, Value: Double(v)}
}

// NewTemplateMetric wraps members in a template metric.
func NewTemplateMetric(name string, ts uint64, members ...Metric) Metric {
	return Metric{Name: name, Timestamp: ts, DataType: TypeTemplate, Value: Template(), Nested: members}
}
