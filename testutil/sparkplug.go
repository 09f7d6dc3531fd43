package testutil

import (
	"github.com/c360/sparkbridge/sparkplug"
)

// OperatorTemplate is the template metric name the bridge extracts from.
const OperatorTemplate = "immOperatorInterface"

// TemplatePayload encodes a payload carrying one template metric named
// template with the given members.
func TemplatePayload(template string, ts uint64, members ...sparkplug.Metric) []byte {
	return sparkplug.Encode(&sparkplug.Payload{
		Timestamp: ts,
		Metrics:   []sparkplug.Metric{sparkplug.NewTemplateMetric(template, ts, members...)},
	})
}

// OperatorPayload encodes an operator-interface template with the members.
func OperatorPayload(ts uint64, members ...sparkplug.Metric) []byte {
	return TemplatePayload(OperatorTemplate, ts, members...)
}

// DoubleMember builds a double-valued template member.
func DoubleMember(name string, v float64) sparkplug.Metric {
	return sparkplug.NewDoubleMetric(name, v, 0)
}

// StringMember builds a string-valued template member.
func StringMember(name, v string) sparkplug.Metric {
	return sparkplug.Metric{Name: name, DataType: sparkplug.TypeString, Value: sparkplug.String(v)}
}

// AbsentMember builds a member that carries no value.
func AbsentMember(name string) sparkplug.Metric {
	return sparkplug.Metric{Name: name, DataType: sparkplug.TypeDouble, IsNull: true}
}
