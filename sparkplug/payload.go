package sparkplug

import "time"

// Control metric names used to request a rebirth.
const (
	NodeRebirthMetric   = "Node Control/Rebirth"
	DeviceRebirthMetric = "Device Control/Rebirth"
)

// Payload is the decoded form of one Sparkplug B message.
type Payload struct {
	Timestamp uint64 // ms since epoch
	Metrics   []Metric
	Seq       uint64
	UUID      string
	Body      []byte
}

// Metric is one decoded metric record. Nested holds the members of a
// template metric and is empty for every other kind.
type Metric struct {
	Name         string
	Alias        uint64
	Timestamp    uint64 // ms since epoch
	DataType     DataType
	IsHistorical bool
	IsTransient  bool
	IsNull       bool
	Value        Value
	Nested       []Metric
}

// Find returns the first metric with the given name.
func (p *Payload) Find(name string) (Metric, bool) {
	for _, m := range p.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return Metric{}, false
}

// Millis converts t to a Sparkplug timestamp.
func Millis(t time.Time) uint64 {
	return uint64(t.UnixMilli())
}

// NewRebirthCommand builds the command payload asking a node (device=false)
// or a device (device=true) to republish its birth certificate.
func NewRebirthCommand(device bool, now time.Time) *Payload {
	name := NodeRebirthMetric
	if device {
		name = DeviceRebirthMetric
	}
	ts := Millis(now)
	return &Payload{
		Timestamp: ts,
		Metrics: []Metric{{
			Name:      name,
			Timestamp: ts,
			DataType:  TypeBoolean,
			Value:     Bool(true),
		}},
	}
}
