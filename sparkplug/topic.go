package sparkplug

import "strings"

// TopicSeparator splits Sparkplug topic levels.
const TopicSeparator = "/"

// UnknownEntity is the entity id used when a topic is too short to carry one.
const UnknownEntity = "unknown"

// MessageType is the Sparkplug verb carried in a topic.
type MessageType string

// Message types recognized in topics. Anything else resolves to TypeOther and
// is still handed to the decoder.
const (
	NBIRTH    MessageType = "NBIRTH"
	NDEATH    MessageType = "NDEATH"
	NDATA     MessageType = "NDATA"
	NCMD      MessageType = "NCMD"
	DBIRTH    MessageType = "DBIRTH"
	DDEATH    MessageType = "DDEATH"
	DDATA     MessageType = "DDATA"
	DCMD      MessageType = "DCMD"
	STATE     MessageType = "STATE"
	TypeOther MessageType = "OTHER"
)

var knownTypes = map[string]MessageType{
	"NBIRTH": NBIRTH, "NDEATH": NDEATH, "NDATA": NDATA, "NCMD": NCMD,
	"DBIRTH": DBIRTH, "DDEATH": DDEATH, "DDATA": DDATA, "DCMD": DCMD,
	"STATE": STATE,
}

// IsBirth reports NBIRTH and DBIRTH.
func (t MessageType) IsBirth() bool { return t == NBIRTH || t == DBIRTH }

// IsDeath reports NDEATH and DDEATH.
func (t MessageType) IsDeath() bool { return t == NDEATH || t == DDEATH }

// IsCommand reports NCMD and DCMD.
func (t MessageType) IsCommand() bool { return t == NCMD || t == DCMD }

// IsDeviceScoped reports whether the message addresses a device rather than
// an edge node.
func (t MessageType) IsDeviceScoped() bool {
	return t == DBIRTH || t == DDEATH || t == DDATA || t == DCMD
}

// Topic is a resolved Sparkplug topic:
//
//	namespace/group_id/message_type/edge_node_id[/device_id]
type Topic struct {
	Raw        string
	Segments   []string
	Namespace  string
	GroupID    string
	Type       MessageType
	EdgeNodeID string
	DeviceID   string
}

// ParseTopic resolves a topic string. It never fails: short or non-Sparkplug
// topics yield empty fields, TypeOther and the UnknownEntity entity id.
func ParseTopic(topic string) Topic {
	segs := strings.Split(topic, TopicSeparator)
	t := Topic{Raw: topic, Segments: segs, Type: TypeOther}

	t.Namespace = segs[0]
	if len(segs) > 1 {
		t.GroupID = segs[1]
	}

	// The verb normally sits at index 2; STATE topics put it at index 1.
	typeIdx := -1
	for i := 1; i < len(segs); i++ {
		if mt, ok := knownTypes[segs[i]]; ok {
			t.Type = mt
			typeIdx = i
			break
		}
	}
	if typeIdx >= 0 && typeIdx+1 < len(segs) {
		t.EdgeNodeID = segs[typeIdx+1]
	}
	if typeIdx >= 0 && typeIdx+2 < len(segs) {
		t.DeviceID = strings.Join(segs[typeIdx+2:], TopicSeparator)
	}
	return t
}

// EntityID returns the second topic level, which names the monitored
// machine, or UnknownEntity when the topic has fewer than two levels.
func (t Topic) EntityID() string {
	if len(t.Segments) < 2 {
		return UnknownEntity
	}
	return t.Segments[1]
}

// HasTrailingSegment reports whether the last topic level equals seg.
func (t Topic) HasTrailingSegment(seg string) bool {
	return seg != "" && t.Segments[len(t.Segments)-1] == seg
}
