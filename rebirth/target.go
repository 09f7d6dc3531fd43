package rebirth

import (
	"strings"

	"github.com/c360/sparkbridge/sparkplug"
)

// Scope says whether a command addresses an edge node or a device.
type Scope string

const (
	ScopeNode   Scope = "node"
	ScopeDevice Scope = "device"
)

// Target is one rebirth command destination.
type Target struct {
	EntityID string
	Topic    string
	Scope    Scope
}

// BuildTargets returns a node command target for every machine followed by a
// device command target for every machine:
//
//	<namespace>/<machine>/NCMD/<nodeEdge>
//	<namespace>/<machine>/DCMD/<deviceID>
//
// Blank machine names are skipped.
func BuildTargets(namespace string, machines []string, nodeEdge, deviceID string) []Target {
	machines = cleanMachines(machines)
	targets := make([]Target, 0, 2*len(machines))
	for _, m := range machines {
		targets = append(targets, Target{
			EntityID: m,
			Topic:    joinTopic(namespace, m, string(sparkplug.NCMD), nodeEdge),
			Scope:    ScopeNode,
		})
	}
	for _, m := range machines {
		targets = append(targets, Target{
			EntityID: m,
			Topic:    joinTopic(namespace, m, string(sparkplug.DCMD), deviceID),
			Scope:    ScopeDevice,
		})
	}
	return targets
}

// SubscribePatterns returns the wildcard subscription for every machine.
func SubscribePatterns(namespace string, machines []string) []string {
	machines = cleanMachines(machines)
	patterns := make([]string, 0, len(machines))
	for _, m := range machines {
		patterns = append(patterns, joinTopic(namespace, m, "#"))
	}
	return patterns
}

// ParseMachines splits a comma separated machine list, trimming blanks.
func ParseMachines(list string) []string {
	return cleanMachines(strings.Split(list, ","))
}

func cleanMachines(machines []string) []string {
	out := make([]string, 0, len(machines))
	for _, m := range machines {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}

func joinTopic(levels ...string) string {
	return strings.Join(levels, sparkplug.TopicSeparator)
}
