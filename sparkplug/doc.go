// Package sparkplug decodes and encodes Sparkplug B payloads and resolves
// Sparkplug topics.
//
// The codec is written directly against the protobuf wire format with
// protowire, so it needs no generated code. Decoding is strict about framing
// and lenient about content:
//
//   - truncated buffers, invalid wire types and unknown datatypes return a
//     *DecodeError (which also matches errors.ErrDecode)
//   - a metric whose datatype does not match its populated value field
//     decodes with an absent Value
//   - template metrics decode recursively into Metric.Nested, up to
//     MaxNestingDepth levels
//
// Encode exists for building rebirth commands and test fixtures; for any
// payload with explicit datatypes, Decode(Encode(p)) reproduces names,
// timestamps and value variants.
//
// Topic resolution follows the Sparkplug layout
//
//	spBv1.0/<group_id>/<message_type>/<edge_node_id>[/<device_id>]
//
// and never fails: unrecognized verbs map to TypeOther.
package sparkplug
