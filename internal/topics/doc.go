// Package topics models topic descriptors, the structured keys that address
// broker messages, and their canonical string encoding.
//
// A descriptor is a scalar (string, number, boolean or null), an ordered
// sequence of descriptors, or a mapping from string keys to descriptors.
// Values coming from callers or from the wire are converted once with From;
// everything downstream works on the tagged Descriptor.
//
// Encode produces the canonical string used as a dispatch key. It is purely a
// local addressing scheme; descriptors travel over the wire as plain JSON:
//
//	d := topics.MustFrom(map[string]any{"type": "motor", "params": []any{5, 10}})
//	topics.Encode(d) // {"params":[10,5],"type":"motor"}
//
// Sequence elements are ordered by their encoded strings, not by value, so
// [5,10] encodes as [10,5]. Existing peers rely on that ordering.
package topics
