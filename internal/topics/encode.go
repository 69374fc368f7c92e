package topics

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Encode returns the canonical string for d. Mapping keys are ordered by code
// point and sequence elements by their encoded strings, so permutations of the
// same mapping always encode identically.
func Encode(d Descriptor) string {
	var b strings.Builder
	encodeTo(&b, d)
	return b.String()
}

func encodeTo(b *strings.Builder, d Descriptor) {
	switch d.kind {
	case KindSequence:
		parts := make([]string, len(d.items))
		for i, item := range d.items {
			parts[i] = Encode(item)
		}
		sort.Strings(parts)
		b.WriteByte('[')
		b.WriteString(strings.Join(parts, ","))
		b.WriteByte(']')
	case KindMapping:
		b.WriteByte('{')
		for i, key := range sortedKeys(d.fields) {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(quote(key))
			b.WriteByte(':')
			encodeTo(b, d.fields[key])
		}
		b.WriteByte('}')
	default:
		b.WriteString(encodeScalar(d.scalar))
	}
}

func encodeScalar(v any) string {
	switch t := v.(type) {
	case string:
		return quote(t)
	case float64:
		return formatNumber(t)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return "null"
	default:
		return ""
	}
}

// quote renders s as a JSON string literal without HTML escaping.
func quote(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return strconv.Quote(s)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// formatNumber matches the shortest round-trip rendering peers use for number
// literals: 5, 1.5, 1e+21, 1e-7.
func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}
	abs := math.Abs(f)
	if abs >= 1e21 || abs < 1e-6 {
		s := strconv.FormatFloat(f, 'e', -1, 64)
		mant, exp, _ := strings.Cut(s, "e")
		sign, digits := exp[:1], strings.TrimLeft(exp[1:], "0")
		return mant + "e" + sign + digits
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func sortedKeys(m map[string]Descriptor) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
