package topics

import (
	"bytes"
	"encoding/json"
	"math"
	"reflect"

	"github.com/nfrund/brokerlink/internal/domain"
)

// Kind tags the variant held by a Descriptor.
type Kind uint8

const (
	KindScalar Kind = iota
	KindSequence
	KindMapping
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	default:
		return "unknown"
	}
}

// Descriptor is an immutable topic descriptor. The zero value is the null scalar.
type Descriptor struct {
	kind   Kind
	scalar any // string, float64, bool or nil
	items  []Descriptor
	fields map[string]Descriptor
}

// String returns a string scalar.
func String(s string) Descriptor { return Descriptor{kind: KindScalar, scalar: s} }

// Number returns a numeric scalar. From rejects NaN and infinities; Number
// does not check.
func Number(f float64) Descriptor { return Descriptor{kind: KindScalar, scalar: f} }

// Bool returns a boolean scalar.
func Bool(b bool) Descriptor { return Descriptor{kind: KindScalar, scalar: b} }

// Null returns the null scalar.
func Null() Descriptor { return Descriptor{} }

// Sequence returns an ordered sequence of descriptors.
func Sequence(items ...Descriptor) Descriptor {
	cp := make([]Descriptor, len(items))
	copy(cp, items)
	return Descriptor{kind: KindSequence, items: cp}
}

// Mapping returns a mapping descriptor. The map is copied.
func Mapping(fields map[string]Descriptor) Descriptor {
	cp := make(map[string]Descriptor, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return Descriptor{kind: KindMapping, fields: cp}
}

// Kind reports which variant d holds.
func (d Descriptor) Kind() Kind { return d.kind }

// IsMapping reports whether d is a mapping. Only mappings may address messages.
func (d Descriptor) IsMapping() bool { return d.kind == KindMapping }

// Scalar returns the scalar value (string, float64, bool or nil).
func (d Descriptor) Scalar() any { return d.scalar }

// Items returns a copy of the sequence elements.
func (d Descriptor) Items() []Descriptor {
	cp := make([]Descriptor, len(d.items))
	copy(cp, d.items)
	return cp
}

// Field returns the value stored under key in a mapping.
func (d Descriptor) Field(key string) (Descriptor, bool) {
	v, ok := d.fields[key]
	return v, ok
}

// Keys returns the mapping keys in canonical order.
func (d Descriptor) Keys() []string {
	return sortedKeys(d.fields)
}

// Len returns the number of sequence elements or mapping entries.
func (d Descriptor) Len() int {
	switch d.kind {
	case KindSequence:
		return len(d.items)
	case KindMapping:
		return len(d.fields)
	default:
		return 0
	}
}

// Value converts d back into plain Go values as produced by encoding/json:
// map[string]any, []any, string, float64, bool or nil.
func (d Descriptor) Value() any {
	switch d.kind {
	case KindSequence:
		out := make([]any, len(d.items))
		for i, item := range d.items {
			out[i] = item.Value()
		}
		return out
	case KindMapping:
		out := make(map[string]any, len(d.fields))
		for k, v := range d.fields {
			out[k] = v.Value()
		}
		return out
	default:
		return d.scalar
	}
}

// Equal reports whether two descriptors have the same canonical encoding.
func (d Descriptor) Equal(other Descriptor) bool {
	return Encode(d) == Encode(other)
}

// String returns the canonical encoding.
func (d Descriptor) String() string { return Encode(d) }

// MarshalJSON renders the descriptor as plain JSON structure, not as its canonical string.
func (d Descriptor) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Value())
}

// UnmarshalJSON accepts any JSON value.
func (d *Descriptor) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := From(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MustFrom is like From but panics on unsupported input. Intended for
// package-level definitions and tests.
func MustFrom(v any) Descriptor {
	d, err := From(v)
	if err != nil {
		panic(err)
	}
	return d
}

// From converts a plain Go value into a Descriptor. Strings, booleans, all
// integer and float kinds, json.Number, slices, arrays and string-keyed maps
// are accepted, recursively. Anything else, including NaN and infinite
// numbers, fails with domain.ErrInvalidArgument.
func From(v any) (Descriptor, error) {
	switch t := v.(type) {
	case nil:
		return Null(), nil
	case Descriptor:
		return t, t.checkFinite()
	case *Descriptor:
		if t == nil {
			return Null(), nil
		}
		return *t, t.checkFinite()
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case float64:
		return finite(t)
	case int:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Descriptor{}, domain.InvalidArgument("topic number %q: %v", t.String(), err)
		}
		return finite(f)
	case []any:
		items := make([]Descriptor, len(t))
		for i, item := range t {
			d, err := From(item)
			if err != nil {
				return Descriptor{}, err
			}
			items[i] = d
		}
		return Descriptor{kind: KindSequence, items: items}, nil
	case map[string]any:
		fields := make(map[string]Descriptor, len(t))
		for k, item := range t {
			d, err := From(item)
			if err != nil {
				return Descriptor{}, err
			}
			fields[k] = d
		}
		return Descriptor{kind: KindMapping, fields: fields}, nil
	}
	return fromReflect(reflect.ValueOf(v))
}

func finite(f float64) (Descriptor, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Descriptor{}, domain.InvalidArgument("topic number %v is not finite", f)
	}
	return Number(f), nil
}

func (d Descriptor) checkFinite() error {
	switch d.kind {
	case KindScalar:
		if f, ok := d.scalar.(float64); ok {
			_, err := finite(f)
			return err
		}
	case KindSequence:
		for _, item := range d.items {
			if err := item.checkFinite(); err != nil {
				return err
			}
		}
	case KindMapping:
		for _, item := range d.fields {
			if err := item.checkFinite(); err != nil {
				return err
			}
		}
	}
	return nil
}

func fromReflect(rv reflect.Value) (Descriptor, error) {
	switch rv.Kind() {
	case reflect.String:
		return String(rv.String()), nil
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Number(float64(rv.Int())), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return Number(float64(rv.Uint())), nil
	case reflect.Float32, reflect.Float64:
		return finite(rv.Float())
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null(), nil
		}
		return From(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return Descriptor{kind: KindSequence, items: []Descriptor{}}, nil
		}
		items := make([]Descriptor, rv.Len())
		for i := range items {
			d, err := From(rv.Index(i).Interface())
			if err != nil {
				return Descriptor{}, err
			}
			items[i] = d
		}
		return Descriptor{kind: KindSequence, items: items}, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Descriptor{}, domain.InvalidArgument("topic mapping keys must be strings, got %s", rv.Type().Key())
		}
		fields := make(map[string]Descriptor, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			d, err := From(iter.Value().Interface())
			if err != nil {
				return Descriptor{}, err
			}
			fields[iter.Key().String()] = d
		}
		return Descriptor{kind: KindMapping, fields: fields}, nil
	case reflect.Invalid:
		return Null(), nil
	}
	return Descriptor{}, domain.InvalidArgument("unsupported topic value of type %s", rv.Type())
}
