package flatstate

import (
	"fmt"
	"math"
	"sort"

	"github.com/drpcorg/flatstate/codec"
	"github.com/drpcorg/flatstate/flatstate_errors"
	"github.com/drpcorg/flatstate/schema"
)

// Record is a dataset record ready for submission to the write engine. The
// engine encodes it once and owns the bytes from then on; builders may be
// reused after Reset.
type Record interface {
	AppendTo(buf []byte) ([]byte, error)
}

// ObjectRecord builds one record of an Object type. Fields left unset encode
// as null. Setters panic on unknown fields or kind mismatches, those are
// programming errors in the mapper above.
type ObjectRecord struct {
	schema *schema.Object
	set    []bool
	vals   [][]byte
}

func NewObjectRecord(s *schema.Object) *ObjectRecord {
	return &ObjectRecord{
		schema: s,
		set:    make([]bool, len(s.Fields)),
		vals:   make([][]byte, len(s.Fields)),
	}
}

func (r *ObjectRecord) Reset() *ObjectRecord {
	for i := range r.set {
		r.set[i] = false
		r.vals[i] = nil
	}
	return r
}

func (r *ObjectRecord) field(name string, kind schema.FieldKind) int {
	i := r.schema.FieldIndex(name)
	if i < 0 {
		panic(fmt.Sprintf("type %s has no field %q", r.schema.Name(), name))
	}
	if r.schema.Fields[i].Kind != kind {
		panic(fmt.Sprintf("field %s.%s is not of kind %c", r.schema.Name(), name, kind))
	}
	return i
}

func (r *ObjectRecord) SetInt(name string, v int64) *ObjectRecord {
	i := r.field(name, schema.Int)
	r.set[i] = true
	r.vals[i] = codec.AppendZigZag(nil, v)
	return r
}

func (r *ObjectRecord) SetFloat(name string, v float64) *ObjectRecord {
	i := r.field(name, schema.Float)
	r.set[i] = true
	r.vals[i] = codec.AppendUint64(nil, math.Float64bits(v))
	return r
}

func (r *ObjectRecord) SetBool(name string, v bool) *ObjectRecord {
	i := r.field(name, schema.Bool)
	r.set[i] = true
	if v {
		r.vals[i] = []byte{1}
	} else {
		r.vals[i] = []byte{0}
	}
	return r
}

func (r *ObjectRecord) SetString(name, v string) *ObjectRecord {
	i := r.field(name, schema.String)
	r.set[i] = true
	r.vals[i] = codec.AppendString(nil, v)
	return r
}

func (r *ObjectRecord) SetBytes(name string, v []byte) *ObjectRecord {
	i := r.field(name, schema.Bytes)
	r.set[i] = true
	r.vals[i] = codec.AppendBytes(nil, v)
	return r
}

// SetReference stores a reference to a record of the field's target type.
// EmptyOrdinal encodes a null reference.
func (r *ObjectRecord) SetReference(name string, ordinal int) *ObjectRecord {
	i := r.field(name, schema.Ref)
	r.set[i] = true
	r.vals[i] = codec.AppendUvarint(nil, uint64(ordinal+1))
	return r
}

func (r *ObjectRecord) AppendTo(buf []byte) ([]byte, error) {
	for i := range r.schema.Fields {
		if !r.set[i] {
			buf = append(buf, 0)
			continue
		}
		buf = append(buf, 1)
		buf = append(buf, r.vals[i]...)
	}
	return buf, nil
}

// ListRecord builds one record of a List type: an ordered sequence of
// element ordinals, duplicates allowed.
type ListRecord struct {
	elements []int
}

func NewListRecord() *ListRecord { return &ListRecord{} }

func (r *ListRecord) Reset() *ListRecord {
	r.elements = r.elements[:0]
	return r
}

func (r *ListRecord) Add(ordinal int) *ListRecord {
	r.elements = append(r.elements, ordinal)
	return r
}

func (r *ListRecord) AppendTo(buf []byte) ([]byte, error) {
	buf = codec.AppendUvarint(buf, uint64(len(r.elements)))
	for _, e := range r.elements {
		if e < 0 {
			return nil, fmt.Errorf("%w: negative list element ordinal", flatstate_errors.ErrBadRecord)
		}
		buf = codec.AppendUvarint(buf, uint64(e))
	}
	return buf, nil
}

// SetRecord builds one record of a Set type. Elements are stored sorted and
// deduplicated so identical sets encode byte-identically.
type SetRecord struct {
	elements []int
}

func NewSetRecord() *SetRecord { return &SetRecord{} }

func (r *SetRecord) Reset() *SetRecord {
	r.elements = r.elements[:0]
	return r
}

func (r *SetRecord) Add(ordinal int) *SetRecord {
	r.elements = append(r.elements, ordinal)
	return r
}

func (r *SetRecord) AppendTo(buf []byte) ([]byte, error) {
	sorted := append([]int(nil), r.elements...)
	sort.Ints(sorted)
	n := 0
	for i, e := range sorted {
		if e < 0 {
			return nil, fmt.Errorf("%w: negative set element ordinal", flatstate_errors.ErrBadRecord)
		}
		if i > 0 && e == sorted[i-1] {
			continue
		}
		sorted[n] = e
		n++
	}
	sorted = sorted[:n]
	buf = codec.AppendUvarint(buf, uint64(len(sorted)))
	last := -1
	for _, e := range sorted {
		buf = codec.AppendUvarint(buf, uint64(e-last-1))
		last = e
	}
	return buf, nil
}

// MapRecord builds one record of a Map type: entries sorted by key ordinal,
// one value per key.
type MapRecord struct {
	keys   []int
	values []int
}

func NewMapRecord() *MapRecord { return &MapRecord{} }

func (r *MapRecord) Reset() *MapRecord {
	r.keys = r.keys[:0]
	r.values = r.values[:0]
	return r
}

func (r *MapRecord) Put(keyOrdinal, valueOrdinal int) *MapRecord {
	r.keys = append(r.keys, keyOrdinal)
	r.values = append(r.values, valueOrdinal)
	return r
}

func (r *MapRecord) AppendTo(buf []byte) ([]byte, error) {
	idx := make([]int, len(r.keys))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return r.keys[idx[a]] < r.keys[idx[b]] })
	buf = codec.AppendUvarint(buf, uint64(len(idx)))
	last := -1
	for _, i := range idx {
		k, v := r.keys[i], r.values[i]
		if k < 0 || v < 0 {
			return nil, fmt.Errorf("%w: negative map entry ordinal", flatstate_errors.ErrBadRecord)
		}
		if k == last {
			return nil, fmt.Errorf("%w: duplicate map key ordinal %d", flatstate_errors.ErrBadRecord, k)
		}
		buf = codec.AppendUvarint(buf, uint64(k-last-1))
		buf = codec.AppendUvarint(buf, uint64(v))
		last = k
	}
	return buf, nil
}
