package flatstate

import (
	"bytes"
	"fmt"
	"math"

	"github.com/drpcorg/flatstate/codec"
	"github.com/drpcorg/flatstate/flatstate_errors"
	"github.com/drpcorg/flatstate/schema"
)

// ObjectTypeReadState materializes an Object type. It carries two schemas:
// the one it exposes (possibly narrowed by a filter) and the unfiltered one
// the blob was written with, so the decoder can skip bytes of excluded
// fields while preserving wire positions.
type ObjectTypeReadState struct {
	typeReadStateBase
	sch        *schema.Object
	unfiltered *schema.Object
	refStates  []TypeReadState
}

func NewObjectTypeReadState(filtered, unfiltered *schema.Object) *ObjectTypeReadState {
	return &ObjectTypeReadState{
		typeReadStateBase: newTypeReadStateBase(),
		sch:               filtered,
		unfiltered:        unfiltered,
		refStates:         make([]TypeReadState, len(filtered.Fields)),
	}
}

func (t *ObjectTypeReadState) Schema() schema.Schema { return t.sch }

func (t *ObjectTypeReadState) IsFiltered() bool {
	return !t.sch.Equal(t.unfiltered)
}

func (t *ObjectTypeReadState) ReadSnapshot(r codec.Reader, recycler *MemoryRecycler) error {
	transform, err := t.transformFor(t.unfiltered)
	if err != nil {
		return err
	}
	return t.loadSnapshot(r, recycler, transform)
}

func (t *ObjectTypeReadState) ApplyDelta(r codec.Reader, wireSchema schema.Schema, recycler *MemoryRecycler) error {
	ws, ok := wireSchema.(*schema.Object)
	if !ok {
		return fmt.Errorf("%w: delta schema variant changed for type %s",
			flatstate_errors.ErrBadSchema, t.sch.Name())
	}
	transform, err := t.transformFor(ws)
	if err != nil {
		return err
	}
	return t.loadDelta(r, recycler, transform)
}

// transformFor builds the re-encoder narrowing wire-format records to this
// state's schema, or nil when the schemas match byte-for-byte.
func (t *ObjectTypeReadState) transformFor(wire *schema.Object) (func([]byte) ([]byte, error), error) {
	if t.sch.Equal(wire) {
		return nil, nil
	}
	keep := make([]bool, len(wire.Fields))
	kept := 0
	for i, f := range wire.Fields {
		if j := t.sch.FieldIndex(f.Name); j >= 0 {
			if t.sch.Fields[j].Kind != f.Kind {
				return nil, fmt.Errorf("%w: field %s.%s changed kind",
					flatstate_errors.ErrBadSchema, wire.Name(), f.Name)
			}
			keep[i] = true
			kept++
		}
	}
	if kept != len(t.sch.Fields) {
		return nil, fmt.Errorf("%w: wire schema for %s is missing filtered fields",
			flatstate_errors.ErrBadSchema, wire.Name())
	}
	fields := wire.Fields
	return func(rec []byte) ([]byte, error) {
		r := bytes.NewReader(rec)
		out := make([]byte, 0, len(rec))
		for i := range fields {
			start := len(rec) - r.Len()
			if err := skipField(r, fields[i].Kind); err != nil {
				return nil, err
			}
			end := len(rec) - r.Len()
			if keep[i] {
				out = append(out, rec[start:end]...)
			}
		}
		return out, nil
	}, nil
}

func (t *ObjectTypeReadState) wire(engine *ReadStateEngine) {
	for i, f := range t.sch.Fields {
		if f.Kind == schema.Ref {
			t.refStates[i] = engine.GetTypeState(f.Refer)
		}
	}
}

// Referenced returns the type state a reference field points into, nil when
// the target type was filtered out.
func (t *ObjectTypeReadState) Referenced(field string) TypeReadState {
	i := t.sch.FieldIndex(field)
	if i < 0 {
		return nil
	}
	return t.refStates[i]
}

// seek positions a reader at the value of the named field within the record
// at ordinal. ok is false for unpopulated ordinals, unknown fields, kind
// mismatches and null values.
func (t *ObjectTypeReadState) seek(ordinal int, field string, kind schema.FieldKind) (*bytes.Reader, bool) {
	rec := t.EncodedRecord(ordinal)
	if rec == nil {
		return nil, false
	}
	i := t.sch.FieldIndex(field)
	if i < 0 || t.sch.Fields[i].Kind != kind {
		return nil, false
	}
	r := bytes.NewReader(rec)
	for j := 0; j < i; j++ {
		if skipField(r, t.sch.Fields[j].Kind) != nil {
			return nil, false
		}
	}
	present, err := r.ReadByte()
	if err != nil || present == 0 {
		return nil, false
	}
	return r, true
}

func (t *ObjectTypeReadState) ReadInt(ordinal int, field string) (int64, bool) {
	r, ok := t.seek(ordinal, field, schema.Int)
	if !ok {
		return 0, false
	}
	v, err := codec.ReadZigZag(r)
	return v, err == nil
}

func (t *ObjectTypeReadState) ReadFloat(ordinal int, field string) (float64, bool) {
	r, ok := t.seek(ordinal, field, schema.Float)
	if !ok {
		return 0, false
	}
	bits, err := codec.ReadUint64(r)
	return math.Float64frombits(bits), err == nil
}

func (t *ObjectTypeReadState) ReadBool(ordinal int, field string) (bool, bool) {
	r, ok := t.seek(ordinal, field, schema.Bool)
	if !ok {
		return false, false
	}
	b, err := r.ReadByte()
	return b == 1, err == nil
}

func (t *ObjectTypeReadState) ReadString(ordinal int, field string) (string, bool) {
	r, ok := t.seek(ordinal, field, schema.String)
	if !ok {
		return "", false
	}
	s, err := codec.ReadString(r)
	return s, err == nil
}

func (t *ObjectTypeReadState) ReadBytes(ordinal int, field string) ([]byte, bool) {
	r, ok := t.seek(ordinal, field, schema.Bytes)
	if !ok {
		return nil, false
	}
	b, err := codec.ReadBytes(r)
	return b, err == nil
}

// ReadRef returns the referenced ordinal, or EmptyOrdinal for a null
// reference.
func (t *ObjectTypeReadState) ReadRef(ordinal int, field string) (int, bool) {
	r, ok := t.seek(ordinal, field, schema.Ref)
	if !ok {
		return EmptyOrdinal, false
	}
	v, err := codec.ReadUvarint(r)
	if err != nil || v == 0 {
		return EmptyOrdinal, false
	}
	return int(v - 1), true
}

// skipField consumes one encoded field, presence byte included.
func skipField(r *bytes.Reader, kind schema.FieldKind) error {
	present, err := r.ReadByte()
	if err != nil {
		return flatstate_errors.ErrTruncatedStream
	}
	if present == 0 {
		return nil
	}
	switch kind {
	case schema.Int, schema.Ref:
		_, err = codec.ReadUvarint(r)
	case schema.Float:
		_, err = codec.ReadUint64(r)
	case schema.Bool:
		_, err = r.ReadByte()
	case schema.String, schema.Bytes:
		var n uint64
		if n, err = codec.ReadUvarint(r); err == nil {
			err = codec.Skip(r, n)
		}
	default:
		return fmt.Errorf("%w: field kind 0x%02x", flatstate_errors.ErrBadSchema, kind)
	}
	if err != nil {
		return flatstate_errors.ErrTruncatedStream
	}
	return nil
}
