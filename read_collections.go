package flatstate

import (
	"bytes"

	"github.com/drpcorg/flatstate/codec"
	"github.com/drpcorg/flatstate/schema"
)

// ListTypeReadState materializes a List type: per ordinal, an ordered
// sequence of element ordinals.
type ListTypeReadState struct {
	typeReadStateBase
	sch          *schema.List
	elementState TypeReadState
}

func NewListTypeReadState(s *schema.List) *ListTypeReadState {
	return &ListTypeReadState{typeReadStateBase: newTypeReadStateBase(), sch: s}
}

func (t *ListTypeReadState) Schema() schema.Schema { return t.sch }
func (t *ListTypeReadState) IsFiltered() bool      { return false }

func (t *ListTypeReadState) ReadSnapshot(r codec.Reader, recycler *MemoryRecycler) error {
	return t.loadSnapshot(r, recycler, nil)
}

func (t *ListTypeReadState) ApplyDelta(r codec.Reader, _ schema.Schema, recycler *MemoryRecycler) error {
	return t.loadDelta(r, recycler, nil)
}

func (t *ListTypeReadState) wire(engine *ReadStateEngine) {
	t.elementState = engine.GetTypeState(t.sch.Element)
}

// ElementState returns the type state list elements point into.
func (t *ListTypeReadState) ElementState() TypeReadState { return t.elementState }

func (t *ListTypeReadState) Size(ordinal int) int {
	rec := t.EncodedRecord(ordinal)
	if rec == nil {
		return 0
	}
	n, err := codec.ReadUvarint(bytes.NewReader(rec))
	if err != nil {
		return 0
	}
	return int(n)
}

// Elements decodes the element ordinals of the list at ordinal.
func (t *ListTypeReadState) Elements(ordinal int) []int {
	rec := t.EncodedRecord(ordinal)
	if rec == nil {
		return nil
	}
	r := bytes.NewReader(rec)
	n, err := codec.ReadUvarint(r)
	if err != nil {
		return nil
	}
	out := make([]int, 0, n)
	for i := uint64(0); i < n; i++ {
		e, err := codec.ReadUvarint(r)
		if err != nil {
			return nil
		}
		out = append(out, int(e))
	}
	return out
}

// Element returns the idx-th element ordinal of the list at ordinal.
func (t *ListTypeReadState) Element(ordinal, idx int) (int, bool) {
	elems := t.Elements(ordinal)
	if idx < 0 || idx >= len(elems) {
		return EmptyOrdinal, false
	}
	return elems[idx], true
}

// SetTypeReadState materializes a Set type. Elements are stored as an
// ascending delta-coded ordinal sequence, so iteration order is stable
// across loads.
type SetTypeReadState struct {
	typeReadStateBase
	sch          *schema.Set
	elementState TypeReadState
}

func NewSetTypeReadState(s *schema.Set) *SetTypeReadState {
	return &SetTypeReadState{typeReadStateBase: newTypeReadStateBase(), sch: s}
}

func (t *SetTypeReadState) Schema() schema.Schema { return t.sch }
func (t *SetTypeReadState) IsFiltered() bool      { return false }

func (t *SetTypeReadState) ReadSnapshot(r codec.Reader, recycler *MemoryRecycler) error {
	return t.loadSnapshot(r, recycler, nil)
}

func (t *SetTypeReadState) ApplyDelta(r codec.Reader, _ schema.Schema, recycler *MemoryRecycler) error {
	return t.loadDelta(r, recycler, nil)
}

func (t *SetTypeReadState) wire(engine *ReadStateEngine) {
	t.elementState = engine.GetTypeState(t.sch.Element)
}

func (t *SetTypeReadState) ElementState() TypeReadState { return t.elementState }

func (t *SetTypeReadState) Size(ordinal int) int {
	rec := t.EncodedRecord(ordinal)
	if rec == nil {
		return 0
	}
	n, err := codec.ReadUvarint(bytes.NewReader(rec))
	if err != nil {
		return 0
	}
	return int(n)
}

// Elements decodes the member ordinals in ascending order.
func (t *SetTypeReadState) Elements(ordinal int) []int {
	rec := t.EncodedRecord(ordinal)
	if rec == nil {
		return nil
	}
	r := bytes.NewReader(rec)
	n, err := codec.ReadUvarint(r)
	if err != nil {
		return nil
	}
	out := make([]int, 0, n)
	last := -1
	for i := uint64(0); i < n; i++ {
		gap, err := codec.ReadUvarint(r)
		if err != nil {
			return nil
		}
		e := last + 1 + int(gap)
		last = e
		out = append(out, e)
	}
	return out
}

func (t *SetTypeReadState) Contains(ordinal, elementOrdinal int) bool {
	for _, e := range t.Elements(ordinal) {
		if e == elementOrdinal {
			return true
		}
		if e > elementOrdinal {
			return false
		}
	}
	return false
}

// MapTypeReadState materializes a Map type: per ordinal, entries sorted by
// key ordinal.
type MapTypeReadState struct {
	typeReadStateBase
	sch        *schema.Map
	keyState   TypeReadState
	valueState TypeReadState
}

func NewMapTypeReadState(s *schema.Map) *MapTypeReadState {
	return &MapTypeReadState{typeReadStateBase: newTypeReadStateBase(), sch: s}
}

func (t *MapTypeReadState) Schema() schema.Schema { return t.sch }
func (t *MapTypeReadState) IsFiltered() bool      { return false }

func (t *MapTypeReadState) ReadSnapshot(r codec.Reader, recycler *MemoryRecycler) error {
	return t.loadSnapshot(r, recycler, nil)
}

func (t *MapTypeReadState) ApplyDelta(r codec.Reader, _ schema.Schema, recycler *MemoryRecycler) error {
	return t.loadDelta(r, recycler, nil)
}

func (t *MapTypeReadState) wire(engine *ReadStateEngine) {
	t.keyState = engine.GetTypeState(t.sch.Key)
	t.valueState = engine.GetTypeState(t.sch.Value)
}

func (t *MapTypeReadState) KeyState() TypeReadState   { return t.keyState }
func (t *MapTypeReadState) ValueState() TypeReadState { return t.valueState }

func (t *MapTypeReadState) Size(ordinal int) int {
	rec := t.EncodedRecord(ordinal)
	if rec == nil {
		return 0
	}
	n, err := codec.ReadUvarint(bytes.NewReader(rec))
	if err != nil {
		return 0
	}
	return int(n)
}

// Entries decodes the (key ordinal, value ordinal) pairs in key order.
func (t *MapTypeReadState) Entries(ordinal int) [][2]int {
	rec := t.EncodedRecord(ordinal)
	if rec == nil {
		return nil
	}
	r := bytes.NewReader(rec)
	n, err := codec.ReadUvarint(r)
	if err != nil {
		return nil
	}
	out := make([][2]int, 0, n)
	last := -1
	for i := uint64(0); i < n; i++ {
		gap, err := codec.ReadUvarint(r)
		if err != nil {
			return nil
		}
		k := last + 1 + int(gap)
		last = k
		v, err := codec.ReadUvarint(r)
		if err != nil {
			return nil
		}
		out = append(out, [2]int{k, int(v)})
	}
	return out
}

// Get looks up the value ordinal for a key ordinal.
func (t *MapTypeReadState) Get(ordinal, keyOrdinal int) (int, bool) {
	for _, e := range t.Entries(ordinal) {
		if e[0] == keyOrdinal {
			return e[1], true
		}
		if e[0] > keyOrdinal {
			break
		}
	}
	return EmptyOrdinal, false
}
