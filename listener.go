package flatstate

import "github.com/drpcorg/flatstate/bitset"

// TypeStateListener observes ordinal-level changes on a read type state.
// Listeners are invoked synchronously; every load is bracketed by
// BeginUpdate and EndUpdate across all listeners of all types.
type TypeStateListener interface {
	BeginUpdate()
	RecordAdded(ordinal int)
	RecordRemoved(ordinal int)
	EndUpdate()
}

// PopulatedOrdinalListener mirrors the populated and previous-populated
// ordinal sets of the state it is attached to, exposing additions and
// removals between consecutive versions.
type PopulatedOrdinalListener struct {
	populated *bitset.Set
	previous  *bitset.Set
}

func NewPopulatedOrdinalListener() *PopulatedOrdinalListener {
	return &PopulatedOrdinalListener{
		populated: bitset.New(),
		previous:  bitset.New(),
	}
}

func (l *PopulatedOrdinalListener) BeginUpdate() {
	l.previous.CopyFrom(l.populated)
}

func (l *PopulatedOrdinalListener) RecordAdded(ordinal int) {
	l.populated.Set(ordinal)
}

func (l *PopulatedOrdinalListener) RecordRemoved(ordinal int) {
	l.populated.Clear(ordinal)
}

func (l *PopulatedOrdinalListener) EndUpdate() {}

func (l *PopulatedOrdinalListener) Populated() *bitset.Set { return l.populated }
func (l *PopulatedOrdinalListener) Previous() *bitset.Set  { return l.previous }
