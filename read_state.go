package flatstate

import (
	"io"

	"github.com/drpcorg/flatstate/bitset"
	"github.com/drpcorg/flatstate/codec"
	"github.com/drpcorg/flatstate/flatstate_errors"
	"github.com/drpcorg/flatstate/schema"
)

// TypeReadState materializes the records of one type on the consumer side.
// Implementations exist per schema variant; the blob reader constructs them
// during snapshot load and drives deltas into them afterwards.
type TypeReadState interface {
	Schema() schema.Schema
	// ReadSnapshot fully replaces the contents from the stream.
	ReadSnapshot(r codec.Reader, recycler *MemoryRecycler) error
	// ApplyDelta mutates the contents toward the next published state.
	// wireSchema is the schema as framed in the blob, which for a filtered
	// object state may be wider than the state's own schema.
	ApplyDelta(r codec.Reader, wireSchema schema.Schema, recycler *MemoryRecycler) error
	// PopulatedOrdinals is the set of currently live ordinals;
	// PreviousOrdinals the set before the last apply. Their symmetric
	// difference is exactly the ordinal-level change of the last load.
	PopulatedOrdinals() *bitset.Set
	PreviousOrdinals() *bitset.Set
	// EncodedRecord returns the stored record bytes, nil for an
	// unpopulated ordinal.
	EncodedRecord(ordinal int) []byte
	// IsFiltered reports whether stored records were re-encoded against a
	// narrowed schema and so cannot reproduce the published bytes.
	IsFiltered() bool
	AddListener(TypeStateListener)
	Listeners() []TypeStateListener

	wire(engine *ReadStateEngine)
	afterInitialization()
}

type typeReadStateBase struct {
	populated   *bitset.Set
	previous    *bitset.Set
	records     [][]byte
	listeners   []TypeStateListener
	initialized bool
}

func newTypeReadStateBase() typeReadStateBase {
	return typeReadStateBase{
		populated: bitset.New(),
		previous:  bitset.New(),
	}
}

func (b *typeReadStateBase) PopulatedOrdinals() *bitset.Set { return b.populated }
func (b *typeReadStateBase) PreviousOrdinals() *bitset.Set  { return b.previous }

func (b *typeReadStateBase) EncodedRecord(ordinal int) []byte {
	if ordinal < 0 || ordinal >= len(b.records) || !b.populated.Get(ordinal) {
		return nil
	}
	return b.records[ordinal]
}

func (b *typeReadStateBase) AddListener(l TypeStateListener) {
	b.listeners = append(b.listeners, l)
}

func (b *typeReadStateBase) Listeners() []TypeStateListener { return b.listeners }

func (b *typeReadStateBase) afterInitialization() { b.initialized = true }

func (b *typeReadStateBase) setRecord(ordinal int, rec []byte) {
	for len(b.records) <= ordinal {
		b.records = append(b.records, nil)
	}
	b.records[ordinal] = rec
}

func (b *typeReadStateBase) notifyAdded(ordinal int) {
	for _, l := range b.listeners {
		l.RecordAdded(ordinal)
	}
}

func (b *typeReadStateBase) notifyRemoved(ordinal int) {
	for _, l := range b.listeners {
		l.RecordRemoved(ordinal)
	}
}

// loadSnapshot replaces the whole population. transform, when non-nil,
// re-encodes each record (field filtering); the raw buffer is recycled.
func (b *typeReadStateBase) loadSnapshot(r codec.Reader, recycler *MemoryRecycler,
	transform func([]byte) ([]byte, error)) error {

	b.records = nil
	b.populated.Reset()
	b.previous.Reset()

	n, err := codec.ReadUvarint(r)
	if err != nil {
		return err
	}
	last := -1
	for i := uint64(0); i < n; i++ {
		ord, rec, err := readRecord(r, recycler, last)
		if err != nil {
			return err
		}
		last = ord
		if transform != nil {
			out, err := transform(rec)
			recycler.Recycle(rec)
			if err != nil {
				return err
			}
			rec = out
		}
		b.setRecord(ord, rec)
		b.populated.Set(ord)
		b.notifyAdded(ord)
	}
	return nil
}

// loadDelta applies removals then additions on top of the current
// population, rotating populated into previous first.
func (b *typeReadStateBase) loadDelta(r codec.Reader, recycler *MemoryRecycler,
	transform func([]byte) ([]byte, error)) error {

	b.previous.CopyFrom(b.populated)

	if err := readOrdinalList(r, func(ord int) error {
		if ord < len(b.records) {
			recycler.Recycle(b.records[ord])
			b.records[ord] = nil
		}
		b.populated.Clear(ord)
		b.notifyRemoved(ord)
		return nil
	}); err != nil {
		return err
	}

	n, err := codec.ReadUvarint(r)
	if err != nil {
		return err
	}
	last := -1
	for i := uint64(0); i < n; i++ {
		ord, rec, err := readRecord(r, recycler, last)
		if err != nil {
			return err
		}
		last = ord
		if transform != nil {
			out, err := transform(rec)
			recycler.Recycle(rec)
			if err != nil {
				return err
			}
			rec = out
		}
		b.setRecord(ord, rec)
		b.populated.Set(ord)
		b.notifyAdded(ord)
	}
	return nil
}

func readRecord(r codec.Reader, recycler *MemoryRecycler, last int) (int, []byte, error) {
	gap, err := codec.ReadUvarint(r)
	if err != nil {
		return 0, nil, err
	}
	ord := last + 1 + int(gap)
	n, err := codec.ReadUvarint(r)
	if err != nil {
		return 0, nil, err
	}
	buf := recycler.Get(int(n))
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, nil, flatstate_errors.ErrTruncatedStream
	}
	return ord, buf, nil
}

func readOrdinalList(r codec.Reader, f func(ordinal int) error) error {
	n, err := codec.ReadUvarint(r)
	if err != nil {
		return err
	}
	last := -1
	for i := uint64(0); i < n; i++ {
		gap, err := codec.ReadUvarint(r)
		if err != nil {
			return err
		}
		ord := last + 1 + int(gap)
		last = ord
		if err := f(ord); err != nil {
			return err
		}
	}
	return nil
}

// DiscardSnapshot drains one type's snapshot payload without materializing
// it. The framing is shared by every schema variant, so no state instance is
// needed.
func DiscardSnapshot(r codec.Reader) error {
	n, err := codec.ReadUvarint(r)
	if err != nil {
		return err
	}
	for i := uint64(0); i < n; i++ {
		if err := skipRecord(r); err != nil {
			return err
		}
	}
	return nil
}

// DiscardDelta drains one type's delta payload without materializing it.
func DiscardDelta(r codec.Reader) error {
	if err := readOrdinalList(r, func(int) error { return nil }); err != nil {
		return err
	}
	n, err := codec.ReadUvarint(r)
	if err != nil {
		return err
	}
	for i := uint64(0); i < n; i++ {
		if err := skipRecord(r); err != nil {
			return err
		}
	}
	return nil
}

func skipRecord(r codec.Reader) error {
	if _, err := codec.ReadUvarint(r); err != nil { // ordinal gap
		return err
	}
	n, err := codec.ReadUvarint(r)
	if err != nil {
		return err
	}
	return codec.Skip(r, n)
}
