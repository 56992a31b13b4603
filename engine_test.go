package flatstate

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drpcorg/flatstate/flatstate_errors"
	"github.com/drpcorg/flatstate/schema"
)

func intSchema(name string) *schema.Object {
	return schema.NewObject(name, []schema.Field{{Name: "x", Kind: schema.Int}})
}

func newTestEngine(t *testing.T, schemas ...schema.Schema) *WriteStateEngine {
	t.Helper()
	we := NewWriteStateEngine()
	for _, s := range schemas {
		require.NoError(t, we.AddTypeState(NewTypeWriteState(s)))
	}
	return we
}

func addInt(t *testing.T, we *WriteStateEngine, typeName string, v int64) int {
	t.Helper()
	sch := we.GetTypeState(typeName).Schema().(*schema.Object)
	ord, err := we.Add(typeName, NewObjectRecord(sch).SetInt("x", v))
	require.NoError(t, err)
	return ord
}

func writeBlob(t *testing.T, w *BlobWriter, kind BlobKind) []byte {
	t.Helper()
	var buf bytes.Buffer
	var err error
	switch kind {
	case SnapshotBlob:
		err = w.WriteSnapshot(&buf)
	case DeltaBlob:
		err = w.WriteDelta(&buf)
	case ReverseDeltaBlob:
		err = w.WriteReverseDelta(&buf)
	}
	require.NoError(t, err)
	return buf.Bytes()
}

func loadSnapshot(t *testing.T, blob []byte) (*ReadStateEngine, *BlobReader) {
	t.Helper()
	re := NewReadStateEngine()
	br := NewBlobReader(re)
	require.NoError(t, br.ReadSnapshot(bytes.NewReader(blob)))
	return re, br
}

type countingListener struct {
	begins, adds, removes, ends int
}

func (c *countingListener) BeginUpdate()       { c.begins++ }
func (c *countingListener) RecordAdded(int)    { c.adds++ }
func (c *countingListener) RecordRemoved(int)  { c.removes++ }
func (c *countingListener) EndUpdate()         { c.ends++ }

func TestEmptyCycle(t *testing.T) {
	we := newTestEngine(t, intSchema("A"))
	w := NewBlobWriter(we)

	require.NoError(t, we.PrepareForWrite())
	s0 := writeBlob(t, w, SnapshotBlob)
	require.NoError(t, we.PrepareForNextCycle())
	require.NoError(t, we.PrepareForWrite())
	d1 := writeBlob(t, w, DeltaBlob)

	re, br := loadSnapshot(t, s0)
	ts := re.GetTypeState("A")
	require.NotNil(t, ts)
	assert.Equal(t, 0, ts.PopulatedOrdinals().Count())

	tag0 := re.CurrentRandomizedTag()
	require.NoError(t, br.ApplyDelta(bytes.NewReader(d1)))
	assert.NotEqual(t, tag0, re.CurrentRandomizedTag())
	assert.Equal(t, 0, ts.PopulatedOrdinals().Count())
	assert.Equal(t, 0, ts.PreviousOrdinals().Count())
}

func TestSingleRecordSnapshot(t *testing.T) {
	we := newTestEngine(t, intSchema("A"))
	ord := addInt(t, we, "A", 42)
	require.NoError(t, we.PrepareForWrite())
	s0 := writeBlob(t, NewBlobWriter(we), SnapshotBlob)

	re, _ := loadSnapshot(t, s0)
	ts := re.GetTypeState("A").(*ObjectTypeReadState)
	assert.Equal(t, 1, ts.PopulatedOrdinals().Count())
	v, ok := ts.ReadInt(ord, "x")
	require.True(t, ok)
	assert.Equal(t, int64(42), v)
	assert.Equal(t, re.CurrentRandomizedTag(), we.NextStateRandomizedTag())
}

func TestIdempotentCycle(t *testing.T) {
	we := newTestEngine(t, intSchema("A"))
	w := NewBlobWriter(we)
	addInt(t, we, "A", 42)
	require.NoError(t, we.PrepareForWrite())
	s0 := writeBlob(t, w, SnapshotBlob)
	s0Destination := we.NextStateRandomizedTag()

	require.NoError(t, we.PrepareForNextCycle())
	we.AddAllObjectsFromPreviousCycle()
	assert.False(t, we.HasChangedSinceLastCycle())
	require.NoError(t, we.PrepareForWrite())
	d1 := writeBlob(t, w, DeltaBlob)

	re, br := loadSnapshot(t, s0)
	assert.Equal(t, s0Destination, re.CurrentRandomizedTag())
	ts := re.GetTypeState("A")
	before := ts.PopulatedOrdinals().Clone()

	require.NoError(t, br.ApplyDelta(bytes.NewReader(d1)))
	assert.Equal(t, we.NextStateRandomizedTag(), re.CurrentRandomizedTag())
	assert.True(t, before.Equal(ts.PopulatedOrdinals()))
	assert.True(t, ts.PreviousOrdinals().Equal(ts.PopulatedOrdinals()))
}

func TestRemoveAll(t *testing.T) {
	we := newTestEngine(t, intSchema("A"))
	w := NewBlobWriter(we)
	ord := addInt(t, we, "A", 42)
	require.NoError(t, we.PrepareForWrite())
	s0 := writeBlob(t, w, SnapshotBlob)

	require.NoError(t, we.PrepareForNextCycle())
	assert.True(t, we.HasChangedSinceLastCycle())
	require.NoError(t, we.PrepareForWrite())
	d1 := writeBlob(t, w, DeltaBlob)

	re, br := loadSnapshot(t, s0)
	ts := re.GetTypeState("A")
	require.NoError(t, br.ApplyDelta(bytes.NewReader(d1)))
	assert.Equal(t, 0, ts.PopulatedOrdinals().Count())
	assert.True(t, ts.PreviousOrdinals().Get(ord))
	assert.Nil(t, ts.EncodedRecord(ord))
}

func TestDeltaMismatchRejected(t *testing.T) {
	we := newTestEngine(t, intSchema("A"))
	w := NewBlobWriter(we)
	addInt(t, we, "A", 42)
	require.NoError(t, we.PrepareForWrite())
	s0 := writeBlob(t, w, SnapshotBlob)

	re, br := loadSnapshot(t, s0)
	ts := re.GetTypeState("A")
	tag0 := re.CurrentRandomizedTag()
	listener := &countingListener{}
	ts.AddListener(listener)

	require.NoError(t, we.PrepareForNextCycle())
	we.AddAllObjectsFromPreviousCycle()
	require.NoError(t, we.PrepareForWrite())
	we.OverridePreviousStateRandomizedTag(tag0 + 1)
	d1 := writeBlob(t, w, DeltaBlob)

	err := br.ApplyDelta(bytes.NewReader(d1))
	assert.ErrorIs(t, err, flatstate_errors.ErrDeltaMismatch)
	assert.Equal(t, tag0, re.CurrentRandomizedTag())
	assert.Equal(t, 1, ts.PopulatedOrdinals().Count())
	assert.Zero(t, listener.begins)
	assert.Zero(t, listener.ends)
}

func TestFilteredTypeIsDrained(t *testing.T) {
	we := newTestEngine(t, intSchema("A"), intSchema("B"))
	w := NewBlobWriter(we)
	ordA := addInt(t, we, "A", 1)
	addInt(t, we, "B", 2)
	require.NoError(t, we.PrepareForWrite())
	s0 := writeBlob(t, w, SnapshotBlob)

	filter := NewFilterConfig(false).AddType("A")
	re := NewReadStateEngine()
	br := NewBlobReaderWithOptions(re, BlobReaderOptions{Filter: filter})
	require.NoError(t, br.ReadSnapshot(bytes.NewReader(s0)))

	assert.Nil(t, re.GetTypeState("B"))
	tsA := re.GetTypeState("A").(*ObjectTypeReadState)
	assert.Equal(t, 1, tsA.PopulatedOrdinals().Count())

	// the next delta still positions correctly past B's drained payload
	require.NoError(t, we.PrepareForNextCycle())
	we.AddAllObjectsFromPreviousCycle()
	addInt(t, we, "A", 3)
	addInt(t, we, "B", 4)
	require.NoError(t, we.PrepareForWrite())
	d1 := writeBlob(t, w, DeltaBlob)

	require.NoError(t, br.ApplyDelta(bytes.NewReader(d1)))
	assert.Equal(t, 2, tsA.PopulatedOrdinals().Count())
	v, ok := tsA.ReadInt(ordA, "x")
	require.True(t, ok)
	assert.Equal(t, int64(1), v)
}

func TestFilteredFields(t *testing.T) {
	sch := schema.NewObject("P", []schema.Field{
		{Name: "x", Kind: schema.Int},
		{Name: "name", Kind: schema.String},
	})
	we := newTestEngine(t, sch)
	ord, err := we.Add("P", NewObjectRecord(sch).SetInt("x", 7).SetString("name", "seven"))
	require.NoError(t, err)
	require.NoError(t, we.PrepareForWrite())
	w := NewBlobWriter(we)
	s0 := writeBlob(t, w, SnapshotBlob)

	filter := NewFilterConfig(false).AddTypeField("P", "x")
	re := NewReadStateEngine()
	br := NewBlobReaderWithOptions(re, BlobReaderOptions{Filter: filter})
	require.NoError(t, br.ReadSnapshot(bytes.NewReader(s0)))

	ts := re.GetTypeState("P").(*ObjectTypeReadState)
	assert.True(t, ts.IsFiltered())
	v, ok := ts.ReadInt(ord, "x")
	require.True(t, ok)
	assert.Equal(t, int64(7), v)
	_, ok = ts.ReadString(ord, "name")
	assert.False(t, ok)

	// deltas keep decoding against the wire schema
	require.NoError(t, we.PrepareForNextCycle())
	we.AddAllObjectsFromPreviousCycle()
	ord2, err := we.Add("P", NewObjectRecord(sch).SetInt("x", 8).SetString("name", "eight"))
	require.NoError(t, err)
	require.NoError(t, we.PrepareForWrite())
	d1 := writeBlob(t, w, DeltaBlob)
	require.NoError(t, br.ApplyDelta(bytes.NewReader(d1)))
	v, ok = ts.ReadInt(ord2, "x")
	require.True(t, ok)
	assert.Equal(t, int64(8), v)
}

func TestReverseDelta(t *testing.T) {
	we := newTestEngine(t, intSchema("A"))
	w := NewBlobWriter(we)
	addInt(t, we, "A", 42)
	require.NoError(t, we.PrepareForWrite())
	require.NoError(t, we.PrepareForNextCycle())

	ord43 := addInt(t, we, "A", 43)
	require.NoError(t, we.PrepareForWrite())
	s1 := writeBlob(t, w, SnapshotBlob)
	r1 := writeBlob(t, w, ReverseDeltaBlob)

	re, br := loadSnapshot(t, s1)
	ts := re.GetTypeState("A").(*ObjectTypeReadState)
	assert.Equal(t, 1, ts.PopulatedOrdinals().Count())

	require.NoError(t, br.ApplyDelta(bytes.NewReader(r1)))
	assert.Equal(t, we.PreviousStateRandomizedTag(), re.CurrentRandomizedTag())
	assert.Equal(t, 1, ts.PopulatedOrdinals().Count())
	assert.False(t, ts.PopulatedOrdinals().Get(ord43))
	// the surviving record is the previous cycle's 42
	surviving := ts.PopulatedOrdinals().Slice()[0]
	v, ok := ts.ReadInt(surviving, "x")
	require.True(t, ok)
	assert.Equal(t, int64(42), v)
}

func TestDeltaChainEqualsSnapshot(t *testing.T) {
	we := newTestEngine(t, intSchema("A"))
	w := NewBlobWriter(we)

	addInt(t, we, "A", 1)
	addInt(t, we, "A", 2)
	require.NoError(t, we.PrepareForWrite())
	s0 := writeBlob(t, w, SnapshotBlob)
	require.NoError(t, we.PrepareForNextCycle())

	we.AddAllObjectsFromPreviousCycle()
	addInt(t, we, "A", 3)
	require.NoError(t, we.PrepareForWrite())
	d1 := writeBlob(t, w, DeltaBlob)
	require.NoError(t, we.PrepareForNextCycle())

	addInt(t, we, "A", 3)
	addInt(t, we, "A", 4)
	require.NoError(t, we.PrepareForWrite())
	d2 := writeBlob(t, w, DeltaBlob)
	s2 := writeBlob(t, w, SnapshotBlob)

	chained, br := loadSnapshot(t, s0)
	require.NoError(t, br.ApplyDelta(bytes.NewReader(d1)))
	require.NoError(t, br.ApplyDelta(bytes.NewReader(d2)))

	direct, _ := loadSnapshot(t, s2)

	ca := chained.GetTypeState("A").(*ObjectTypeReadState)
	da := direct.GetTypeState("A").(*ObjectTypeReadState)
	assert.Equal(t, chained.CurrentRandomizedTag(), direct.CurrentRandomizedTag())
	require.True(t, ca.PopulatedOrdinals().Equal(da.PopulatedOrdinals()))
	ca.PopulatedOrdinals().Ascending(func(ord int) bool {
		assert.Equal(t, da.EncodedRecord(ord), ca.EncodedRecord(ord))
		return true
	})
}

func TestResetRegeneratesTagAndPopulation(t *testing.T) {
	we := newTestEngine(t, intSchema("A"))
	w := NewBlobWriter(we)
	addInt(t, we, "A", 1)
	require.NoError(t, we.PrepareForWrite())
	s0 := writeBlob(t, w, SnapshotBlob)
	require.NoError(t, we.PrepareForNextCycle())

	addInt(t, we, "A", 2)
	addInt(t, we, "A", 3)
	tagBefore := we.NextStateRandomizedTag()
	require.NoError(t, we.ResetToLastPrepareForNextCycle())
	assert.NotEqual(t, tagBefore, we.NextStateRandomizedTag())
	assert.Equal(t, 0, we.GetTypeState("A").Population())

	// a cycle produced after the reset chains cleanly
	we.AddAllObjectsFromPreviousCycle()
	require.NoError(t, we.PrepareForWrite())
	d1 := writeBlob(t, w, DeltaBlob)

	re, br := loadSnapshot(t, s0)
	require.NoError(t, br.ApplyDelta(bytes.NewReader(d1)))
	assert.Equal(t, 1, re.GetTypeState("A").PopulatedOrdinals().Count())
}

func TestRestoreContinuesDeltaChain(t *testing.T) {
	we := newTestEngine(t, intSchema("A"))
	w := NewBlobWriter(we)
	ord42 := addInt(t, we, "A", 42)
	require.NoError(t, we.PrepareForWrite())
	s0 := writeBlob(t, w, SnapshotBlob)

	re, br := loadSnapshot(t, s0)

	// producer restarts
	we2 := newTestEngine(t, intSchema("A"))
	require.NoError(t, we2.RestoreFrom(re))
	assert.True(t, we2.IsRestored())
	assert.True(t, we2.CanProduceDelta())
	assert.Equal(t, re.CurrentRandomizedTag(), we2.PreviousStateRandomizedTag())

	we2.AddAllObjectsFromPreviousCycle()
	sameOrd := addInt(t, we2, "A", 42)
	assert.Equal(t, ord42, sameOrd)
	ord43 := addInt(t, we2, "A", 43)
	require.NoError(t, we2.PrepareForWrite())
	d1 := writeBlob(t, NewBlobWriter(we2), DeltaBlob)

	require.NoError(t, br.ApplyDelta(bytes.NewReader(d1)))
	ts := re.GetTypeState("A").(*ObjectTypeReadState)
	assert.Equal(t, 2, ts.PopulatedOrdinals().Count())
	v, ok := ts.ReadInt(ord43, "x")
	require.True(t, ok)
	assert.Equal(t, int64(43), v)
}

func TestRestoreRejectedWithoutListeners(t *testing.T) {
	re := NewReadStateEngineWithOptions(ReadOptions{SkipPopulatedOrdinalListeners: true})
	we := newTestEngine(t, intSchema("A"))
	assert.ErrorIs(t, we.RestoreFrom(re), flatstate_errors.ErrRestoreRejected)
}

func TestRestoreFromFilteredStateBlocksDelta(t *testing.T) {
	sch := schema.NewObject("P", []schema.Field{
		{Name: "x", Kind: schema.Int},
		{Name: "name", Kind: schema.String},
	})
	we := newTestEngine(t, sch)
	_, err := we.Add("P", NewObjectRecord(sch).SetInt("x", 7).SetString("name", "seven"))
	require.NoError(t, err)
	require.NoError(t, we.PrepareForWrite())
	s0 := writeBlob(t, NewBlobWriter(we), SnapshotBlob)

	filter := NewFilterConfig(false).AddTypeField("P", "x")
	re := NewReadStateEngine()
	br := NewBlobReaderWithOptions(re, BlobReaderOptions{Filter: filter})
	require.NoError(t, br.ReadSnapshot(bytes.NewReader(s0)))

	we2 := newTestEngine(t, sch)
	require.NoError(t, we2.RestoreFrom(re))
	assert.False(t, we2.CanProduceDelta())
}

func TestForwardCompatPaddingIsSkipped(t *testing.T) {
	we := newTestEngine(t, intSchema("A"))
	ord := addInt(t, we, "A", 42)
	require.NoError(t, we.PrepareForWrite())
	w := NewBlobWriter(we)
	w.padding = []byte{0xde, 0xad, 0xbe, 0xef}
	s0 := writeBlob(t, w, SnapshotBlob)

	re, _ := loadSnapshot(t, s0)
	ts := re.GetTypeState("A").(*ObjectTypeReadState)
	v, ok := ts.ReadInt(ord, "x")
	require.True(t, ok)
	assert.Equal(t, int64(42), v)
}

type fancyHasher struct{}

func (fancyHasher) HashCode(_ string, record []byte) uint64 { return uint64(len(record)) }
func (fancyHasher) TypesWithDefinedHashCodes() []string     { return []string{"B", "A"} }

func TestHashCodesHeaderTagSortedAndPropagated(t *testing.T) {
	we := NewWriteStateEngineWithOptions(WriteOptions{Hasher: fancyHasher{}})
	require.NoError(t, we.AddTypeState(NewTypeWriteState(intSchema("A"))))
	require.NoError(t, we.PrepareForWrite())
	assert.Equal(t, "A,B", we.HeaderTag(HashCodesHeaderKey))

	s0 := writeBlob(t, NewBlobWriter(we), SnapshotBlob)
	re, _ := loadSnapshot(t, s0)
	assert.Equal(t, "A,B", re.HeaderTag(HashCodesHeaderKey))
}

func TestWriteBeforePrepareForWriteFails(t *testing.T) {
	we := newTestEngine(t, intSchema("A"))
	var buf bytes.Buffer
	assert.ErrorIs(t, NewBlobWriter(we).WriteSnapshot(&buf), flatstate_errors.ErrPhaseViolation)
}

func TestAddUnknownType(t *testing.T) {
	we := newTestEngine(t, intSchema("A"))
	_, err := we.Add("Nope", NewObjectRecord(intSchema("A")).SetInt("x", 1))
	assert.ErrorIs(t, err, flatstate_errors.ErrTypeUnknown)
}

func TestDuplicateTypeState(t *testing.T) {
	we := newTestEngine(t, intSchema("A"))
	assert.ErrorIs(t, we.AddTypeState(NewTypeWriteState(intSchema("A"))), flatstate_errors.ErrTypeDuplicated)
}
