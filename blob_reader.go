package flatstate

import (
	"bufio"
	"io"
	"time"

	"github.com/drpcorg/flatstate/codec"
	"github.com/drpcorg/flatstate/flatstate_errors"
	"github.com/drpcorg/flatstate/schema"
	"github.com/drpcorg/flatstate/utils"
)

// BlobReader populates and updates a read engine from snapshot and delta
// blobs. The filter decides which types (and which object fields) are
// materialized during snapshot load; everything else is drained without
// allocation.
type BlobReader struct {
	engine  *ReadStateEngine
	filter  *FilterConfig
	log     utils.Logger
	metrics *Metrics
}

type BlobReaderOptions struct {
	Filter  *FilterConfig
	Metrics *Metrics
}

func NewBlobReader(engine *ReadStateEngine) *BlobReader {
	return NewBlobReaderWithOptions(engine, BlobReaderOptions{})
}

func NewBlobReaderWithOptions(engine *ReadStateEngine, opts BlobReaderOptions) *BlobReader {
	if opts.Filter == nil {
		opts.Filter = NewFilterConfig(true)
	}
	return &BlobReader{
		engine:  engine,
		filter:  opts.Filter,
		log:     engine.log,
		metrics: opts.Metrics,
	}
}

// ReadSnapshot initializes the engine from a snapshot blob. The engine is
// expected to be fresh; a failed load leaves it indeterminate and it must
// be discarded.
func (b *BlobReader) ReadSnapshot(in io.Reader) error {
	r := bufio.NewReader(in)
	start := time.Now()

	header, err := ReadHeader(r)
	if err != nil {
		return err
	}
	b.engine.SetCurrentRandomizedTag(header.DestinationTag)
	b.engine.SetHeaderTags(header.Tags)

	b.notifyBeginUpdate()

	n, err := codec.ReadUvarint(r)
	if err != nil {
		return err
	}
	for i := uint64(0); i < n; i++ {
		if err := b.readTypeSnapshot(r, header); err != nil {
			return err
		}
	}

	b.engine.WireTypeStatesToSchemas()
	b.notifyEndUpdate()
	b.engine.AfterInitialization()

	elapsed := time.Since(start)
	if b.metrics != nil {
		b.metrics.observeLoad(SnapshotBlob.String(), elapsed.Seconds())
	}
	b.log.Info("snapshot loaded", "types", n,
		"tag", header.DestinationTag, "elapsed", elapsed)
	return nil
}

// ApplyDelta advances the engine by one version. A delta whose origin tag
// does not match the engine's current tag is rejected before any state is
// touched.
func (b *BlobReader) ApplyDelta(in io.Reader) error {
	r := bufio.NewReader(in)
	start := time.Now()

	header, err := ReadHeader(r)
	if err != nil {
		return err
	}
	if header.OriginTag != b.engine.CurrentRandomizedTag() {
		return flatstate_errors.ErrDeltaMismatch
	}
	b.engine.SetCurrentRandomizedTag(header.DestinationTag)
	b.engine.SetHeaderTags(header.Tags)

	b.notifyBeginUpdate()

	n, err := codec.ReadUvarint(r)
	if err != nil {
		return err
	}
	for i := uint64(0); i < n; i++ {
		if err := b.readTypeDelta(r, header); err != nil {
			return err
		}
		b.engine.MemoryRecycler().Swap()
	}

	b.notifyEndUpdate()

	elapsed := time.Since(start)
	if b.metrics != nil {
		b.metrics.observeLoad(DeltaBlob.String(), elapsed.Seconds())
	}
	b.log.Info("delta applied", "types", n,
		"origin", header.OriginTag, "destination", header.DestinationTag,
		"elapsed", elapsed)
	return nil
}

func (b *BlobReader) readTypeSnapshot(r codec.Reader, header *BlobHeader) error {
	sch, err := schema.Read(r)
	if err != nil {
		return err
	}
	if err := skipForwardCompatBytes(r, header); err != nil {
		return err
	}

	if !b.filter.IncludesType(sch.Name()) {
		b.log.Debug("type filtered out, discarding", "type", sch.Name())
		return DiscardSnapshot(r)
	}

	var ts TypeReadState
	switch s := sch.(type) {
	case *schema.Object:
		ts = NewObjectTypeReadState(b.filter.FilterObject(s), s)
	case *schema.List:
		ts = NewListTypeReadState(s)
	case *schema.Set:
		ts = NewSetTypeReadState(s)
	case *schema.Map:
		ts = NewMapTypeReadState(s)
	}
	if err := b.engine.AddTypeState(ts); err != nil {
		return err
	}
	for _, l := range ts.Listeners() {
		l.BeginUpdate()
	}
	return ts.ReadSnapshot(r, b.engine.MemoryRecycler())
}

func (b *BlobReader) readTypeDelta(r codec.Reader, header *BlobHeader) error {
	sch, err := schema.Read(r)
	if err != nil {
		return err
	}
	if err := skipForwardCompatBytes(r, header); err != nil {
		return err
	}

	ts := b.engine.GetTypeState(sch.Name())
	if ts == nil {
		return DiscardDelta(r)
	}
	return ts.ApplyDelta(r, sch, b.engine.MemoryRecycler())
}

func skipForwardCompatBytes(r codec.Reader, header *BlobHeader) error {
	if header.Version == BlobVersionLegacy {
		return nil
	}
	n, err := codec.ReadUvarint(r)
	if err != nil {
		return err
	}
	return codec.Skip(r, n)
}

func (b *BlobReader) notifyBeginUpdate() {
	for _, ts := range b.engine.TypeStates() {
		for _, l := range ts.Listeners() {
			l.BeginUpdate()
		}
	}
}

func (b *BlobReader) notifyEndUpdate() {
	for _, ts := range b.engine.TypeStates() {
		for _, l := range ts.Listeners() {
			l.EndUpdate()
		}
	}
}
