package flatstate

import (
	"io"
	"time"

	"github.com/drpcorg/flatstate/codec"
	"github.com/drpcorg/flatstate/flatstate_errors"
	"github.com/drpcorg/flatstate/utils"
)

// BlobKind distinguishes the three blob flavors a producer emits.
type BlobKind byte

const (
	SnapshotBlob     BlobKind = 'S'
	DeltaBlob        BlobKind = 'D'
	ReverseDeltaBlob BlobKind = 'R'
)

func (k BlobKind) String() string {
	switch k {
	case SnapshotBlob:
		return "snapshot"
	case DeltaBlob:
		return "delta"
	case ReverseDeltaBlob:
		return "reversedelta"
	}
	return "unknown"
}

// BlobWriter emits snapshot and delta blobs for a write engine that has
// been prepared for write. Type sub-blobs follow registration order.
type BlobWriter struct {
	engine *WriteStateEngine
	log    utils.Logger

	// padding is appended after each schema as forward-compatibility bytes
	// that older readers skip. Normally empty.
	padding []byte
}

func NewBlobWriter(engine *WriteStateEngine) *BlobWriter {
	return &BlobWriter{engine: engine, log: engine.log}
}

// WriteSnapshot writes the complete current population.
func (w *BlobWriter) WriteSnapshot(out io.Writer) error {
	return w.write(out, SnapshotBlob)
}

// WriteDelta writes the transition from the previous published state to the
// current one.
func (w *BlobWriter) WriteDelta(out io.Writer) error {
	return w.write(out, DeltaBlob)
}

// WriteReverseDelta writes the inverse transition, from the current state
// back to the previous one.
func (w *BlobWriter) WriteReverseDelta(out io.Writer) error {
	return w.write(out, ReverseDeltaBlob)
}

func (w *BlobWriter) write(out io.Writer, kind BlobKind) error {
	if w.engine.preparedForNextCycle {
		return flatstate_errors.ErrPhaseViolation
	}
	start := time.Now()

	header := BlobHeader{
		Version:        BlobVersionCurrent,
		OriginTag:      w.engine.PreviousStateRandomizedTag(),
		DestinationTag: w.engine.NextStateRandomizedTag(),
		Tags:           w.engine.HeaderTags(),
	}
	if kind == ReverseDeltaBlob {
		header.OriginTag, header.DestinationTag = header.DestinationTag, header.OriginTag
	}
	buf := header.AppendTo(nil)

	states := w.engine.GetOrderedTypeStates()
	buf = codec.AppendUvarint(buf, uint64(len(states)))
	for _, ts := range states {
		buf = ts.Schema().AppendTo(buf)
		buf = codec.AppendUvarint(buf, uint64(len(w.padding)))
		buf = append(buf, w.padding...)
		switch kind {
		case SnapshotBlob:
			buf = ts.appendSnapshot(buf)
		case DeltaBlob:
			buf = ts.appendDelta(buf)
		case ReverseDeltaBlob:
			buf = ts.appendReverseDelta(buf)
		}
	}

	if _, err := out.Write(buf); err != nil {
		return err
	}
	if w.engine.metrics != nil {
		w.engine.metrics.blobWritten(kind.String(), len(buf))
	}
	w.log.Debug("blob written", "kind", kind.String(),
		"origin", header.OriginTag, "destination", header.DestinationTag,
		"types", len(states), "bytes", len(buf), "elapsed", time.Since(start))
	return nil
}
