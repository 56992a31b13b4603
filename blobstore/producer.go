package blobstore

import (
	"bytes"
	"log/slog"

	"github.com/google/uuid"

	"github.com/drpcorg/flatstate"
	"github.com/drpcorg/flatstate/utils"
)

// Producer runs publish cycles over a write engine: populate, write the
// blobs, store them, announce, advance to the next cycle. A populate
// failure aborts the cycle via the engine's reset, leaving the delta chain
// intact.
type Producer struct {
	ID uuid.UUID

	engine *flatstate.WriteStateEngine
	writer *flatstate.BlobWriter
	store  *Store
	ann    *Announcer
	log    utils.Logger

	cycles int
}

func NewProducer(engine *flatstate.WriteStateEngine, store *Store, ann *Announcer) *Producer {
	return &Producer{
		ID:     uuid.New(),
		engine: engine,
		writer: flatstate.NewBlobWriter(engine),
		store:  store,
		ann:    ann,
		log:    utils.NewDefaultLogger(slog.LevelInfo),
	}
}

func (p *Producer) Engine() *flatstate.WriteStateEngine { return p.engine }

// Restore seeds the engine from a read engine holding the last published
// state, so the first produced cycle continues the existing delta chain.
func (p *Producer) Restore(re *flatstate.ReadStateEngine) error {
	if err := p.engine.RestoreFrom(re); err != nil {
		return err
	}
	p.cycles = 1
	return nil
}

// RunCycle produces one published version and returns its destination tag.
// A snapshot is always written; a delta and reverse delta are written when
// the chain allows it, and the announcement points consumers at the
// cheapest path.
func (p *Producer) RunCycle(populate func(*flatstate.WriteStateEngine) error) (flatstate.Tag, error) {
	if err := populate(p.engine); err != nil {
		if rerr := p.engine.ResetToLastPrepareForNextCycle(); rerr != nil {
			return 0, rerr
		}
		return 0, err
	}
	if err := p.engine.PrepareForWrite(); err != nil {
		return 0, err
	}
	origin := p.engine.PreviousStateRandomizedTag()
	destination := p.engine.NextStateRandomizedTag()

	var snap bytes.Buffer
	if err := p.writer.WriteSnapshot(&snap); err != nil {
		return 0, err
	}
	if err := p.store.Put(flatstate.SnapshotBlob, origin, destination, snap.Bytes()); err != nil {
		return 0, err
	}

	announce := Announcement{Kind: flatstate.SnapshotBlob, Origin: origin, Destination: destination}
	if p.cycles > 0 && p.engine.CanProduceDelta() {
		var delta, reverse bytes.Buffer
		if err := p.writer.WriteDelta(&delta); err != nil {
			return 0, err
		}
		if err := p.store.Put(flatstate.DeltaBlob, origin, destination, delta.Bytes()); err != nil {
			return 0, err
		}
		if err := p.writer.WriteReverseDelta(&reverse); err != nil {
			return 0, err
		}
		if err := p.store.Put(flatstate.ReverseDeltaBlob, destination, origin, reverse.Bytes()); err != nil {
			return 0, err
		}
		announce.Kind = flatstate.DeltaBlob
	}

	if p.ann != nil {
		p.ann.Announce(announce)
	}
	if err := p.engine.PrepareForNextCycle(); err != nil {
		return 0, err
	}
	p.cycles++
	p.log.Info("cycle published", "producer", p.ID.String(),
		"kind", announce.Kind.String(), "destination", destination)
	return destination, nil
}
