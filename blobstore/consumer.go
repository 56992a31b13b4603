package blobstore

import (
	"bytes"
	"errors"
	"log/slog"

	"github.com/learn-decentralized-systems/toyqueue"

	"github.com/drpcorg/flatstate"
	"github.com/drpcorg/flatstate/flatstate_errors"
	"github.com/drpcorg/flatstate/utils"
)

// Consumer keeps a read engine current against a store: a cold start loads
// the latest snapshot, after which Refresh chains deltas from the engine's
// current tag as far as the store allows.
type Consumer struct {
	engine *flatstate.ReadStateEngine
	reader *flatstate.BlobReader
	store  *Store
	log    utils.Logger

	initialized bool
}

type ConsumerOptions struct {
	Filter *flatstate.FilterConfig
	Logger utils.Logger
}

func NewConsumer(store *Store) *Consumer {
	return NewConsumerWithOptions(store, ConsumerOptions{})
}

func NewConsumerWithOptions(store *Store, opts ConsumerOptions) *Consumer {
	if opts.Logger == nil {
		opts.Logger = utils.NewDefaultLogger(slog.LevelInfo)
	}
	engine := flatstate.NewReadStateEngineWithOptions(flatstate.ReadOptions{Logger: opts.Logger})
	return &Consumer{
		engine: engine,
		reader: flatstate.NewBlobReaderWithOptions(engine, flatstate.BlobReaderOptions{Filter: opts.Filter}),
		store:  store,
		log:    opts.Logger,
	}
}

func (c *Consumer) Engine() *flatstate.ReadStateEngine { return c.engine }

// Refresh brings the engine to the newest version reachable from the
// store. Returns nil when already current.
func (c *Consumer) Refresh() error {
	if !c.initialized {
		blob, tag, err := c.store.LatestSnapshot()
		if err != nil {
			return err
		}
		if err := c.reader.ReadSnapshot(bytes.NewReader(blob)); err != nil {
			return err
		}
		c.initialized = true
		c.log.Debug("consumer initialized", "tag", tag)
	}
	for {
		blob, _, err := c.store.DeltaFrom(c.engine.CurrentRandomizedTag())
		if errors.Is(err, flatstate_errors.ErrBlobMissing) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := c.reader.ApplyDelta(bytes.NewReader(blob)); err != nil {
			return err
		}
	}
}

// Follow drains an announcement feed, refreshing on every announcement.
// Blocks until the feed closes; run it on its own goroutine.
func (c *Consumer) Follow(feed toyqueue.FeedCloser) error {
	for {
		recs, err := feed.Feed()
		if err != nil {
			return err
		}
		for _, rec := range recs {
			a, err := ParseAnnouncement(rec)
			if err != nil {
				c.log.Warn("bad announcement", "err", err)
				continue
			}
			c.log.Debug("announcement received",
				"kind", a.Kind.String(), "destination", a.Destination)
			if err := c.Refresh(); err != nil {
				return err
			}
		}
	}
}
