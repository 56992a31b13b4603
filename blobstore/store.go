// Package blobstore persists produced blobs and fans publish announcements
// out to consumers, giving a producer and its consumers a complete local
// publish/consume loop. Transport between machines is out of scope; the
// store is the shared medium.
package blobstore

import (
	"encoding/binary"
	"log/slog"

	"github.com/cockroachdb/pebble"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/drpcorg/flatstate"
	"github.com/drpcorg/flatstate/flatstate_errors"
	"github.com/drpcorg/flatstate/utils"
)

const blobCacheSize = 16

// Store keeps blobs in pebble. A blob lives under its kind and destination
// tag; delta kinds get a secondary index by origin tag so a consumer can
// chain from its current version, and the latest snapshot is tracked under
// a pointer key for cold starts.
type Store struct {
	db    *pebble.DB
	log   utils.Logger
	cache *lru.Cache[string, []byte]
}

// Open opens (or creates) a store in dir. opts may be nil; tests pass
// &pebble.Options{FS: vfs.NewMem()}.
func Open(dir string, opts *pebble.Options) (*Store, error) {
	if opts == nil {
		opts = &pebble.Options{}
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, err
	}
	cache, err := lru.New[string, []byte](blobCacheSize)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{
		db:    db,
		log:   utils.NewDefaultLogger(slog.LevelInfo),
		cache: cache,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Collector exposes the underlying pebble metrics for prometheus
// registration.
func (s *Store) Collector() prometheus.Collector {
	return NewPebbleCollector(s.db)
}

func blobKey(kind flatstate.BlobKind, destination flatstate.Tag) []byte {
	key := make([]byte, 0, 10)
	key = append(key, 'B', byte(kind))
	return binary.BigEndian.AppendUint64(key, uint64(destination))
}

func originKey(kind flatstate.BlobKind, origin flatstate.Tag) []byte {
	key := make([]byte, 0, 10)
	key = append(key, 'O', byte(kind))
	return binary.BigEndian.AppendUint64(key, uint64(origin))
}

var latestSnapshotKey = []byte{'L', 'S'}

// Put stores one blob. Delta kinds are indexed by origin; snapshots update
// the latest-snapshot pointer.
func (s *Store) Put(kind flatstate.BlobKind, origin, destination flatstate.Tag, blob []byte) error {
	b := s.db.NewBatch()
	if err := b.Set(blobKey(kind, destination), blob, nil); err != nil {
		return err
	}
	var tag [8]byte
	binary.BigEndian.PutUint64(tag[:], uint64(destination))
	switch kind {
	case flatstate.DeltaBlob, flatstate.ReverseDeltaBlob:
		if err := b.Set(originKey(kind, origin), tag[:], nil); err != nil {
			return err
		}
	case flatstate.SnapshotBlob:
		if err := b.Set(latestSnapshotKey, tag[:], nil); err != nil {
			return err
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return err
	}
	s.log.Debug("blob stored", "kind", kind.String(),
		"origin", origin, "destination", destination, "bytes", len(blob))
	return nil
}

// get reads one key. Blob keys are immutable once written (a destination
// tag names exactly one blob), so only those go through the cache; pointer
// and index keys are always read from pebble.
func (s *Store) get(key []byte) ([]byte, error) {
	cacheable := key[0] == 'B'
	if cacheable {
		if v, ok := s.cache.Get(string(key)); ok {
			return v, nil
		}
	}
	val, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, flatstate_errors.ErrBlobMissing
	}
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), val...)
	_ = closer.Close()
	if cacheable {
		s.cache.Add(string(key), out)
	}
	return out, nil
}

// Snapshot fetches the snapshot blob published at destination.
func (s *Store) Snapshot(destination flatstate.Tag) ([]byte, error) {
	return s.get(blobKey(flatstate.SnapshotBlob, destination))
}

// LatestSnapshot fetches the most recently stored snapshot and its
// destination tag.
func (s *Store) LatestSnapshot() ([]byte, flatstate.Tag, error) {
	tag, err := s.get(latestSnapshotKey)
	if err != nil {
		return nil, 0, err
	}
	destination := flatstate.Tag(binary.BigEndian.Uint64(tag))
	blob, err := s.Snapshot(destination)
	return blob, destination, err
}

// DeltaFrom fetches the delta originating at the given tag, returning the
// blob and its destination.
func (s *Store) DeltaFrom(origin flatstate.Tag) ([]byte, flatstate.Tag, error) {
	return s.follow(flatstate.DeltaBlob, origin)
}

// ReverseDeltaFrom fetches the reverse delta originating at the given tag.
func (s *Store) ReverseDeltaFrom(origin flatstate.Tag) ([]byte, flatstate.Tag, error) {
	return s.follow(flatstate.ReverseDeltaBlob, origin)
}

func (s *Store) follow(kind flatstate.BlobKind, origin flatstate.Tag) ([]byte, flatstate.Tag, error) {
	tag, err := s.get(originKey(kind, origin))
	if err != nil {
		return nil, 0, err
	}
	destination := flatstate.Tag(binary.BigEndian.Uint64(tag))
	blob, err := s.get(blobKey(kind, destination))
	return blob, destination, err
}
