package blobstore

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/learn-decentralized-systems/toyqueue"
	"github.com/learn-decentralized-systems/toytlv"

	"github.com/drpcorg/flatstate"
	"github.com/drpcorg/flatstate/codec"
	"github.com/drpcorg/flatstate/flatstate_errors"
	"github.com/drpcorg/flatstate/utils"
)

const announceQueueLimit = 1 << 10

// Announcement tells consumers a blob was published.
type Announcement struct {
	Kind        flatstate.BlobKind
	Origin      flatstate.Tag
	Destination flatstate.Tag
}

// Record encodes the announcement as a TLV envelope:
// A( K(kind), O(origin), D(destination) ).
func (a Announcement) Record() []byte {
	return toytlv.Record('A',
		toytlv.Record('K', []byte{byte(a.Kind)}),
		toytlv.Record('O', codec.AppendUint64(nil, uint64(a.Origin))),
		toytlv.Record('D', codec.AppendUint64(nil, uint64(a.Destination))),
	)
}

func ParseAnnouncement(rec []byte) (a Announcement, err error) {
	body, _ := toytlv.Take('A', rec)
	if body == nil {
		return a, fmt.Errorf("%w: not an announcement", flatstate_errors.ErrBadRecord)
	}
	kind, rest := toytlv.Take('K', body)
	if len(kind) != 1 {
		return a, fmt.Errorf("%w: bad announcement kind", flatstate_errors.ErrBadRecord)
	}
	origin, rest := toytlv.Take('O', rest)
	if len(origin) != 8 {
		return a, fmt.Errorf("%w: bad announcement origin", flatstate_errors.ErrBadRecord)
	}
	destination, _ := toytlv.Take('D', rest)
	if len(destination) != 8 {
		return a, fmt.Errorf("%w: bad announcement destination", flatstate_errors.ErrBadRecord)
	}
	a.Kind = flatstate.BlobKind(kind[0])
	a.Origin = flatstate.Tag(binary.BigEndian.Uint64(origin))
	a.Destination = flatstate.Tag(binary.BigEndian.Uint64(destination))
	return a, nil
}

// Announcer fans publish announcements out to subscribed consumers, one
// bounded record queue per subscriber. A subscriber that stops draining is
// dropped.
type Announcer struct {
	log utils.Logger

	mu   sync.Mutex
	subs map[string]toyqueue.DrainCloser
}

func NewAnnouncer(log utils.Logger) *Announcer {
	return &Announcer{
		log:  log,
		subs: make(map[string]toyqueue.DrainCloser),
	}
}

// Subscribe registers a named consumer and returns the feed it reads
// announcements from. Re-subscribing under the same name closes the old
// queue.
func (an *Announcer) Subscribe(name string) toyqueue.FeedCloser {
	queue := toyqueue.RecordQueue{Limit: announceQueueLimit}
	an.mu.Lock()
	old := an.subs[name]
	an.subs[name] = &queue
	an.mu.Unlock()
	if old != nil {
		an.log.Debug("closing the old announcement queue", "name", name)
		_ = old.Close()
	}
	return queue.Blocking()
}

func (an *Announcer) Unsubscribe(name string) {
	an.mu.Lock()
	q := an.subs[name]
	delete(an.subs, name)
	an.mu.Unlock()
	if q != nil {
		_ = q.Close()
	}
}

// Announce delivers the announcement to every subscriber.
func (an *Announcer) Announce(a Announcement) {
	rec := a.Record()
	an.mu.Lock()
	defer an.mu.Unlock()
	for name, q := range an.subs {
		if err := q.Drain(toyqueue.Records{rec}); err != nil {
			an.log.Warn("dropping announcement subscriber", "name", name, "err", err)
			delete(an.subs, name)
			_ = q.Close()
		}
	}
}
