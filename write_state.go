package flatstate

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/drpcorg/flatstate/bitset"
	"github.com/drpcorg/flatstate/codec"
	"github.com/drpcorg/flatstate/schema"
	"github.com/drpcorg/flatstate/utils"
)

// TypeWriteState accumulates the records of one type across a cycle and
// computes the snapshot/delta payloads for the blob writer.
//
// Records are deduplicated by content: the content-to-ordinal map spans the
// current and the previous cycle, so re-adding a record present in the
// previous cycle yields the ordinal it already held. Ordinals freed when a
// record leaves the population are recycled for new records two cycles on.
//
// Add is safe for concurrent callers during the adding-records phase. The
// cycle transitions are exclusive; the engine does not guard them with locks
// and calling them concurrently with Add is a programming error.
type TypeWriteState struct {
	sch schema.Schema
	log utils.Logger

	ordinals *xsync.MapOf[string, int]

	mu       sync.Mutex
	next     int
	freeList []int
	current  *bitset.Set
	previous *bitset.Set

	restored        bool
	restoreComplete bool

	compiled [][]byte
}

func NewTypeWriteState(s schema.Schema) *TypeWriteState {
	return &TypeWriteState{
		sch:      s,
		ordinals: xsync.NewMapOf[string, int](),
		current:  bitset.New(),
		previous: bitset.New(),
	}
}

func (s *TypeWriteState) bind(log utils.Logger) {
	s.log = log
}

func (s *TypeWriteState) Schema() schema.Schema { return s.sch }

// Add submits an encoded record and returns its ordinal. Identical content
// collapses to a single ordinal.
func (s *TypeWriteState) Add(rec []byte) int {
	key := string(rec)
	if ord, ok := s.ordinals.Load(key); ok {
		s.mu.Lock()
		s.current.Set(ord)
		s.mu.Unlock()
		return ord
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ord, ok := s.ordinals.Load(key); ok {
		s.current.Set(ord)
		return ord
	}
	ord := s.allocOrdinal()
	s.ordinals.Store(key, ord)
	s.current.Set(ord)
	return ord
}

// allocOrdinal must be called with mu held.
func (s *TypeWriteState) allocOrdinal() int {
	if n := len(s.freeList); n > 0 {
		ord := s.freeList[n-1]
		s.freeList = s.freeList[:n-1]
		return ord
	}
	ord := s.next
	s.next++
	return ord
}

// PrepareForWrite compiles the accumulated records into the ordinal-indexed
// form the blob writer consumes. Covers the previous population too, the
// reverse delta re-adds those records.
func (s *TypeWriteState) PrepareForWrite() {
	compiled := make([][]byte, s.next)
	s.ordinals.Range(func(key string, ord int) bool {
		compiled[ord] = []byte(key)
		return true
	})
	s.compiled = compiled
}

// PrepareForNextCycle rotates current into previous. Records that left the
// population are evicted and their ordinals recycled.
func (s *TypeWriteState) PrepareForNextCycle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ordinals.Range(func(key string, ord int) bool {
		if !s.current.Get(ord) {
			s.ordinals.Delete(key)
			s.freeList = append(s.freeList, ord)
		}
		return true
	})
	s.previous.CopyFrom(s.current)
	s.current.Reset()
	s.compiled = nil
}

// AddAllObjectsFromPreviousCycle re-adds last cycle's population unchanged.
func (s *TypeWriteState) AddAllObjectsFromPreviousCycle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.previous.Ascending(func(ord int) bool {
		s.current.Set(ord)
		return true
	})
}

// ResetToLastPrepareForNextCycle discards everything added since the last
// cycle boundary.
func (s *TypeWriteState) ResetToLastPrepareForNextCycle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ordinals.Range(func(key string, ord int) bool {
		if !s.previous.Get(ord) {
			s.ordinals.Delete(key)
			s.freeList = append(s.freeList, ord)
		}
		return true
	})
	s.current.Reset()
	s.compiled = nil
}

// RestoreFrom imports the identity of a previously published population so
// the next cycle can continue the delta chain. A filtered read state cannot
// reproduce the original record bytes; the restore is then marked
// incomplete and the engine will refuse to produce a delta.
func (s *TypeWriteState) RestoreFrom(rs TypeReadState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restored = true
	if rs.IsFiltered() {
		s.restoreComplete = false
		return
	}
	complete := true
	rs.PopulatedOrdinals().Ascending(func(ord int) bool {
		rec := rs.EncodedRecord(ord)
		if rec == nil {
			complete = false
			return true
		}
		s.ordinals.Store(string(rec), ord)
		s.previous.Set(ord)
		if ord >= s.next {
			s.next = ord + 1
		}
		return true
	})
	s.freeList = s.freeList[:0]
	for ord := 0; ord < s.next; ord++ {
		if !s.previous.Get(ord) {
			s.freeList = append(s.freeList, ord)
		}
	}
	s.restoreComplete = complete
}

func (s *TypeWriteState) HasChangedSinceLastCycle() bool {
	return !s.current.Equal(s.previous)
}

// IsRestored reports whether a restore ran and bound every prior ordinal.
func (s *TypeWriteState) IsRestored() bool {
	return s.restored && s.restoreComplete
}

// Population reports the number of records in the current cycle.
func (s *TypeWriteState) Population() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Count()
}

func (s *TypeWriteState) appendSnapshot(buf []byte) []byte {
	return appendRecords(buf, s.current, s.compiled)
}

func (s *TypeWriteState) appendDelta(buf []byte) []byte {
	buf = appendOrdinalList(buf, s.previous.AndNot(s.current))
	return appendRecords(buf, s.current.AndNot(s.previous), s.compiled)
}

func (s *TypeWriteState) appendReverseDelta(buf []byte) []byte {
	buf = appendOrdinalList(buf, s.current.AndNot(s.previous))
	return appendRecords(buf, s.previous.AndNot(s.current), s.compiled)
}

func appendOrdinalList(buf []byte, set *bitset.Set) []byte {
	buf = codec.AppendUvarint(buf, uint64(set.Count()))
	last := -1
	set.Ascending(func(ord int) bool {
		buf = codec.AppendUvarint(buf, uint64(ord-last-1))
		last = ord
		return true
	})
	return buf
}

func appendRecords(buf []byte, set *bitset.Set, records [][]byte) []byte {
	buf = codec.AppendUvarint(buf, uint64(set.Count()))
	last := -1
	set.Ascending(func(ord int) bool {
		buf = codec.AppendUvarint(buf, uint64(ord-last-1))
		buf = codec.AppendBytes(buf, records[ord])
		last = ord
		return true
	})
	return buf
}
