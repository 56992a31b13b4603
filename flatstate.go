/*
Package flatstate is a producer/consumer engine for in-memory, strongly
typed, versioned datasets.

A producer accumulates records in a WriteStateEngine, cycling between two
phases: adding records and writing the state. Each cycle publishes a blob, a
snapshot carrying the complete dataset or a delta transforming the previous
published version into the next one. Consumers feed blobs to a
ReadStateEngine through a BlobReader: a snapshot materializes every type from
scratch, a delta mutates the engine toward the next version. Versions are
linked by randomized tags, so a delta only ever applies to the exact state it
was produced against.

Records are submitted by value, deduplicated per type by content, and
addressed by ordinals that stay stable for the duration of a cycle.
*/
package flatstate

import (
	"fmt"
	"math/rand/v2"

	"github.com/cespare/xxhash"
)

// Tag identifies a specific produced engine version. Deltas carry the origin
// and destination tags of the transition they encode.
type Tag uint64

func (t Tag) String() string {
	return fmt.Sprintf("%016x", uint64(t))
}

func randomTag() Tag {
	return Tag(rand.Uint64())
}

// EmptyOrdinal marks the absence of a record reference.
const EmptyOrdinal = -1

// HashCodesHeaderKey is the reserved header tag listing, comma-separated in
// sorted order, the type names whose identity uses non-default hashing.
const HashCodesHeaderKey = "HashCodesDefined"

// HashCodeFinder supplies record identity hashes per type. The write engine
// holds it read-only and consults only TypesWithDefinedHashCodes; type
// states deduplicate records by their encoded bytes and do not call
// HashCode.
type HashCodeFinder interface {
	HashCode(typeName string, record []byte) uint64
	// TypesWithDefinedHashCodes reports the types hashed differently from
	// the default. Goes into the reserved blob header tag.
	TypesWithDefinedHashCodes() []string
}

type defaultHashCodeFinder struct{}

func (defaultHashCodeFinder) HashCode(_ string, record []byte) uint64 {
	return xxhash.Sum64(record)
}

func (defaultHashCodeFinder) TypesWithDefinedHashCodes() []string { return nil }

func DefaultHashCodeFinder() HashCodeFinder {
	return defaultHashCodeFinder{}
}
