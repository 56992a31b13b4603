package flatstate

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/drpcorg/flatstate/codec"
	"github.com/drpcorg/flatstate/flatstate_errors"
)

// blobMagic opens every blob: "FLST".
const blobMagic uint32 = 0x464C5354

const (
	// BlobVersionLegacy frames type sub-blobs without the
	// forward-compatibility pad.
	BlobVersionLegacy uint64 = 1
	BlobVersionCurrent uint64 = 2
)

// BlobHeader carries the format version, the origin and destination tags of
// the transition the blob encodes, and the free-form header tags.
type BlobHeader struct {
	Version        uint64
	OriginTag      Tag
	DestinationTag Tag
	Tags           map[string]string
}

// AppendTo serializes the header. Tags are written in sorted key order so
// identical states produce identical bytes.
func (h *BlobHeader) AppendTo(buf []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, blobMagic)
	buf = codec.AppendUvarint(buf, h.Version)
	buf = codec.AppendUint64(buf, uint64(h.OriginTag))
	buf = codec.AppendUint64(buf, uint64(h.DestinationTag))
	keys := make([]string, 0, len(h.Tags))
	for k := range h.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf = codec.AppendUvarint(buf, uint64(len(keys)))
	for _, k := range keys {
		buf = codec.AppendString(buf, k)
		buf = codec.AppendString(buf, h.Tags[k])
	}
	return buf
}

// ReadHeader decodes a blob header off the stream. Consumers can use it
// alone to index a blob by its tags without materializing anything.
func ReadHeader(r codec.Reader) (*BlobHeader, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, flatstate_errors.ErrTruncatedStream
	}
	if binary.BigEndian.Uint32(magic[:]) != blobMagic {
		return nil, flatstate_errors.ErrBadHeader
	}
	version, err := codec.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if version != BlobVersionLegacy && version != BlobVersionCurrent {
		return nil, fmt.Errorf("%w: version %d", flatstate_errors.ErrVersionUnsupported, version)
	}
	origin, err := codec.ReadUint64(r)
	if err != nil {
		return nil, err
	}
	destination, err := codec.ReadUint64(r)
	if err != nil {
		return nil, err
	}
	n, err := codec.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	tags := make(map[string]string, n)
	for i := uint64(0); i < n; i++ {
		k, err := codec.ReadString(r)
		if err != nil {
			return nil, err
		}
		v, err := codec.ReadString(r)
		if err != nil {
			return nil, err
		}
		tags[k] = v
	}
	return &BlobHeader{
		Version:        version,
		OriginTag:      Tag(origin),
		DestinationTag: Tag(destination),
		Tags:           tags,
	}, nil
}
