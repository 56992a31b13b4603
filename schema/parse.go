package schema

import (
	"fmt"

	"github.com/drpcorg/flatstate/codec"
	"github.com/drpcorg/flatstate/flatstate_errors"
)

func (o *Object) AppendTo(buf []byte) []byte {
	buf = append(buf, byte(ObjectType))
	buf = codec.AppendString(buf, o.name)
	buf = codec.AppendUvarint(buf, uint64(len(o.Fields)))
	for _, f := range o.Fields {
		buf = codec.AppendString(buf, f.Name)
		buf = append(buf, byte(f.Kind))
		if f.Kind == Ref {
			buf = codec.AppendString(buf, f.Refer)
		}
	}
	buf = codec.AppendUvarint(buf, uint64(len(o.PrimaryKey)))
	for _, pk := range o.PrimaryKey {
		buf = codec.AppendString(buf, pk)
	}
	return buf
}

func (l *List) AppendTo(buf []byte) []byte {
	buf = append(buf, byte(ListType))
	buf = codec.AppendString(buf, l.name)
	return codec.AppendString(buf, l.Element)
}

func (s *Set) AppendTo(buf []byte) []byte {
	buf = append(buf, byte(SetType))
	buf = codec.AppendString(buf, s.name)
	buf = codec.AppendString(buf, s.Element)
	return appendPaths(buf, s.HashKey)
}

func (m *Map) AppendTo(buf []byte) []byte {
	buf = append(buf, byte(MapType))
	buf = codec.AppendString(buf, m.name)
	buf = codec.AppendString(buf, m.Key)
	buf = codec.AppendString(buf, m.Value)
	return appendPaths(buf, m.HashKey)
}

func appendPaths(buf []byte, paths []string) []byte {
	buf = codec.AppendUvarint(buf, uint64(len(paths)))
	for _, p := range paths {
		buf = codec.AppendString(buf, p)
	}
	return buf
}

// Read decodes one schema off the stream, dispatching on the tag byte.
func Read(r codec.Reader) (Schema, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, flatstate_errors.ErrTruncatedStream
	}
	name, err := codec.ReadString(r)
	if err != nil {
		return nil, err
	}
	switch Type(tag) {
	case ObjectType:
		return readObject(r, name)
	case ListType:
		element, err := codec.ReadString(r)
		if err != nil {
			return nil, err
		}
		return NewList(name, element), nil
	case SetType:
		element, err := codec.ReadString(r)
		if err != nil {
			return nil, err
		}
		hashKey, err := readPaths(r)
		if err != nil {
			return nil, err
		}
		return NewSet(name, element, hashKey...), nil
	case MapType:
		key, err := codec.ReadString(r)
		if err != nil {
			return nil, err
		}
		value, err := codec.ReadString(r)
		if err != nil {
			return nil, err
		}
		hashKey, err := readPaths(r)
		if err != nil {
			return nil, err
		}
		return NewMap(name, key, value, hashKey...), nil
	}
	return nil, fmt.Errorf("%w: tag 0x%02x", flatstate_errors.ErrBadSchema, tag)
}

func readObject(r codec.Reader, name string) (*Object, error) {
	n, err := codec.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	fields := make([]Field, 0, n)
	for i := uint64(0); i < n; i++ {
		fname, err := codec.ReadString(r)
		if err != nil {
			return nil, err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return nil, flatstate_errors.ErrTruncatedStream
		}
		if !FieldKind(kind).Valid() {
			return nil, fmt.Errorf("%w: field kind 0x%02x", flatstate_errors.ErrBadSchema, kind)
		}
		f := Field{Name: fname, Kind: FieldKind(kind)}
		if f.Kind == Ref {
			if f.Refer, err = codec.ReadString(r); err != nil {
				return nil, err
			}
		}
		fields = append(fields, f)
	}
	pk, err := readPaths(r)
	if err != nil {
		return nil, err
	}
	return NewObject(name, fields, pk...), nil
}

func readPaths(r codec.Reader) ([]string, error) {
	n, err := codec.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		p, err := codec.ReadString(r)
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}
