// Package schema defines the four dataset type shapes and their
// self-describing binary encoding. A schema is immutable after construction
// and shared between the write and read sides.
package schema

// Type tags a schema variant. The tag byte is the first byte of the
// serialized form.
type Type byte

const (
	ObjectType Type = 'O'
	ListType   Type = 'L'
	SetType    Type = 'S'
	MapType    Type = 'M'
)

// FieldKind is the wire kind of an object field. Every kind is
// self-delimiting given the schema, so readers can skip excluded fields.
type FieldKind byte

const (
	Int    FieldKind = 'i' // zigzag varint
	Float  FieldKind = 'f' // 8 bytes, big-endian float64 bits
	Bool   FieldKind = 'b' // 1 byte
	String FieldKind = 's' // varint length + UTF-8 bytes
	Bytes  FieldKind = 'y' // varint length + bytes
	Ref    FieldKind = 'r' // varint ordinal+1, 0 = null
)

func (k FieldKind) Valid() bool {
	switch k {
	case Int, Float, Bool, String, Bytes, Ref:
		return true
	}
	return false
}

type Field struct {
	Name string
	Kind FieldKind
	// Refer names the target type, Kind == Ref only.
	Refer string
}

type Schema interface {
	Name() string
	Type() Type
	// AppendTo appends the serialized schema: tag byte, name, tag body.
	AppendTo(buf []byte) []byte
	Equal(other Schema) bool
}

type Object struct {
	name       string
	Fields     []Field
	PrimaryKey []string
}

func NewObject(name string, fields []Field, primaryKey ...string) *Object {
	return &Object{name: name, Fields: fields, PrimaryKey: primaryKey}
}

func (o *Object) Name() string { return o.name }
func (o *Object) Type() Type   { return ObjectType }

func (o *Object) FieldIndex(name string) int {
	for i := range o.Fields {
		if o.Fields[i].Name == name {
			return i
		}
	}
	return -1
}

// Filter returns a schema with the subset of fields keep accepts, field
// order preserved. The primary key is kept only if all its paths survive.
func (o *Object) Filter(keep func(field string) bool) *Object {
	fields := make([]Field, 0, len(o.Fields))
	for _, f := range o.Fields {
		if keep(f.Name) {
			fields = append(fields, f)
		}
	}
	filtered := &Object{name: o.name, Fields: fields}
	for _, pk := range o.PrimaryKey {
		if filtered.FieldIndex(pk) < 0 {
			return filtered
		}
	}
	filtered.PrimaryKey = o.PrimaryKey
	return filtered
}

func (o *Object) Equal(other Schema) bool {
	b, ok := other.(*Object)
	if !ok || o.name != b.name || len(o.Fields) != len(b.Fields) ||
		len(o.PrimaryKey) != len(b.PrimaryKey) {
		return false
	}
	for i := range o.Fields {
		if o.Fields[i] != b.Fields[i] {
			return false
		}
	}
	for i := range o.PrimaryKey {
		if o.PrimaryKey[i] != b.PrimaryKey[i] {
			return false
		}
	}
	return true
}

type List struct {
	name    string
	Element string
}

func NewList(name, element string) *List {
	return &List{name: name, Element: element}
}

func (l *List) Name() string { return l.name }
func (l *List) Type() Type   { return ListType }

func (l *List) Equal(other Schema) bool {
	b, ok := other.(*List)
	return ok && *l == *b
}

type Set struct {
	name    string
	Element string
	// HashKey holds the element field paths declared as the set's hash key.
	// It is carried in the schema encoding only; set records order their
	// elements by ascending ordinal whatever it holds.
	HashKey []string
}

func NewSet(name, element string, hashKey ...string) *Set {
	return &Set{name: name, Element: element, HashKey: hashKey}
}

func (s *Set) Name() string { return s.name }
func (s *Set) Type() Type   { return SetType }

func (s *Set) Equal(other Schema) bool {
	b, ok := other.(*Set)
	return ok && s.name == b.name && s.Element == b.Element && stringsEqual(s.HashKey, b.HashKey)
}

type Map struct {
	name    string
	Key     string
	Value   string
	HashKey []string
}

func NewMap(name, key, value string, hashKey ...string) *Map {
	return &Map{name: name, Key: key, Value: value, HashKey: hashKey}
}

func (m *Map) Name() string { return m.name }
func (m *Map) Type() Type   { return MapType }

func (m *Map) Equal(other Schema) bool {
	b, ok := other.(*Map)
	return ok && m.name == b.name && m.Key == b.Key && m.Value == b.Value &&
		stringsEqual(m.HashKey, b.HashKey)
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
