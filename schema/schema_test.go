package schema

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drpcorg/flatstate/flatstate_errors"
)

func roundTrip(t *testing.T, s Schema) Schema {
	t.Helper()
	buf := s.AppendTo(nil)
	got, err := Read(bytes.NewReader(buf))
	require.NoError(t, err)
	assert.True(t, s.Equal(got))
	return got
}

func TestObjectRoundTrip(t *testing.T) {
	s := NewObject("Movie", []Field{
		{Name: "id", Kind: Int},
		{Name: "title", Kind: String},
		{Name: "rating", Kind: Float},
		{Name: "released", Kind: Bool},
		{Name: "poster", Kind: Bytes},
		{Name: "studio", Kind: Ref, Refer: "Studio"},
	}, "id")
	got := roundTrip(t, s).(*Object)
	assert.Equal(t, []string{"id"}, got.PrimaryKey)
	assert.Equal(t, "Studio", got.Fields[5].Refer)
}

func TestListRoundTrip(t *testing.T) {
	roundTrip(t, NewList("MovieList", "Movie"))
}

func TestSetRoundTrip(t *testing.T) {
	roundTrip(t, NewSet("MovieSet", "Movie", "id"))
	roundTrip(t, NewSet("BareSet", "Movie"))
}

func TestMapRoundTrip(t *testing.T) {
	roundTrip(t, NewMap("MoviesById", "Id", "Movie", "value"))
}

func TestReadBadTag(t *testing.T) {
	buf := []byte{'X', 1, 'a'}
	_, err := Read(bytes.NewReader(buf))
	assert.ErrorIs(t, err, flatstate_errors.ErrBadSchema)
}

func TestReadTruncated(t *testing.T) {
	s := NewObject("A", []Field{{Name: "x", Kind: Int}})
	buf := s.AppendTo(nil)
	_, err := Read(bytes.NewReader(buf[:len(buf)-2]))
	assert.Error(t, err)
}

func TestFilter(t *testing.T) {
	s := NewObject("Movie", []Field{
		{Name: "id", Kind: Int},
		{Name: "title", Kind: String},
		{Name: "rating", Kind: Float},
	}, "id")

	kept := s.Filter(func(f string) bool { return f != "rating" })
	assert.Equal(t, 2, len(kept.Fields))
	assert.Equal(t, "Movie", kept.Name())
	assert.Equal(t, []string{"id"}, kept.PrimaryKey)
	assert.Equal(t, 1, kept.FieldIndex("title"))
	assert.Equal(t, -1, kept.FieldIndex("rating"))

	// dropping a primary key path drops the key
	noPk := s.Filter(func(f string) bool { return f != "id" })
	assert.Empty(t, noPk.PrimaryKey)
}

func TestFieldIndex(t *testing.T) {
	s := NewObject("A", []Field{{Name: "x", Kind: Int}, {Name: "y", Kind: Int}})
	assert.Equal(t, 0, s.FieldIndex("x"))
	assert.Equal(t, 1, s.FieldIndex("y"))
	assert.Equal(t, -1, s.FieldIndex("z"))
}
