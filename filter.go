package flatstate

import "github.com/drpcorg/flatstate/schema"

// FilterConfig declares the subset of types, and per object type fields,
// that a consumer materializes. A filter handed to the blob reader at
// snapshot time stays in effect for subsequent deltas on the same engine:
// filtered-out types are never registered, so their delta bytes drain
// through the discard path.
type FilterConfig struct {
	includeAll bool
	types      map[string]*typeFilter
}

type typeFilter struct {
	allFields bool
	fields    map[string]bool
}

// NewFilterConfig returns a filter that includes everything (includeAll
// true) or nothing until types are added.
func NewFilterConfig(includeAll bool) *FilterConfig {
	return &FilterConfig{
		includeAll: includeAll,
		types:      make(map[string]*typeFilter),
	}
}

// AddType includes a type with all of its fields.
func (f *FilterConfig) AddType(name string) *FilterConfig {
	f.types[name] = &typeFilter{allFields: true}
	return f
}

// AddTypeField includes a single field of an object type. The type becomes
// included with exactly the fields added this way.
func (f *FilterConfig) AddTypeField(typeName, field string) *FilterConfig {
	tf := f.types[typeName]
	if tf == nil || tf.allFields {
		tf = &typeFilter{fields: make(map[string]bool)}
		f.types[typeName] = tf
	}
	tf.fields[field] = true
	return f
}

func (f *FilterConfig) IncludesType(name string) bool {
	if _, ok := f.types[name]; ok {
		return true
	}
	return f.includeAll
}

func (f *FilterConfig) IncludesField(typeName, field string) bool {
	tf := f.types[typeName]
	if tf == nil {
		return f.includeAll
	}
	if tf.allFields {
		return true
	}
	return tf.fields[field]
}

// FilterObject narrows an object schema to the included fields.
func (f *FilterConfig) FilterObject(s *schema.Object) *schema.Object {
	tf := f.types[s.Name()]
	if tf == nil || tf.allFields {
		return s
	}
	return s.Filter(func(field string) bool { return tf.fields[field] })
}
