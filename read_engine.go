package flatstate

import (
	"fmt"
	"log/slog"

	"github.com/drpcorg/flatstate/flatstate_errors"
	"github.com/drpcorg/flatstate/utils"
)

// ReadStateEngine is the consumer's handle to a dataset. Type states are
// materialized into it during snapshot load; deltas then advance it version
// by version along the randomized-tag chain.
type ReadStateEngine struct {
	log      utils.Logger
	recycler *MemoryRecycler

	typeStates map[string]TypeReadState
	ordered    []TypeReadState

	currentTag Tag
	headerTags map[string]string

	listenToAllPopulatedOrdinals bool
}

type ReadOptions struct {
	Logger utils.Logger
	// SkipPopulatedOrdinalListeners leaves new type states without the
	// automatically attached PopulatedOrdinalListener. An engine built this
	// way cannot seed a write engine restore.
	SkipPopulatedOrdinalListeners bool
}

func NewReadStateEngine() *ReadStateEngine {
	return NewReadStateEngineWithOptions(ReadOptions{})
}

func NewReadStateEngineWithOptions(opts ReadOptions) *ReadStateEngine {
	if opts.Logger == nil {
		opts.Logger = utils.NewDefaultLogger(slog.LevelInfo)
	}
	return &ReadStateEngine{
		log:                          opts.Logger,
		recycler:                     NewMemoryRecycler(),
		typeStates:                   make(map[string]TypeReadState),
		headerTags:                   make(map[string]string),
		listenToAllPopulatedOrdinals: !opts.SkipPopulatedOrdinalListeners,
	}
}

// AddTypeState registers a type state materialized during snapshot load.
func (e *ReadStateEngine) AddTypeState(ts TypeReadState) error {
	name := ts.Schema().Name()
	if _, ok := e.typeStates[name]; ok {
		return fmt.Errorf("%w: %s", flatstate_errors.ErrTypeDuplicated, name)
	}
	if e.listenToAllPopulatedOrdinals {
		ts.AddListener(NewPopulatedOrdinalListener())
	}
	e.typeStates[name] = ts
	e.ordered = append(e.ordered, ts)
	return nil
}

// WireTypeStatesToSchemas resolves every reference field's target type to
// its concrete type state, so object-graph traversal follows direct links
// instead of name lookups. Called once, after a snapshot registered all
// types.
func (e *ReadStateEngine) WireTypeStatesToSchemas() {
	for _, ts := range e.ordered {
		ts.wire(e)
	}
}

// AfterInitialization signals completion of a snapshot load.
func (e *ReadStateEngine) AfterInitialization() {
	for _, ts := range e.ordered {
		ts.afterInitialization()
	}
}

func (e *ReadStateEngine) MemoryRecycler() *MemoryRecycler { return e.recycler }

func (e *ReadStateEngine) TypeStates() []TypeReadState {
	return append([]TypeReadState(nil), e.ordered...)
}

func (e *ReadStateEngine) GetTypeState(typeName string) TypeReadState {
	return e.typeStates[typeName]
}

func (e *ReadStateEngine) CurrentRandomizedTag() Tag       { return e.currentTag }
func (e *ReadStateEngine) SetCurrentRandomizedTag(tag Tag) { e.currentTag = tag }

func (e *ReadStateEngine) HeaderTags() map[string]string { return e.headerTags }

func (e *ReadStateEngine) SetHeaderTags(tags map[string]string) {
	e.headerTags = tags
}

func (e *ReadStateEngine) HeaderTag(key string) string { return e.headerTags[key] }

func (e *ReadStateEngine) IsListeningForAllPopulatedOrdinals() bool {
	return e.listenToAllPopulatedOrdinals
}
