package flatstate

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/drpcorg/flatstate/flatstate_errors"
	"github.com/drpcorg/flatstate/utils"
)

// WriteStateEngine is the producer's handle to a dataset. It cycles between
// two phases: adding records and writing the state. Every transition fans
// out across the type states in parallel and blocks until all of them
// finish; the first failure aborts the call.
type WriteStateEngine struct {
	hasher HashCodeFinder
	log    utils.Logger

	mu          sync.Mutex
	writeStates map[string]*TypeWriteState
	ordered     []*TypeWriteState

	headerTags *xsync.MapOf[string, string]

	restoredStates       []string
	preparedForNextCycle bool
	previousTag          Tag
	nextTag              Tag

	metrics *Metrics
}

type WriteOptions struct {
	// Hasher lists the types with non-default identity hashing for the
	// reserved header tag; nil means DefaultHashCodeFinder (xxhash of the
	// encoded record). Record deduplication does not call its HashCode.
	Hasher  HashCodeFinder
	Logger  utils.Logger
	Metrics *Metrics
}

func NewWriteStateEngine() *WriteStateEngine {
	return NewWriteStateEngineWithOptions(WriteOptions{})
}

func NewWriteStateEngineWithOptions(opts WriteOptions) *WriteStateEngine {
	if opts.Hasher == nil {
		opts.Hasher = DefaultHashCodeFinder()
	}
	if opts.Logger == nil {
		opts.Logger = utils.NewDefaultLogger(slog.LevelInfo)
	}
	return &WriteStateEngine{
		hasher:               opts.Hasher,
		log:                  opts.Logger,
		writeStates:          make(map[string]*TypeWriteState),
		headerTags:           xsync.NewMapOf[string, string](),
		preparedForNextCycle: true,
		nextTag:              randomTag(),
		metrics:              opts.Metrics,
	}
}

// AddTypeState registers a type. One registration per type, before the
// first cycle.
func (e *WriteStateEngine) AddTypeState(ts *TypeWriteState) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	name := ts.Schema().Name()
	if _, ok := e.writeStates[name]; ok {
		return fmt.Errorf("%w: %s", flatstate_errors.ErrTypeDuplicated, name)
	}
	ts.bind(e.log)
	e.writeStates[name] = ts
	e.ordered = append(e.ordered, ts)
	return nil
}

// Add encodes the record and submits it to the named type state, returning
// the assigned ordinal. Safe for concurrent callers during the
// adding-records phase.
func (e *WriteStateEngine) Add(typeName string, rec Record) (int, error) {
	ts := e.GetTypeState(typeName)
	if ts == nil {
		return EmptyOrdinal, fmt.Errorf("%w: %s", flatstate_errors.ErrTypeUnknown, typeName)
	}
	buf, err := rec.AppendTo(nil)
	if err != nil {
		return EmptyOrdinal, err
	}
	if e.metrics != nil {
		e.metrics.recordAdded(typeName)
	}
	return ts.Add(buf), nil
}

// PrepareForWrite transitions from adding records to writing. A no-op when
// already writing.
func (e *WriteStateEngine) PrepareForWrite() error {
	if !e.preparedForNextCycle {
		return nil
	}
	e.addHashCodeHeaderTag()

	tasks := make([]func() error, 0, len(e.writeStates))
	for _, ts := range e.ordered {
		ts := ts
		tasks = append(tasks, func() error {
			ts.PrepareForWrite()
			return nil
		})
	}
	if err := utils.FanOut(tasks...); err != nil {
		return err
	}
	e.preparedForNextCycle = false
	return nil
}

// PrepareForNextCycle transitions from writing to the next cycle's adding
// phase, advancing the randomized tags. A no-op when already adding.
func (e *WriteStateEngine) PrepareForNextCycle() error {
	if e.preparedForNextCycle {
		return nil
	}
	e.previousTag = e.nextTag
	e.nextTag = randomTag()

	tasks := make([]func() error, 0, len(e.writeStates))
	for _, ts := range e.ordered {
		ts := ts
		tasks = append(tasks, func() error {
			ts.PrepareForNextCycle()
			return nil
		})
	}
	if err := utils.FanOut(tasks...); err != nil {
		return err
	}
	e.preparedForNextCycle = true
	e.restoredStates = nil
	if e.metrics != nil {
		e.metrics.cycleCompleted()
	}
	return nil
}

// AddAllObjectsFromPreviousCycle re-adds last cycle's records exactly as
// they were, for an idempotent cycle.
func (e *WriteStateEngine) AddAllObjectsFromPreviousCycle() {
	for _, ts := range e.ordered {
		ts.AddAllObjectsFromPreviousCycle()
	}
}

// ResetToLastPrepareForNextCycle abandons a partially constructed state,
// returning every type to the population it had at the last cycle boundary.
// Callable from either phase. The next tag is re-rolled so nothing can chain
// onto the aborted version.
func (e *WriteStateEngine) ResetToLastPrepareForNextCycle() error {
	tasks := make([]func() error, 0, len(e.writeStates))
	for _, ts := range e.ordered {
		ts := ts
		tasks = append(tasks, func() error {
			ts.ResetToLastPrepareForNextCycle()
			return nil
		})
	}
	if err := utils.FanOut(tasks...); err != nil {
		return err
	}
	e.nextTag = randomTag()
	e.preparedForNextCycle = true
	return nil
}

// RestoreFrom imports a prior published state from a read engine so the
// producer can continue the delta chain after a restart. The read engine
// must be listening for all populated ordinals.
func (e *WriteStateEngine) RestoreFrom(re *ReadStateEngine) error {
	if !re.IsListeningForAllPopulatedOrdinals() {
		return flatstate_errors.ErrRestoreRejected
	}

	e.restoredStates = nil
	tasks := make([]func() error, 0, len(e.writeStates))
	for _, rs := range re.TypeStates() {
		name := rs.Schema().Name()
		e.restoredStates = append(e.restoredStates, name)
		ws := e.GetTypeState(name)
		if ws == nil {
			continue
		}
		rs, ws := rs, ws
		tasks = append(tasks, func() error {
			e.log.Debug("restoring type", "type", name)
			ws.RestoreFrom(rs)
			return nil
		})
	}

	e.previousTag = re.CurrentRandomizedTag()
	e.nextTag = randomTag()

	return utils.FanOut(tasks...)
}

func (e *WriteStateEngine) HasChangedSinceLastCycle() bool {
	for _, ts := range e.ordered {
		if ts.HasChangedSinceLastCycle() {
			return true
		}
	}
	return false
}

func (e *WriteStateEngine) IsRestored() bool {
	return e.restoredStates != nil
}

// CanProduceDelta reports whether the next written delta would chain
// correctly: always true unless a restore left some type unbound.
func (e *WriteStateEngine) CanProduceDelta() bool {
	if !e.IsRestored() {
		return true
	}
	for _, ts := range e.ordered {
		for _, name := range e.restoredStates {
			if ts.Schema().Name() == name && !ts.IsRestored() {
				return false
			}
		}
	}
	return true
}

// GetOrderedTypeStates returns the type states in registration order, the
// order their sub-blobs are written.
func (e *WriteStateEngine) GetOrderedTypeStates() []*TypeWriteState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*TypeWriteState(nil), e.ordered...)
}

func (e *WriteStateEngine) GetTypeState(typeName string) *TypeWriteState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.writeStates[typeName]
}

func (e *WriteStateEngine) AddHeaderTag(key, value string) {
	e.headerTags.Store(key, value)
}

func (e *WriteStateEngine) HeaderTag(key string) string {
	v, _ := e.headerTags.Load(key)
	return v
}

func (e *WriteStateEngine) HeaderTags() map[string]string {
	tags := make(map[string]string)
	e.headerTags.Range(func(k, v string) bool {
		tags[k] = v
		return true
	})
	return tags
}

func (e *WriteStateEngine) HashCodeFinder() HashCodeFinder { return e.hasher }

func (e *WriteStateEngine) PreviousStateRandomizedTag() Tag { return e.previousTag }
func (e *WriteStateEngine) NextStateRandomizedTag() Tag     { return e.nextTag }

// OverridePreviousStateRandomizedTag forces the origin tag of the next
// written state. Unsafe: breaks the delta chain guarantees, meant for tests
// and operational recovery.
func (e *WriteStateEngine) OverridePreviousStateRandomizedTag(tag Tag) {
	e.previousTag = tag
}

// OverrideNextStateRandomizedTag forces the destination tag of the next
// written state. Unsafe, see OverridePreviousStateRandomizedTag.
func (e *WriteStateEngine) OverrideNextStateRandomizedTag(tag Tag) {
	e.nextTag = tag
}

func (e *WriteStateEngine) addHashCodeHeaderTag() {
	names := e.hasher.TypesWithDefinedHashCodes()
	if len(names) == 0 {
		return
	}
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	e.AddHeaderTag(HashCodesHeaderKey, strings.Join(sorted, ","))
}
