package marl

import (
	"errors"
	"fmt"
	"sync"

	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// ErrRefPrecision is returned when a ModelRef cannot be
// stored exactly in a creator's numeric type.
var ErrRefPrecision = errors.New("model reference not exactly representable")

// A ModelRef is an opaque handle for a Model, suitable for
// storage in a batch column.
//
// The zero ModelRef means "no model".
type ModelRef int64

// Column encodes the reference as a one-component batch
// column, for use under an agent's ModelColumn.
//
// References are stored in the creator's numeric type, so
// a 32-bit creator only holds references up to 2^24
// exactly.
// Larger references give ErrRefPrecision.
func (r ModelRef) Column(c anyvec.Creator) (anyvec.Vector, error) {
	v := anyvec.Make(c, []float64{float64(r)})
	if c.Float64Slice(v.Data())[0] != float64(r) {
		return nil, essentials.AddCtx(fmt.Sprintf("model reference %d", r), ErrRefPrecision)
	}
	return v, nil
}

// InvalidReferenceError is returned when a ModelRef is zero
// or does not refer to a live model.
type InvalidReferenceError struct {
	Ref ModelRef

	// Agent is the agent index the reference was read
	// for, or -1 if unknown.
	Agent int
}

func (i *InvalidReferenceError) Error() string {
	if i.Ref == 0 {
		if i.Agent >= 0 {
			return fmt.Sprintf("agent %d: zero model reference", i.Agent)
		}
		return "zero model reference"
	}
	if i.Agent >= 0 {
		return fmt.Sprintf("agent %d: unresolvable model reference %d", i.Agent, i.Ref)
	}
	return fmt.Sprintf("unresolvable model reference %d", i.Ref)
}

// A ModelRegistry maps ModelRefs to live models.
//
// The registry does not own its models.
// Whoever registers a model should release it once the
// model is disposed.
//
// A ModelRegistry is safe to share between Goroutines.
type ModelRegistry struct {
	lock   sync.RWMutex
	last   ModelRef
	models map[ModelRef]Model
}

// NewModelRegistry creates an empty registry.
func NewModelRegistry() *ModelRegistry {
	return &ModelRegistry{models: map[ModelRef]Model{}}
}

// Register adds a model and returns its non-zero handle.
//
// Handles are issued in increasing order, starting at 1.
// See ModelRef.Column for how large handles are encoded.
//
// Registering the same model twice yields two handles.
func (m *ModelRegistry) Register(model Model) ModelRef {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.last++
	m.models[m.last] = model
	return m.last
}

// Release forgets a handle.
// Releasing an unknown handle does nothing.
func (m *ModelRegistry) Release(ref ModelRef) {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.models, ref)
}

// Resolve looks up the model for a handle.
func (m *ModelRegistry) Resolve(ref ModelRef) (Model, error) {
	if ref == 0 {
		return nil, &InvalidReferenceError{Ref: ref, Agent: -1}
	}
	m.lock.RLock()
	defer m.lock.RUnlock()
	if model, ok := m.models[ref]; ok {
		return model, nil
	}
	return nil, &InvalidReferenceError{Ref: ref, Agent: -1}
}

// Len returns the number of live handles.
func (m *ModelRegistry) Len() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return len(m.models)
}
