package cache

import (
	"errors"
	"sort"
	"sync"

	"github.com/i474232898/weather-globe-cache/internal/grid"
	"github.com/i474232898/weather-globe-cache/internal/manifest"
)

var (
	// ErrNotRegistered is returned for operations on a layer that was never
	// registered (or was cleared).
	ErrNotRegistered = errors.New("layer not registered")

	// ErrInvalidIndex is returned when a request references a timestep index
	// outside the registered range.
	ErrInvalidIndex = errors.New("timestep index out of range")
)

// Status is the lifecycle state of one (layer, index) timestep.
type Status int

const (
	StatusEmpty Status = iota
	StatusLoading
	StatusLoaded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusEmpty:
		return "empty"
	case StatusLoading:
		return "loading"
	case StatusLoaded:
		return "loaded"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TimestampState holds the status of one timestep plus its decoded payload
// (one field per component) on success or the error on failure.
type TimestampState struct {
	Status  Status
	Payload []grid.Field
	Err     error
}

// Stats summarizes a layer's per-timestep states.
type Stats struct {
	Total   int `json:"total"`
	Loaded  int `json:"loaded"`
	Loading int `json:"loading"`
	Failed  int `json:"failed"`
	Empty   int `json:"empty"`
}

// layerStates is the per-layer arena: a fixed-size state slice indexed by
// timestep index, sized once at registration.
type layerStates struct {
	steps  []manifest.TimeStep
	states []TimestampState
}

// StateStore tracks per-layer, per-timestep download state. Safe for
// concurrent use.
type StateStore struct {
	mu     sync.RWMutex
	layers map[string]*layerStates
}

// NewStateStore creates an empty store.
func NewStateStore() *StateStore {
	return &StateStore{layers: make(map[string]*layerStates)}
}

// RegisterLayer (re)initializes the layer with the given timeline: all
// entries become empty. Registering an already-registered layer replaces its
// timestep list and resets all state.
func (s *StateStore) RegisterLayer(layerID string, steps []manifest.TimeStep) {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]manifest.TimeStep, len(steps))
	copy(copied, steps)

	s.layers[layerID] = &layerStates{
		steps:  copied,
		states: make([]TimestampState, len(copied)),
	}
}

// Unregister drops all state for the layer.
func (s *StateStore) Unregister(layerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.layers, layerID)
}

// Layers returns the sorted IDs of all registered layers.
func (s *StateStore) Layers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.layers))
	for id := range s.layers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Registered reports whether the layer currently has state.
func (s *StateStore) Registered(layerID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.layers[layerID]
	return ok
}

// Get returns the state for (layerID, index). Unregistered layers and
// out-of-range indices read as empty so callers do not have to special-case
// them.
func (s *StateStore) Get(layerID string, index int) TimestampState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	layer, ok := s.layers[layerID]
	if !ok || index < 0 || index >= len(layer.states) {
		return TimestampState{Status: StatusEmpty}
	}
	return layer.states[index]
}

// Set stores the state for (layerID, index). Writes to unregistered layers or
// out-of-range indices are dropped; the layer may have been cleared while a
// download was in flight.
func (s *StateStore) Set(layerID string, index int, state TimestampState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	layer, ok := s.layers[layerID]
	if !ok || index < 0 || index >= len(layer.states) {
		return
	}
	layer.states[index] = state
}

// SetIfStep stores the state for (layerID, index) only while the registered
// timestep still matches step, comparing and writing under one lock hold.
// Returns false when the layer was cleared or re-registered with a different
// timeline; in-flight downloads use this so their markers and results can
// never land in a replaced timeline's slot.
func (s *StateStore) SetIfStep(layerID string, index int, step manifest.TimeStep, state TimestampState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	layer, ok := s.layers[layerID]
	if !ok || index < 0 || index >= len(layer.steps) {
		return false
	}
	if !layer.steps[index].Equal(step) {
		return false
	}
	layer.states[index] = state
	return true
}

// Step returns the registered timestep at index.
func (s *StateStore) Step(layerID string, index int) (manifest.TimeStep, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	layer, ok := s.layers[layerID]
	if !ok || index < 0 || index >= len(layer.steps) {
		return manifest.TimeStep{}, false
	}
	return layer.steps[index], true
}

// Steps returns a copy of the layer's registered timeline.
func (s *StateStore) Steps(layerID string) []manifest.TimeStep {
	s.mu.RLock()
	defer s.mu.RUnlock()

	layer, ok := s.layers[layerID]
	if !ok {
		return nil
	}
	steps := make([]manifest.TimeStep, len(layer.steps))
	copy(steps, layer.steps)
	return steps
}

// TimestepCount returns the number of registered timesteps, 0 when the layer
// is unknown.
func (s *StateStore) TimestepCount(layerID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	layer, ok := s.layers[layerID]
	if !ok {
		return 0
	}
	return len(layer.steps)
}

// IsLoaded reports whether the timestep's data is available.
func (s *StateStore) IsLoaded(layerID string, index int) bool {
	return s.Get(layerID, index).Status == StatusLoaded
}

// IsLoading reports whether the timestep is currently being fetched.
func (s *StateStore) IsLoading(layerID string, index int) bool {
	return s.Get(layerID, index).Status == StatusLoading
}

// LoadedIndices returns the sorted indices whose data is available.
func (s *StateStore) LoadedIndices(layerID string) []int {
	return s.indicesWithStatus(layerID, StatusLoaded)
}

// FailedIndices returns the sorted indices whose last fetch failed.
func (s *StateStore) FailedIndices(layerID string) []int {
	return s.indicesWithStatus(layerID, StatusFailed)
}

// LoadingIndices returns the sorted indices currently being fetched. The full
// set is exposed; UI consumers that want a single representative index can
// take the first.
func (s *StateStore) LoadingIndices(layerID string) []int {
	return s.indicesWithStatus(layerID, StatusLoading)
}

func (s *StateStore) indicesWithStatus(layerID string, status Status) []int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	layer, ok := s.layers[layerID]
	if !ok {
		return nil
	}
	var indices []int
	for i := range layer.states {
		if layer.states[i].Status == status {
			indices = append(indices, i)
		}
	}
	return indices
}

// Stats returns per-status counts for the layer.
func (s *StateStore) Stats(layerID string) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	layer, ok := s.layers[layerID]
	if !ok {
		return Stats{}
	}

	st := Stats{Total: len(layer.states)}
	for i := range layer.states {
		switch layer.states[i].Status {
		case StatusLoaded:
			st.Loaded++
		case StatusLoading:
			st.Loading++
		case StatusFailed:
			st.Failed++
		default:
			st.Empty++
		}
	}
	return st
}
