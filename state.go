package mqttmux

import "sync"

// State is a typed, concurrency-safe context shared by a client and its
// callbacks. A client creates it on construction and clears it on Disconnect.
type State struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewState creates an empty State.
func NewState() *State {
	return &State{values: make(map[string]any)}
}

// Set stores value under key.
func (s *State) Set(key string, value any) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
}

// Get returns the value stored under key.
func (s *State) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	return v, ok
}

// Delete removes key.
func (s *State) Delete(key string) {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
}

// Len returns the number of stored keys.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Clear removes every key.
func (s *State) Clear() {
	s.mu.Lock()
	clear(s.values)
	s.mu.Unlock()
}

// StateValue returns the value under key asserted to T. It reports false
// when the key is missing, the State is nil, or the value has another type.
func StateValue[T any](s *State, key string) (T, bool) {
	var zero T
	if s == nil {
		return zero, false
	}

	v, ok := s.Get(key)
	if !ok {
		return zero, false
	}

	typed, ok := v.(T)
	return typed, ok
}
