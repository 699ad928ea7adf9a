// Package syncmap provides a typed map that is safe for concurrent use.
package syncmap

import "sync"

// Map is an implementation of a map that is safe for concurrent usage.
type Map[K comparable, V any] struct {
	m  map[K]V
	mu sync.RWMutex
}

func New[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{m: make(map[K]V)}
}

func (s *Map[K, V]) Load(key K) (value V, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok = s.m[key]
	return
}

func (s *Map[K, V]) Store(key K, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
}

// Swap stores value under key and returns the previous value, if any.
func (s *Map[K, V]) Swap(key K, value V) (previous V, loaded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous, loaded = s.m[key]
	s.m[key] = value
	return
}

func (s *Map[K, V]) Delete(key K) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
}

// LoadAndDelete deletes the value for key, returning it if present.
func (s *Map[K, V]) LoadAndDelete(key K) (value V, loaded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, loaded = s.m[key]
	if loaded {
		delete(s.m, key)
	}
	return
}

func (s *Map[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// Range calls f for each entry. f must not mutate the map.
func (s *Map[K, V]) Range(f func(key K, value V) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k, v := range s.m {
		if !f(k, v) {
			return
		}
	}
}
