package relevance

import "sync"

// InjectionSet is a fixed-capacity ordered set of injected lesson keys.
// Past capacity, the oldest key is evicted. Cleared wholesale on a
// context-compaction event.
type InjectionSet struct {
	mu      sync.Mutex
	cap     int
	ring    []string
	head    int
	members map[string]bool
}

// NewInjectionSet creates a set bounded at capacity (minimum 1).
func NewInjectionSet(capacity int) *InjectionSet {
	if capacity < 1 {
		capacity = 1
	}
	return &InjectionSet{
		cap:     capacity,
		ring:    make([]string, capacity),
		members: make(map[string]bool),
	}
}

// Seen reports membership without mutating the set.
func (s *InjectionSet) Seen(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members[key]
}

// Add records a key, evicting the oldest entry when full.
// Returns false if the key was already present.
func (s *InjectionSet) Add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.members[key] {
		return false
	}
	if old := s.ring[s.head]; old != "" {
		delete(s.members, old)
	}
	s.ring[s.head] = key
	s.head = (s.head + 1) % s.cap
	s.members[key] = true
	return true
}

// Len reports current membership count.
func (s *InjectionSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

// Clear empties the set.
func (s *InjectionSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring = make([]string, s.cap)
	s.head = 0
	s.members = make(map[string]bool)
}
