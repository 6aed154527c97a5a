package chain

import (
	"container/list"
	"sync"
)

// ProcessedSet is a bounded, insertion-ordered set of transaction hashes.
// When capacity is exceeded the oldest entries are evicted first.
type ProcessedSet struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	members  map[string]*list.Element
}

// NewProcessedSet creates a set holding at most capacity hashes.
func NewProcessedSet(capacity int) *ProcessedSet {
	if capacity <= 0 {
		capacity = DefaultMaxProcessed
	}
	return &ProcessedSet{
		capacity: capacity,
		order:    list.New(),
		members:  make(map[string]*list.Element, capacity),
	}
}

// Contains reports whether txHash has been recorded and not yet evicted.
func (s *ProcessedSet) Contains(txHash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.members[txHash]
	return ok
}

// Add records txHash and prunes the oldest entries past capacity.
// Adding an existing hash does not change its position.
func (s *ProcessedSet) Add(txHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[txHash]; ok {
		return
	}
	s.members[txHash] = s.order.PushBack(txHash)
	for s.order.Len() > s.capacity {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		delete(s.members, oldest.Value.(string))
	}
}

// Len returns the number of hashes currently held.
func (s *ProcessedSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}
