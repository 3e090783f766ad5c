// Package query holds the process-wide search text.
package query

import "sync"

// Listener is notified with the new query after every change.
type Listener func(query string)

// Store is a read-mostly search query. Set is the only update path;
// listeners run synchronously on the caller's goroutine, in subscription
// order, after the lock is released.
type Store struct {
	mu        sync.RWMutex
	query     string
	nextID    int
	listeners map[int]Listener
	order     []int
}

// NewStore creates a store with an empty query.
func NewStore() *Store {
	return &Store{
		listeners: make(map[int]Listener),
	}
}

// Get returns the current query.
func (s *Store) Get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.query
}

// Set updates the query and notifies listeners. Setting the current value
// is a no-op and returns false.
func (s *Store) Set(q string) bool {
	s.mu.Lock()
	if q == s.query {
		s.mu.Unlock()
		return false
	}
	s.query = q
	listeners := make([]Listener, 0, len(s.order))
	for _, id := range s.order {
		listeners = append(listeners, s.listeners[id])
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(q)
	}
	return true
}

// Subscribe registers l and returns a function that removes it.
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.order = append(s.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.listeners, id)
			for i, v := range s.order {
				if v == id {
					s.order = append(s.order[:i], s.order[i+1:]...)
					break
				}
			}
		})
	}
}
