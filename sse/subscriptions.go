package sse

import "sync"

// subscriptions maps session ids to the event types they asked for. An
// absent session key means no filter was ever installed: untyped records are
// still delivered, typed ones are not.
type subscriptions struct {
	mu sync.RWMutex
	m  map[string]map[string]struct{}
}

func newSubscriptions() *subscriptions {
	return &subscriptions{m: make(map[string]map[string]struct{})}
}

func (s *subscriptions) add(sessionID, eventType string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.m[sessionID]
	if !ok {
		set = make(map[string]struct{})
		s.m[sessionID] = set
	}
	set[eventType] = struct{}{}
}

// remove deletes eventType and drops the whole session entry once its set
// empties, so the map never leaks empty sets.
func (s *subscriptions) remove(sessionID, eventType string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.m[sessionID]
	if !ok {
		return
	}
	delete(set, eventType)
	if len(set) == 0 {
		delete(s.m, sessionID)
	}
}

func (s *subscriptions) contains(sessionID, eventType string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.m[sessionID][eventType]
	return ok
}

func (s *subscriptions) registered(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.m[sessionID]
	return ok
}

func (s *subscriptions) drop(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, sessionID)
}
