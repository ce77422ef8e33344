// Package selection is the local, per-client record of selected entities.
// It is never persisted or broadcast.
package selection

import "sync"

// Set keeps selected ids in selection order.
type Set struct {
	mu  sync.RWMutex
	ids []string
}

// New returns an empty selection.
func New() *Set {
	return &Set{}
}

// Replace makes ids the whole selection.
func (s *Set) Replace(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = dedupe(ids)
}

// Add appends ids that are not selected yet.
func (s *Set) Add(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = dedupe(append(s.ids, ids...))
}

// Toggle flips one id (shift-click).
func (s *Set) Toggle(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		s.ids = append(s.ids[:i], s.ids[i+1:]...)
		return
	}
	s.ids = append(s.ids, id)
}

// Remove drops ids from the selection.
func (s *Set) Remove(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := s.ids[:0]
	for _, id := range s.ids {
		if _, ok := drop[id]; !ok {
			kept = append(kept, id)
		}
	}
	s.ids = kept
}

// Clear empties the selection.
func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = nil
}

// Prune drops ids for which exists returns false, e.g. after a remote delete.
func (s *Set) Prune(exists func(id string) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.ids[:0]
	for _, id := range s.ids {
		if exists(id) {
			kept = append(kept, id)
		}
	}
	s.ids = kept
}

// IDs returns a copy of the selected ids.
func (s *Set) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// Contains reports whether id is selected.
func (s *Set) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexLocked(id) >= 0
}

// Len returns the selection size.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

func (s *Set) indexLocked(id string) int {
	for i, v := range s.ids {
		if v == id {
			return i
		}
	}
	return -1
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
