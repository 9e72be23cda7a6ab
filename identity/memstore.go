package identity

import (
	"context"
	"sync"
)

// MemStore is an in-memory Store used by tests and by local runs without a
// database. It applies the same single-match rule for reverse lookups as the
// Postgres implementation.
type MemStore struct {
	mu    sync.RWMutex
	links map[string]Link // key: sourcePlatform + "\x00" + sourceUserID
}

func NewMemStore(links ...Link) *MemStore {
	s := &MemStore{links: make(map[string]Link)}
	for _, l := range links {
		s.Put(l)
	}
	return s
}

// Put inserts or replaces a link. Test/setup helper; the relay itself never writes.
func (s *MemStore) Put(l Link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[l.SourcePlatform+"\x00"+l.SourceUserID] = l
}

func (s *MemStore) Resolve(_ context.Context, platform, userID string) (Link, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.links[platform+"\x00"+userID]
	return l, ok, nil
}

func (s *MemStore) ReverseResolve(_ context.Context, platform, userID string) (Link, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var match Link
	var n int
	for _, l := range s.links {
		if l.TargetPlatform == platform && l.TargetUserID == userID {
			match = l
			n++
		}
	}
	if n != 1 {
		return Link{}, false, nil
	}
	return match, true, nil
}
