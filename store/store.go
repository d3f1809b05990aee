// Package store implements the content store: a mapping from a published
// file's content hash to the set of peers known to host it. It plays the
// role of storage.c/storage.h in original_source, reimplemented as a Go
// map guarded by a mutex rather than the C hashmap library.
package store

import (
	"sync"

	"github.com/razor7877/kademliatransfer/nodeid"
	"github.com/razor7877/kademliatransfer/peer"
)

// DefaultCapacity is the default maximum provider-set size (K).
const DefaultCapacity = 4

// Store is the reactor-owned content store. It is guarded by an RWMutex and
// is safe for concurrent use: the reactor's per-connection handlers and its
// command loop both write to it.
type Store struct {
	mu       sync.RWMutex
	capacity int
	entries  map[string]*providerSet
}

type providerSet struct {
	order []peer.Peer // insertion order, earliest-seen first
}

// New constructs an empty content store capped at the given per-key
// provider capacity (K).
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		entries:  make(map[string]*providerSet),
	}
}

// Put records providers for key, creating the entry if absent or merging
// into it otherwise. The merge is a union by peer id, capped at capacity;
// once full, excess incoming providers are dropped and the earliest-seen
// providers are retained, matching spec.md §4.3.
func (s *Store) Put(key nodeid.ID, providers []peer.Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key.String()
	set, ok := s.entries[k]
	if !ok {
		if len(providers) == 0 {
			return
		}
		set = &providerSet{}
		s.entries[k] = set
	}

	for _, p := range providers {
		if len(set.order) >= s.capacity {
			break
		}
		if containsPeer(set.order, p) {
			continue
		}
		set.order = append(set.order, p)
	}
}

// Get returns a copy of the provider set for key, and whether it exists.
func (s *Store) Get(key nodeid.ID) ([]peer.Peer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set, ok := s.entries[key.String()]
	if !ok {
		return nil, false
	}
	out := make([]peer.Peer, len(set.order))
	copy(out, set.order)
	return out, true
}

// Has reports whether key has any recorded entry at all (even an empty
// one is never created — Put always inserts at least the callers'
// providers, so Has(k) == presence of a non-nil set).
func (s *Store) Has(key nodeid.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[key.String()]
	return ok
}

func containsPeer(peers []peer.Peer, p peer.Peer) bool {
	for _, existing := range peers {
		if existing.Equal(p) {
			return true
		}
	}
	return false
}
