package supervisor

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"stream-orchestrator/internal/orchestrator"
)

// DefaultShards is the number of lock stripes in the entry store.
const DefaultShards = 32

type shard struct {
	mu      sync.RWMutex
	entries map[orchestrator.StreamID]*entry
}

// store is a striped map of stream id to entry. Each stripe has its own lock
// so streams that hash apart never contend.
//
// Lock order: entry.mu may be held while taking a shard lock, never the
// other way round.
type store struct {
	shards []*shard
}

func newStore(n int) *store {
	if n <= 0 {
		n = DefaultShards
	}
	s := &store{shards: make([]*shard, n)}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[orchestrator.StreamID]*entry)}
	}
	return s
}

func (s *store) shardFor(id orchestrator.StreamID) *shard {
	return s.shards[xxhash.Sum64String(string(id))%uint64(len(s.shards))]
}

func (s *store) get(id orchestrator.StreamID) (*entry, bool) {
	sh := s.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	e, ok := sh.entries[id]
	return e, ok
}

// getOrCreate returns the entry for id, calling create at most once per
// missing id even when many goroutines race on the same id.
func (s *store) getOrCreate(id orchestrator.StreamID, create func() (*entry, error)) (*entry, bool, error) {
	if e, ok := s.get(id); ok {
		return e, false, nil
	}

	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok := sh.entries[id]; ok {
		return e, false, nil
	}
	e, err := create()
	if err != nil {
		return nil, false, err
	}
	sh.entries[id] = e
	return e, true, nil
}

// remove deletes id only while it still maps to e, so a stale remover cannot
// drop a newer entry created under the same id.
func (s *store) remove(id orchestrator.StreamID, e *entry) bool {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if cur, ok := sh.entries[id]; ok && cur == e {
		delete(sh.entries, id)
		return true
	}
	return false
}

// entries returns a point-in-time copy of all entries.
func (s *store) entries() []*entry {
	var out []*entry
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, e := range sh.entries {
			out = append(out, e)
		}
		sh.mu.RUnlock()
	}
	return out
}

// drain empties the store and returns what it held.
func (s *store) drain() []*entry {
	var out []*entry
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, e := range sh.entries {
			out = append(out, e)
			delete(sh.entries, id)
		}
		sh.mu.Unlock()
	}
	return out
}

func (s *store) len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}
