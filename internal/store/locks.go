package store

import (
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mutator/internal/model"
)

// LockRegistry serializes mutations per object identity. A second mutation
// on the same identity fails fast instead of queueing, so callers always
// see either the pre-state or the post-state of a pipeline run, never an
// interleaving.
type LockRegistry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLockRegistry creates an empty registry.
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{locks: make(map[string]*sync.Mutex)}
}

// Acquire takes the mutation lock for objectID without blocking. On success
// the returned release function must be called exactly once. If another
// mutation holds the lock, Acquire returns ErrConcurrentMutation.
//
// Entries are never evicted; the map is bounded by the number of distinct
// objects this process has mutated.
func (r *LockRegistry) Acquire(objectID string) (release func(), err error) {
	r.mu.Lock()
	l, ok := r.locks[objectID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[objectID] = l
	}
	r.mu.Unlock()

	if !l.TryLock() {
		return nil, eris.Wrapf(model.ErrConcurrentMutation, "object %s", objectID)
	}
	return l.Unlock, nil
}
