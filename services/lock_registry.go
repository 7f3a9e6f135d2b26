package services

import "sync"

// LockRegistry hands out one mutex per member so session sweeps and
// creations for the same account never interleave.
type LockRegistry struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewLockRegistry creates an empty registry. Inject a single registry into
// every service that serializes per-member work; never share via a global.
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{locks: make(map[int64]*sync.Mutex)}
}

// Get returns the mutex for a member, creating it on first use.
// Entries are never evicted.
func (r *LockRegistry) Get(memberID int64) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.locks[memberID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[memberID] = lock
	}
	return lock
}
