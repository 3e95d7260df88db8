package deploy

import "sync"

// LockManager hands out per-target deployment locks so at most one run is in
// flight per target while unrelated targets deploy concurrently.
//
// The outer mutex only protects the map; each target owns its own mutex for
// the actual deployment lock.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLockManager creates a new lock manager.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]*sync.Mutex)}
}

// TryLock attempts to acquire the deployment lock for a target without
// blocking. Returns false if a deployment is already in progress.
func (lm *LockManager) TryLock(targetName string) bool {
	lm.mu.Lock()
	lock, exists := lm.locks[targetName]
	if !exists {
		lock = &sync.Mutex{}
		lm.locks[targetName] = lock
	}
	lm.mu.Unlock()

	return lock.TryLock()
}

// Unlock releases the deployment lock for a target. Safe to call for a
// target that was never locked.
func (lm *LockManager) Unlock(targetName string) {
	lm.mu.Lock()
	lock := lm.locks[targetName]
	lm.mu.Unlock()

	if lock != nil {
		lock.Unlock()
	}
}
