package persistence

import (
	"sync"
)

// keyedMutex provides per-task mutual exclusion. Each task id gets its own
// mutex, so writes for different tasks never wait on each other while two
// writes for the same task are serialized.
type keyedMutex struct {
	mu    sync.Mutex             // Guards the locks map itself
	locks map[string]*sync.Mutex // Per-task mutexes
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key, creating it on first access.
func (k *keyedMutex) Lock(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	// Acquire outside the map lock to avoid contention
	l.Lock()
}

// Unlock releases the mutex for key.
func (k *keyedMutex) Unlock(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	k.mu.Unlock()

	if ok {
		l.Unlock()
	}
}
