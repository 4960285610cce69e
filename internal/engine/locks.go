package engine

import (
	"sync"
)

// entityLocks serializes work per entity: the drain loop and the resolver
// may run concurrently for different entities but never for the same one.
type entityLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newEntityLocks() *entityLocks {
	return &entityLocks{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for one entity and returns the unlock func.
func (l *entityLocks) lock(entityType, entityID string) func() {
	key := entityType + "/" + entityID

	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
