package reconciliation

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

// keyedMutex serializes sweeps per tenant. Two concurrent sweeps over the
// same tenant's ambiguous payments could otherwise double-allocate.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[snowflake.ID]*tenantLock
}

type tenantLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[snowflake.ID]*tenantLock{}}
}

func (k *keyedMutex) Lock(key snowflake.ID) func() {
	k.mu.Lock()
	lock, ok := k.locks[key]
	if !ok {
		lock = &tenantLock{}
		k.locks[key] = lock
	}
	lock.refs++
	k.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		k.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
