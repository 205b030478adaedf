package syncutil

import "sync"

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// KeyedMutex hands out one mutex per key, so work against one key serializes
// while distinct keys proceed in parallel. Entries are reference counted and
// dropped once the last holder unlocks.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*lockEntry)}
}

func (k *KeyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	entry, exist := k.entries[key]
	if !exist {
		entry = &lockEntry{}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}
