package ingestion

import "sync"

// keyedMutex hands out one mutex per key and forgets keys nobody holds or waits for.
type keyedMutex struct {
	mutex   sync.Mutex
	entries map[string]*keyedMutexEntry
}

type keyedMutexEntry struct {
	mutex   sync.Mutex
	holders int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[string]*keyedMutexEntry)}
}

// Lock blocks until key is free and returns the matching unlock function.
func (keyed *keyedMutex) Lock(key string) func() {
	keyed.mutex.Lock()
	entry, exists := keyed.entries[key]
	if !exists {
		entry = &keyedMutexEntry{}
		keyed.entries[key] = entry
	}
	entry.holders++
	keyed.mutex.Unlock()

	entry.mutex.Lock()
	return func() {
		entry.mutex.Unlock()
		keyed.mutex.Lock()
		entry.holders--
		if entry.holders == 0 {
			delete(keyed.entries, key)
		}
		keyed.mutex.Unlock()
	}
}
