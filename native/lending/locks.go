package lending

import (
	"sort"
	"sync"
)

// keyedMutex hands out one mutex per key so mutations against the same user
// (or market) are serialized while unrelated keys proceed concurrently.
// Mutexes are never reclaimed; the key space is bounded by the number of
// distinct users and markets seen by the process.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for key and returns its release function.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// lockAll acquires mutexes for every key in sorted order so concurrent
// callers holding overlapping key sets cannot deadlock. Duplicate keys are
// locked once.
func (k *keyedMutex) lockAll(keys ...string) func() {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	releases := make([]func(), 0, len(sorted))
	var prev string
	for i, key := range sorted {
		if i > 0 && key == prev {
			continue
		}
		releases = append(releases, k.lock(key))
		prev = key
	}
	return func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
}
