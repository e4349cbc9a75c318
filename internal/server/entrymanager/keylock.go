package entrymanager

import (
	"hash/fnv"
	"sync"
)

// keyLock serializes operations on the same entry uuid while letting
// unrelated uuids proceed in parallel. Keys are hashed onto a fixed set of
// stripes, so two distinct keys may occasionally share a mutex; that only
// costs throughput, never correctness.
type keyLock struct {
	stripes []sync.Mutex
}

func newKeyLock(n int) *keyLock {
	if n <= 0 {
		n = 64
	}
	return &keyLock{stripes: make([]sync.Mutex, n)}
}

// lock acquires the stripe for the key and returns the unlock func.
func (l *keyLock) lock(key string) func() {
	h := fnv.New32a()
	h.Write([]byte(key))
	m := &l.stripes[h.Sum32()%uint32(len(l.stripes))]
	m.Lock()
	return m.Unlock
}
