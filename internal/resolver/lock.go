package resolver

import (
	"hash/fnv"
	"sync"
)

const renameShardCount = 16

// keyedMutex is a small set of per-parent-directory locks serializing
// rename operations (spec §4.7/§5), rather than one lock per directory.
type keyedMutex struct {
	shards [renameShardCount]sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{}
}

func (k *keyedMutex) indexFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % renameShardCount)
}

// lockPair locks the shards for keyA and keyB (which may collide),
// always in ascending index order to avoid deadlocking against a
// concurrent rename locking the same pair in the opposite order. Returns
// an unlock function the caller must defer.
func (k *keyedMutex) lockPair(keyA, keyB string) func() {
	a := k.indexFor(keyA)
	b := k.indexFor(keyB)

	if a == b {
		k.shards[a].Lock()
		return func() { k.shards[a].Unlock() }
	}
	first, second := a, b
	if second < first {
		first, second = second, first
	}
	k.shards[first].Lock()
	k.shards[second].Lock()
	return func() {
		k.shards[second].Unlock()
		k.shards[first].Unlock()
	}
}
