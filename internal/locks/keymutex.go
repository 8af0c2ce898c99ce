package locks

import (
	"hash/fnv"
	"sync"
)

// KeyMutex serializes work per string key by hashing keys onto a fixed set
// of mutex shards. Two different keys may share a shard; that costs some
// contention but never correctness.
type KeyMutex struct {
	shards []sync.Mutex
}

func NewKeyMutex(shards int) *KeyMutex {
	if shards <= 0 {
		shards = 64
	}
	return &KeyMutex{shards: make([]sync.Mutex, shards)}
}

func (m *KeyMutex) Lock(key string) {
	m.shards[m.index(key)].Lock()
}

func (m *KeyMutex) Unlock(key string) {
	m.shards[m.index(key)].Unlock()
}

func (m *KeyMutex) index(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(m.shards)))
}
