package locks

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyMutexSerializesSameKey(t *testing.T) {
	m := NewKeyMutex(8)

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Lock("order-1")
			counter++
			m.Unlock("order-1")
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
}

func TestKeyMutexDefaultShards(t *testing.T) {
	m := NewKeyMutex(0)
	m.Lock("a")
	m.Unlock("a")
	assert.Len(t, m.shards, 64)
}
