package sync

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShardedMutex_LockUnlock(t *testing.T) {
	m := NewShardedMutex()

	m.Lock("loan-1")
	m.Unlock("loan-1")

	// Empty key defaults to shard 0.
	m.Lock("")
	m.Unlock("")
}

func TestShardedMutex_SameKeySerializes(t *testing.T) {
	m := NewShardedMutex()
	counter := 0
	var wg sync.WaitGroup

	for n := 0; n < 100; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Lock("same-loan")
			defer m.Unlock("same-loan")
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
}

func TestShardedMutex_DifferentKeysDoNotDeadlock(t *testing.T) {
	m := NewShardedMutex()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			m.Lock(key)
			defer m.Unlock(key)
		}("member" + string(rune('A'+i%26)))
	}
	wg.Wait()
}
