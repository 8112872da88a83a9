package library

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyncMap_LoadOrStore(t *testing.T) {
	sm := NewSyncMap[string, int]()

	v, loaded := sm.LoadOrStore("moby", 1)
	assert.False(t, loaded)
	assert.Equal(t, 1, v)

	v, loaded = sm.LoadOrStore("moby", 2)
	assert.True(t, loaded)
	assert.Equal(t, 1, v, "first value wins")

	got, ok := sm.Load("moby")
	assert.True(t, ok)
	assert.Equal(t, 1, got)

	sm.Delete("moby")
	_, ok = sm.Load("moby")
	assert.False(t, ok)
	assert.Equal(t, 0, sm.Len())
}

func TestSyncMap_ConcurrentLoadOrStore(t *testing.T) {
	sm := NewSyncMap[string, *sync.Mutex]()

	var wg sync.WaitGroup
	results := make([]*sync.Mutex, 50)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = sm.LoadOrStore("same", &sync.Mutex{})
		}()
	}
	wg.Wait()

	for _, m := range results {
		assert.Same(t, results[0], m)
	}
	assert.Equal(t, 1, sm.Len())
}
