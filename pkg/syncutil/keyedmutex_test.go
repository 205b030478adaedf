package syncutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeyedMutex_Serializes_Same_Key(t *testing.T) {
	req := require.New(t)
	km := NewKeyedMutex()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("room-a")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	req.Equal(100, counter)
}

func TestKeyedMutex_Distinct_Keys_Do_Not_Block(t *testing.T) {
	req := require.New(t)
	km := NewKeyedMutex()

	unlockA := km.Lock("room-a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := km.Lock("room-b")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		req.Fail("lock on a distinct key blocked")
	}
}

func TestKeyedMutex_Entries_Are_Reclaimed(t *testing.T) {
	req := require.New(t)
	km := NewKeyedMutex()

	unlock := km.Lock("room-a")
	unlock()

	km.mu.Lock()
	defer km.mu.Unlock()
	req.Empty(km.entries)
}
