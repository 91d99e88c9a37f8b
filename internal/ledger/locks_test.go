package ledger

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSortedUnique(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, sortedUnique([]string{"c", "a", "", "b", "a"}))
	assert.Empty(t, sortedUnique(nil))
}

func TestLockTable_ReleasesEntries(t *testing.T) {
	lt := newLockTable()
	unlock := lt.lock([]string{"b", "a", "b"})
	assert.Equal(t, 2, lt.size())
	unlock()
	assert.Zero(t, lt.size())
}

func TestLockTable_OverlappingSetsSerialize(t *testing.T) {
	lt := newLockTable()
	unlock := lt.lock([]string{"x", "y"})

	acquired := make(chan struct{})
	go func() {
		release := lt.lock([]string{"y", "z"})
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("overlapping set acquired while held")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("overlapping set never acquired")
	}
}

func TestLockTable_NoDeadlock(t *testing.T) {
	lt := newLockTable()
	counter := map[string]int{}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids := []string{"a", "b", "c"}
			if i%2 == 1 {
				ids = []string{"c", "b", "a"}
			}
			unlock := lt.lock(ids)
			defer unlock()
			for _, id := range ids {
				counter[id]++
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, map[string]int{"a": 50, "b": 50, "c": 50}, counter)
	assert.Zero(t, lt.size())
}
