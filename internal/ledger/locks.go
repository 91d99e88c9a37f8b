package ledger

import (
	"sort"
	"sync"
)

// lockTable hands out one mutex per account ID. Callers lock a whole set at
// once; sets are acquired in sorted order so overlapping postings cannot
// deadlock.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*keyLock)}
}

// lock acquires every id and returns a function releasing them.
func (t *lockTable) lock(ids []string) (unlock func()) {
	keys := sortedUnique(ids)

	held := make([]*keyLock, len(keys))
	t.mu.Lock()
	for i, k := range keys {
		l, ok := t.locks[k]
		if !ok {
			l = &keyLock{}
			t.locks[k] = l
		}
		l.refs++
		held[i] = l
	}
	t.mu.Unlock()

	for _, l := range held {
		l.mu.Lock()
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
		}
		t.mu.Lock()
		for i, k := range keys {
			held[i].refs--
			if held[i].refs == 0 {
				delete(t.locks, k)
			}
		}
		t.mu.Unlock()
	}
}

// size returns the number of live lock entries.
func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}

func sortedUnique(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
