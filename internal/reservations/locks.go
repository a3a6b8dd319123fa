package reservations

import (
	"sort"
	"sync"
)

// EntityLocks serializes commit-path work per item/resource. Callers pass the
// full set of entity keys a reservation touches; locks are acquired in sorted
// key order so two reservations over overlapping entity sets can never
// deadlock each other.
type EntityLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEntityLocks builds an empty lock table.
func NewEntityLocks() *EntityLocks {
	return &EntityLocks{locks: make(map[string]*sync.Mutex)}
}

// Acquire locks every key and returns a release function. Duplicate keys are
// collapsed; release unlocks in reverse acquisition order.
func (l *EntityLocks) Acquire(keys []string) (release func()) {
	ordered := dedupeSorted(keys)

	acquired := make([]*sync.Mutex, 0, len(ordered))
	for _, key := range ordered {
		acquired = append(acquired, l.lockFor(key))
	}
	for _, mu := range acquired {
		mu.Lock()
	}

	return func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			acquired[i].Unlock()
		}
	}
}

func (l *EntityLocks) lockFor(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	mu, ok := l.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		l.locks[key] = mu
	}
	return mu
}

func dedupeSorted(keys []string) []string {
	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sort.Strings(sorted)

	out := sorted[:0]
	var last string
	for i, key := range sorted {
		if i > 0 && key == last {
			continue
		}
		out = append(out, key)
		last = key
	}
	return out
}
