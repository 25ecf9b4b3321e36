package sync

import stdsync "sync"

// deckLocks serializes the load, change and save of each deck. Entries are
// dropped once no caller holds or waits for them.
type deckLocks struct {
	mu    stdsync.Mutex
	locks map[string]*deckLock
}

type deckLock struct {
	mu   stdsync.Mutex
	refs int
}

func newDeckLocks() *deckLocks {
	return &deckLocks{locks: make(map[string]*deckLock)}
}

// lock blocks until the deck is free and returns the matching unlock.
func (l *deckLocks) lock(name string) func() {
	l.mu.Lock()
	dl, ok := l.locks[name]
	if !ok {
		dl = &deckLock{}
		l.locks[name] = dl
	}
	dl.refs++
	l.mu.Unlock()

	dl.mu.Lock()
	return func() {
		dl.mu.Unlock()
		l.mu.Lock()
		dl.refs--
		if dl.refs == 0 {
			delete(l.locks, name)
		}
		l.mu.Unlock()
	}
}

func (l *deckLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
