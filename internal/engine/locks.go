package engine

import "sync"

// symbolLocks hands out one mutex per symbol. Entries are dropped once no
// caller holds or waits on them.
type symbolLocks struct {
	mu    sync.Mutex
	locks map[string]*symbolLock
}

type symbolLock struct {
	mu   sync.Mutex
	refs int
}

func newSymbolLocks() *symbolLocks {
	return &symbolLocks{locks: make(map[string]*symbolLock)}
}

// lock blocks until symbol is free and returns its release func.
func (l *symbolLocks) lock(symbol string) func() {
	l.mu.Lock()
	sl, ok := l.locks[symbol]
	if !ok {
		sl = &symbolLock{}
		l.locks[symbol] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.mu.Lock()
	return func() {
		sl.mu.Unlock()
		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.locks, symbol)
		}
		l.mu.Unlock()
	}
}

func (l *symbolLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
