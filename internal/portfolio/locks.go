package portfolio

import "sync"

// userLocks serializes ledger writes per user. Each user's ledger is a
// single-writer resource: an interleaved replay against a half-updated
// history would corrupt derived state. Writes for different users proceed
// in parallel.
//
// Lock entries are kept for the life of the process; the map is bounded by
// the number of distinct users seen.
type userLocks struct {
	mu    sync.Mutex
	users map[string]*sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{users: make(map[string]*sync.Mutex)}
}

// Lock acquires the write lock for one user and returns its unlock func.
func (l *userLocks) Lock(userID string) func() {
	l.mu.Lock()
	m, ok := l.users[userID]
	if !ok {
		m = &sync.Mutex{}
		l.users[userID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
