package ingest

import "sync"

// lockTable serialises writers per document id, closing the race between
// concurrent update/delete of the same document: the delete-then-upsert
// window runs single-writer per document within this process.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*docLock
}

type docLock struct {
	sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*docLock)}
}

// acquire locks the entry for id and returns the release function. Entries
// are reference-counted and removed once the last holder releases.
func (t *lockTable) acquire(id string) func() {
	t.mu.Lock()
	l, ok := t.locks[id]
	if !ok {
		l = &docLock{}
		t.locks[id] = l
	}
	l.refs++
	t.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, id)
		}
		t.mu.Unlock()
	}
}
