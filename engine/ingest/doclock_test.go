package ingest

import (
	"sync"
	"testing"
)

func TestLockTable_SerialisesSameID(t *testing.T) {
	lt := newLockTable()
	var counter int

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := lt.acquire("doc-1")
			defer unlock()
			counter++ // safe only if the lock serialises us
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("expected 50 increments, got %d", counter)
	}
}

func TestLockTable_CleansUpEntries(t *testing.T) {
	lt := newLockTable()
	unlock := lt.acquire("doc-1")
	unlock()

	lt.mu.Lock()
	n := len(lt.locks)
	lt.mu.Unlock()
	if n != 0 {
		t.Errorf("expected lock table to be empty, got %d entries", n)
	}
}

func TestLockTable_IndependentIDs(t *testing.T) {
	lt := newLockTable()
	u1 := lt.acquire("doc-1")
	defer u1()

	done := make(chan struct{})
	go func() {
		u2 := lt.acquire("doc-2")
		u2()
		close(done)
	}()
	<-done // must not deadlock while doc-1 is held
}
