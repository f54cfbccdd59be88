package service

import (
	"context"
	"sync"
	"time"
)

// lockTable hands out one binary semaphore per table id. A command holds the
// semaphore for its whole transaction, so all commands against one table are
// serialized while different tables proceed in parallel.
type lockTable struct {
	mu    sync.Mutex
	locks map[uint64]chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[uint64]chan struct{})}
}

func (lt *lockTable) sem(id uint64) chan struct{} {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	s, ok := lt.locks[id]
	if !ok {
		s = make(chan struct{}, 1)
		lt.locks[id] = s
	}
	return s
}

// acquire waits at most `wait` for the table lock; ErrTableBusy on timeout so
// contention can never deadlock a caller.
func (lt *lockTable) acquire(ctx context.Context, id uint64, wait time.Duration) error {
	s := lt.sem(id)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case s <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrTableBusy
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (lt *lockTable) release(id uint64) {
	<-lt.sem(id)
}
