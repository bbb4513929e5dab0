package room

import (
	"context"
	"sync"
	"time"
)

// roomLocks hands out one critical section per room ID. Unrelated rooms never
// contend; acquisition is bounded so a stuck room cannot back-pressure its
// callers forever.
type roomLocks struct {
	mu    sync.Mutex
	locks map[string]*roomLock
}

type roomLock struct {
	sem  chan struct{}
	refs int
}

func newRoomLocks() *roomLocks {
	return &roomLocks{locks: make(map[string]*roomLock)}
}

// acquire blocks until the per-room section is held, the timeout expires, or
// ctx is done. On success the returned release func must be called exactly
// once.
func (l *roomLocks) acquire(ctx context.Context, roomID string, timeout time.Duration) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[roomID]
	if !ok {
		lk = &roomLock{sem: make(chan struct{}, 1)}
		l.locks[roomID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case lk.sem <- struct{}{}:
		return func() {
			<-lk.sem
			l.put(roomID, lk)
		}, nil
	case <-t.C:
		l.put(roomID, lk)
		return nil, ErrDetectionTimeout
	case <-ctx.Done():
		l.put(roomID, lk)
		return nil, ctx.Err()
	}
}

func (l *roomLocks) put(roomID string, lk *roomLock) {
	l.mu.Lock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, roomID)
	}
	l.mu.Unlock()
}
