package state

import (
	"context"
	"sync"
	"sync/atomic"
)

// keyedMutex serializes work per correspondent id.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*refLock
}

type refLock struct {
	ch   chan struct{}
	refs int
}

// heldKey marks ctx as already holding the lock for id.
type heldKey struct {
	km *keyedMutex
	id int64
}

// hold is the marker stored under heldKey. Unlock flips released, so a
// context that outlives its holder no longer counts as holding the lock.
type hold struct{ released atomic.Bool }

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[int64]*refLock)}
}

// lock acquires id unless ctx carries a live hold on it. The returned context
// carries the hold marker; the returned func releases the lock and invalidates
// the marker.
func (k *keyedMutex) lock(ctx context.Context, id int64) (context.Context, func(), error) {
	key := heldKey{km: k, id: id}
	if h, ok := ctx.Value(key).(*hold); ok && !h.released.Load() {
		return ctx, func() {}, nil
	}

	k.mu.Lock()
	l, ok := k.locks[id]
	if !ok {
		l = &refLock{ch: make(chan struct{}, 1)}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(id, l)
		return ctx, nil, ctx.Err()
	}
	h := &hold{}
	var once sync.Once
	unlock := func() {
		once.Do(func() {
			h.released.Store(true)
			<-l.ch
			k.release(id, l)
		})
	}
	return context.WithValue(ctx, key, h), unlock, nil
}

func (k *keyedMutex) release(id int64, l *refLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, id)
	}
}

// size returns the number of ids with holders or waiters.
func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
