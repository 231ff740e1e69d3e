package engine

import (
	"context"
	"sync"
)

// userLocks hands out one exclusive slot per user id. Entries are created on
// demand and reference-counted so the table shrinks back as recomputations
// drain; an idle registry holds no per-user state at all.
type userLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	slot chan struct{}
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{entries: make(map[string]*lockEntry)}
}

// acquire blocks until the user's slot is free or ctx is done. On success the
// returned release function must be called exactly once.
func (l *userLocks) acquire(ctx context.Context, userID string) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[userID]
	if !ok {
		e = &lockEntry{slot: make(chan struct{}, 1)}
		l.entries[userID] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.slot <- struct{}{}:
		return func() {
			<-e.slot
			l.unref(userID, e)
		}, nil
	case <-ctx.Done():
		l.unref(userID, e)
		return nil, ctx.Err()
	}
}

func (l *userLocks) unref(userID string, e *lockEntry) {
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, userID)
	}
	l.mu.Unlock()
}

// size reports how many users currently hold or wait for a slot.
func (l *userLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
