package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/apperrors"
)

// loanLocks serializes mutations of the same loan inside one process.
// Different loans never contend.
type loanLocks struct {
	mu    sync.Mutex
	slots map[uuid.UUID]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

func newLoanLocks() *loanLocks {
	return &loanLocks{slots: make(map[uuid.UUID]*lockSlot)}
}

// acquire blocks until the loan's lock is held, the context is done or the
// timeout passes. The returned func releases the lock.
func (l *loanLocks) acquire(ctx context.Context, id uuid.UUID, timeout time.Duration) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[id]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[id] = slot
	}
	slot.refs++
	l.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case slot.ch <- struct{}{}:
		return func() {
			<-slot.ch
			l.forget(id, slot)
		}, nil
	case <-ctx.Done():
		l.forget(id, slot)
		return nil, fmt.Errorf("waiting for loan %s: %w: %v", id, apperrors.ErrConcurrencyConflict, ctx.Err())
	case <-expired:
		l.forget(id, slot)
		return nil, fmt.Errorf("loan %s is busy: %w", id, apperrors.ErrConcurrencyConflict)
	}
}

func (l *loanLocks) forget(id uuid.UUID, slot *lockSlot) {
	l.mu.Lock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, id)
	}
	l.mu.Unlock()
}
