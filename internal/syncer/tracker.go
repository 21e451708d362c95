package syncer

import (
	"errors"
	"sync"
)

// ErrStopped is returned by Sync after Stop.
var ErrStopped = errors.New("sync orchestrator stopped")

// tracker counts running cycles and their callers. Unlike a WaitGroup it
// allows add to race with wait, and refuses new work once closed.
type tracker struct {
	mu     sync.Mutex
	idle   *sync.Cond
	active int
	closed bool
}

func (t *tracker) cond() *sync.Cond {
	if t.idle == nil {
		t.idle = sync.NewCond(&t.mu)
	}
	return t.idle
}

// add registers one unit of work. It reports false after close.
func (t *tracker) add() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.active++
	return true
}

func (t *tracker) done() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active--
	if t.active == 0 {
		t.cond().Broadcast()
	}
}

func (t *tracker) wait() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.active > 0 {
		t.cond().Wait()
	}
}

func (t *tracker) close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.wait()
}
