package core

import (
	"sync"
	"time"
)

// tickSink delivers timer callbacks to the goroutine owning the state,
// so handlers always run on the session loop.
type tickSink func(fire func())

// loopTimer is a restartable one-shot timer whose handler runs on the
// session loop. Start and Refresh arm it, Cancel disarms it; a fire
// that raced with Cancel or Refresh is discarded by generation check,
// so no stale tick ever reaches the handler.
type loopTimer struct {
	mu   sync.Mutex
	gen  uint64
	t    *time.Timer
	sink tickSink
	fn   func()
}

func newLoopTimer(sink tickSink, fn func()) *loopTimer {
	return &loopTimer{sink: sink, fn: fn}
}

// Start arms the timer, replacing any previous schedule.
func (lt *loopTimer) Start(d time.Duration) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	lt.gen++
	gen := lt.gen
	if lt.t != nil {
		lt.t.Stop()
	}
	lt.t = time.AfterFunc(d, func() {
		lt.deliver(gen)
	})
}

// Refresh is Start under the name callers use when extending a window.
func (lt *loopTimer) Refresh(d time.Duration) {
	lt.Start(d)
}

// Cancel disarms the timer. Idempotent; a concurrent fire becomes a no-op.
func (lt *loopTimer) Cancel() {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	lt.gen++
	if lt.t != nil {
		lt.t.Stop()
		lt.t = nil
	}
}

// Armed reports whether a tick is still scheduled.
func (lt *loopTimer) Armed() bool {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.t != nil
}

func (lt *loopTimer) deliver(gen uint64) {
	lt.sink(func() {
		lt.mu.Lock()
		live := gen == lt.gen
		if live {
			lt.t = nil
		}
		lt.mu.Unlock()
		if live {
			lt.fn()
		}
	})
}
