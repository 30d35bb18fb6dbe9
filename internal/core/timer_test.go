package core

import (
	"testing"
	"time"
)

func TestLoopTimerArmedLifecycle(t *testing.T) {
	ticks := make(chan func(), 4)
	fired := make(chan struct{}, 4)
	lt := newLoopTimer(func(fire func()) { ticks <- fire }, func() { fired <- struct{}{} })

	if lt.Armed() {
		t.Fatal("new timer reports armed")
	}

	lt.Start(time.Hour)
	if !lt.Armed() {
		t.Fatal("started timer not armed")
	}
	lt.Cancel()
	if lt.Armed() {
		t.Fatal("cancelled timer still armed")
	}

	lt.Start(time.Millisecond)
	select {
	case fire := <-ticks:
		fire()
	case <-time.After(2 * time.Second):
		t.Fatal("tick never delivered")
	}
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}
	if lt.Armed() {
		t.Fatal("fired timer still armed")
	}
}

func TestLoopTimerCancelDiscardsQueuedTick(t *testing.T) {
	ticks := make(chan func(), 4)
	fired := make(chan struct{}, 4)
	lt := newLoopTimer(func(fire func()) { ticks <- fire }, func() { fired <- struct{}{} })

	lt.Start(time.Millisecond)
	var fire func()
	select {
	case fire = <-ticks:
	case <-time.After(2 * time.Second):
		t.Fatal("tick never delivered")
	}

	// Cancel lands between the underlying fire and the loop running
	// the tick; the queued tick must be a no-op.
	lt.Cancel()
	fire()
	select {
	case <-fired:
		t.Fatal("stale tick reached the handler")
	case <-time.After(50 * time.Millisecond):
	}
}
