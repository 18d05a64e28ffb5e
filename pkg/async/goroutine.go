package async

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// SafeGo executes a function in a goroutine with:
// - Context cancellation support
// - Panic recovery
// - Timeout enforcement
// - Error logging
//
// Use this instead of bare `go func()` for fire-and-forget work such as audit
// writes. When the parent is a request context, detach it first with
// context.WithoutCancel, otherwise the task is cancelled as soon as the
// response is written.
//
// Example:
//
//	SafeGo(context.WithoutCancel(r.Context()), 5*time.Second, "audit write", func(ctx context.Context) error {
//	    return auditLogger.Log(ctx, event)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go run(parentCtx, timeout, taskName, fn)
}

func run(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(parentCtx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in background task",
				"task", taskName,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()

	if err := fn(ctx); err != nil {
		slog.Warn("background task failed", "task", taskName, "error", err)
	}
}

// Tracker runs SafeGo-style tasks and lets callers wait for the ones still in
// flight. The server drains it on shutdown and tests use it to observe
// best-effort writes without sleeping. A zero Tracker runs any number of
// tasks at once; NewTracker bounds them.
type Tracker struct {
	wg    sync.WaitGroup
	slots chan struct{}
}

// NewTracker returns a tracker that runs at most limit tasks concurrently.
// A limit of zero or less means unbounded.
func NewTracker(limit int) *Tracker {
	t := &Tracker{}
	if limit > 0 {
		t.slots = make(chan struct{}, limit)
	}
	return t
}

// Go starts fn in a tracked goroutine with the same guarantees as SafeGo.
// On a bounded tracker it blocks until a slot is free.
func (t *Tracker) Go(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	if t.slots != nil {
		t.slots <- struct{}{}
	}
	t.start(parentCtx, timeout, taskName, fn)
}

// TryGo is Go without blocking: when every slot is taken it starts nothing
// and returns false.
func (t *Tracker) TryGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) bool {
	if t.slots != nil {
		select {
		case t.slots <- struct{}{}:
		default:
			return false
		}
	}
	t.start(parentCtx, timeout, taskName, fn)
	return true
}

// InFlight returns the number of tasks holding a slot. Always zero on an
// unbounded tracker.
func (t *Tracker) InFlight() int {
	return len(t.slots)
}

func (t *Tracker) start(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if t.slots != nil {
			defer func() { <-t.slots }()
		}
		run(parentCtx, timeout, taskName, fn)
	}()
}

// Wait blocks until every tracked task returned or ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
