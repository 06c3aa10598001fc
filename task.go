package coro

import (
	"sync"
	"sync/atomic"
	"time"
)

// Task is this runtime's Go-native stand-in for a libdill stack-switched
// coroutine: a real goroutine plus a control block. There is no manual
// context switch or guard page to manage — the Go runtime already grows and
// schedules goroutine stacks — so Task only needs to carry what the spec's
// task control block adds on top: a done-channel closed exactly once on
// termination, a cancellation flag every blocking primitive consults, and
// the single active wait-cancellation hook installed by whichever blocking
// call currently has this task parked.
type Task struct {
	sched    *Scheduler
	handle   Handle
	name     string
	bundle   *Bundle
	trace    traceID
	done     chan struct{}
	doneOnce sync.Once
	canceled atomic.Bool
	cancelCh chan struct{}
	err      error

	// cancelHook is touched only inside closures executed by the run-loop
	// goroutine (see ingress.go): the task goroutine itself never reads or
	// writes it directly, so no lock is needed despite being set from one
	// blocking call's closure and invoked from another goroutine's request.
	cancelHook func()
}

// Handle returns the handle this task is registered under.
func (t *Task) Handle() Handle { return t.handle }

// Canceled reports whether this task's handle has been closed. Blocking
// primitives check this before parking; it does not by itself unwind fn.
func (t *Task) Canceled() bool { return t.canceled.Load() }

// CancelSignal returns a channel closed the instant this task's handle is
// closed, for code outside this package (adapters, transports)
// that needs to select on cancellation directly rather than going through a
// scheduler blocking primitive.
func (t *Task) CancelSignal() <-chan struct{} { return t.cancelCh }

// DoneSignal returns a channel closed when the task terminates.
func (t *Task) DoneSignal() <-chan struct{} { return t.done }

// checkCanceled is the fast-path guard every blocking primitive starts with.
func (t *Task) checkCanceled() error {
	if t.canceled.Load() {
		return ErrCanceled
	}
	return nil
}

// Close implements Closer for the handle table: closing a task's handle sets
// its cancellation flag and, if it is currently parked in a blocking call,
// wakes it with ErrCanceled. Close never blocks; it does not wait for the
// task to actually unwind (use Wait or DoneSignal for that).
func (t *Task) Close() error {
	if !t.canceled.CompareAndSwap(false, true) {
		return nil
	}
	close(t.cancelCh)
	t.sched.in.push(func() {
		if hook := t.cancelHook; hook != nil {
			t.cancelHook = nil
			hook()
		}
	})
	return nil
}

// Done implements Doner and only returns nil: it sends nothing and closes
// nothing. A Task's done-channel is a pure notification (no payload) that
// is closed only by the task's own termination.
func (t *Task) Done() error {
	return nil
}

// Wait blocks the calling goroutine until the task terminates or the
// deadline fires; cancellation of the caller does not interrupt it. It
// returns the task's termination error (nil on clean return).
func (t *Task) Wait(deadline Deadline) error {
	if deadline == ImmediateDeadline {
		select {
		case <-t.done:
			return t.err
		default:
			return ErrTimeout
		}
	}
	if deadline == NoDeadline {
		<-t.done
		return t.err
	}
	timer := time.NewTimer(deadlineDuration(deadline))
	defer timer.Stop()
	select {
	case <-t.done:
		return t.err
	case <-timer.C:
		return ErrTimeout
	}
}

func (t *Task) markDone(err error) {
	t.err = err
	t.doneOnce.Do(func() { close(t.done) })
}

// setCancelHook and clearCancelHook are called only from closures running on
// the run-loop goroutine (see the pattern in scheduler.go's Sleep/WaitFD).
func (t *Task) setCancelHook(hook func()) { t.cancelHook = hook }
func (t *Task) clearCancelHook()          { t.cancelHook = nil }
