package coro

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler is the single-threaded cooperative core from spec.md §4.D,
// realized as one dedicated run-loop goroutine that exclusively owns the
// timer set, the fd-readiness poller and each task's wait-cancellation hook.
// Every other goroutine — including every Task — only ever touches that state
// indirectly, by pushing a closure onto the ingress queue and waiting for a
// reply, so none of it needs a lock. The handle table and each Channel are
// not part of this: they carry their own mutexes and are called directly
// from any goroutine.
type Scheduler struct {
	handles *HandleTable
	timers  *timerSet
	poll    *poller
	in      *ingress
	cfg     *schedulerConfig

	fdMu      sync.Mutex // not taken anywhere: fdWaiters is only touched inside run-loop closures
	fdWaiters map[int]*fdWaitEntry

	quit    chan struct{}
	quitOne sync.Once
	stopped chan struct{}

	taskSeq    atomic.Uint64
	tasksAlive atomic.Int64
}

type fdWaitEntry struct {
	inHook, outHook func(IOEvents)
}

// NewScheduler constructs a Scheduler and starts its run-loop goroutine.
// Callers shut it down with Close, which stops the run-loop but does not
// cancel remaining tasks.
func NewScheduler(opts ...SchedulerOption) (*Scheduler, error) {
	cfg := resolveSchedulerOptions(opts)
	p, err := newPoller()
	if err != nil {
		return nil, err
	}
	s := &Scheduler{
		handles:   NewHandleTable(),
		timers:    &timerSet{},
		poll:      p,
		cfg:       cfg,
		fdWaiters: make(map[int]*fdWaitEntry),
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	s.in = newIngress(func() {
		if err := s.poll.wake(); err != nil && s.cfg.logger != nil {
			s.cfg.logger.Warning().Err(err).Log("wake poller")
		}
	})
	go s.runLoop()
	return s, nil
}

// Close stops the run-loop after one final drain and closes the poller. It
// does not itself cancel outstanding tasks; callers that want "shut down and
// cancel everything" should close a root Bundle first.
func (s *Scheduler) Close() error {
	s.quitOne.Do(func() { close(s.quit) })
	_ = s.poll.wake()
	<-s.stopped
	return s.poll.close()
}

func (s *Scheduler) runLoop() {
	defer close(s.stopped)
	for {
		s.in.drain(func(call func()) { call() })

		select {
		case <-s.quit:
			return
		default:
		}

		if s.cfg.metrics != nil {
			s.cfg.metrics.ReadyQueueDepth.Set(float64(s.in.len()))
			s.cfg.metrics.TimerSetSize.Set(float64(s.timers.Len()))
		}

		timeout := s.nextTimeout()
		waitStart := time.Now()
		if err := s.poll.wait(timeout); err != nil {
			if s.cfg.logger != nil {
				s.cfg.logger.Err().Err(err).Log("poll wait failed")
			}
		} else {
			if s.cfg.metrics != nil {
				s.cfg.metrics.PollWaitSeconds.Observe(time.Since(waitStart).Seconds())
			}
			for {
				fd, events, ok := s.poll.event()
				if !ok {
					break
				}
				s.dispatchFD(fd, events)
			}
		}
		s.timers.popDue(nowMillis())
	}
}

func (s *Scheduler) nextTimeout() int {
	d, ok := s.timers.min()
	if !ok {
		return -1
	}
	ms := int64(d) - nowMillis()
	if ms < 0 {
		ms = 0
	}
	if ms > math.MaxInt32 {
		ms = math.MaxInt32
	}
	return int(ms)
}

func (s *Scheduler) dispatchFD(fd int, events IOEvents) {
	entry, ok := s.fdWaiters[fd]
	if !ok {
		return
	}
	readable := events&(EventIn|EventErr|EventHup) != 0
	writable := events&(EventOut|EventErr|EventHup) != 0
	if readable && entry.inHook != nil {
		hook := entry.inHook
		entry.inHook = nil
		hook(events)
	}
	if writable && entry.outHook != nil {
		hook := entry.outHook
		entry.outHook = nil
		hook(events)
	}
	if entry.inHook == nil && entry.outHook == nil {
		delete(s.fdWaiters, fd)
		s.poll.ctl(fd, 0)
	}
}

func (s *Scheduler) desiredMask(fd int) IOEvents {
	entry, ok := s.fdWaiters[fd]
	if !ok {
		return 0
	}
	var m IOEvents
	if entry.inHook != nil {
		m |= EventIn
	}
	if entry.outHook != nil {
		m |= EventOut
	}
	return m
}

// Go spawns fn as a new Task, optionally owned by bundle (nil for a
// top-level task with no parent). The task's handle is registered before fn
// ever runs, so fn can immediately reference its own handle (e.g. to spawn
// children in its own sub-bundle).
func (s *Scheduler) Go(bundle *Bundle, name string, fn func(t *Task) error) *Task {
	t := &Task{
		sched:    s,
		name:     name,
		bundle:   bundle,
		done:     make(chan struct{}),
		cancelCh: make(chan struct{}),
		trace:    newTraceID(),
	}
	t.handle = s.handles.Make(t)
	if bundle != nil {
		bundle.add(t)
	}
	s.tasksAlive.Add(1)
	if s.cfg.metrics != nil {
		s.cfg.metrics.TasksAlive.Inc()
		s.cfg.metrics.TasksStarted.Inc()
	}
	go func() {
		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = Wrap(ErrProtocol, panicError{r})
				}
			}()
			err = fn(t)
		}()
		t.markDone(err)
		if bundle != nil {
			bundle.remove(t)
		}
		s.tasksAlive.Add(-1)
		if s.cfg.metrics != nil {
			s.cfg.metrics.TasksAlive.Dec()
		}
	}()
	return t
}

type panicError struct{ value any }

func (p panicError) Error() string { return "task panicked: " + toString(p.value) }

func toString(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "non-string panic value"
}

// Sleep parks the calling task until d elapses, it is canceled, or d is
// NoDeadline and cancellation is the only way to wake it.
func (s *Scheduler) Sleep(t *Task, d Deadline) error {
	if err := t.checkCanceled(); err != nil {
		return err
	}
	if d == ImmediateDeadline {
		return nil
	}
	reply := make(chan error, 1)
	s.in.push(func() {
		var entry *timerEntry
		wake := func(err error) {
			t.clearCancelHook()
			reply <- err
		}
		if d != NoDeadline {
			entry = s.timers.insert(d, wake)
		}
		t.setCancelHook(func() {
			if entry != nil {
				s.timers.remove(entry)
			}
			wake(ErrCanceled)
		})
	})
	return <-reply
}

// WaitFD parks the calling task until fd becomes ready for any bit in want,
// the deadline fires, or the task is canceled. It returns the readiness bits
// actually observed (a superset of want is possible, e.g. EventErr/EventHup
// alongside EventIn).
func (s *Scheduler) WaitFD(t *Task, fd int, want IOEvents, deadline Deadline) (IOEvents, error) {
	if err := t.checkCanceled(); err != nil {
		return 0, err
	}
	type result struct {
		events IOEvents
		err    error
	}
	reply := make(chan result, 1)
	s.in.push(func() {
		var entry *timerEntry
		entryPtr, ok := s.fdWaiters[fd]
		if !ok {
			entryPtr = &fdWaitEntry{}
			s.fdWaiters[fd] = entryPtr
		}

		finish := func(events IOEvents, err error) {
			t.clearCancelHook()
			if entry != nil {
				s.timers.remove(entry)
			}
			reply <- result{events, err}
		}

		hook := func(events IOEvents) { finish(events, nil) }
		if want&EventIn != 0 {
			entryPtr.inHook = hook
		}
		if want&EventOut != 0 {
			entryPtr.outHook = hook
		}
		s.poll.ctl(fd, s.desiredMask(fd))

		if deadline != NoDeadline {
			entry = s.timers.insert(deadline, func(err error) {
				if want&EventIn != 0 {
					entryPtr.inHook = nil
				}
				if want&EventOut != 0 {
					entryPtr.outHook = nil
				}
				if entryPtr.inHook == nil && entryPtr.outHook == nil {
					delete(s.fdWaiters, fd)
				}
				s.poll.ctl(fd, s.desiredMask(fd))
				finish(0, err)
			})
		}
		t.setCancelHook(func() {
			if want&EventIn != 0 {
				entryPtr.inHook = nil
			}
			if want&EventOut != 0 {
				entryPtr.outHook = nil
			}
			if entryPtr.inHook == nil && entryPtr.outHook == nil {
				delete(s.fdWaiters, fd)
			}
			s.poll.ctl(fd, s.desiredMask(fd))
			finish(0, ErrCanceled)
		})
	})
	r := <-reply
	return r.events, r.err
}

// Handles exposes the underlying handle table, for adapters and transports
// that need to register their own Closer/Doner objects.
func (s *Scheduler) Handles() *HandleTable { return s.handles }

// NewChannel constructs a rendezvous Channel registered in this scheduler's
// handle table, wired to the scheduler's configured Metrics (if any) so its
// Send/Recv/Choose outcomes feed the §4.L channel-ops and choose-win
// collectors automatically.
func (s *Scheduler) NewChannel(elemSize int) (*Channel, Handle) {
	return NewChannel(s.handles, elemSize, s.cfg.metrics)
}
