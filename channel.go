package coro

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// chooseResult is delivered to a parked waiter's rendezvousState once some
// active party (another Send/Recv call, or the scanning phase of a choose)
// completes the rendezvous on its behalf.
type chooseResult struct {
	clauseIndex int
	err         error
}

// rendezvousState is the atomically-settled outcome shared by every waiter
// registered for one logical operation. A plain Send or Recv creates a
// state shared by exactly one waiter; a Choose call creates one state shared
// by every one of its clauses, so that winning any single clause is
// indivisible from the perspective of the other clauses — exactly the
// "choose" tie-breaking contract in spec.md §4.F.
type rendezvousState struct {
	settled atomic.Bool
	result  chan chooseResult
}

func newRendezvousState() *rendezvousState {
	return &rendezvousState{result: make(chan chooseResult, 1)}
}

func (r *rendezvousState) trySettle() bool { return r.settled.CompareAndSwap(false, true) }

// chanWaiter is one parked endpoint: either a sender or a receiver, queued
// on a single Channel, carrying a pointer back to the (possibly shared)
// rendezvousState that arbitrates who actually completes it.
type chanWaiter struct {
	buf         []byte
	clauseIndex int
	state       *rendezvousState
}

// Channel is the rendezvous (unbuffered) typed channel from spec.md §4.F.
// ElemSize fixes the legal send/receive length for its lifetime; 0 is a
// valid element size, making the channel pure synchronization.
type Channel struct {
	handle   Handle
	elemSize int
	metrics  *Metrics

	mu        sync.Mutex
	senders   []*chanWaiter
	receivers []*chanWaiter
	closed    bool
	isDone    bool
}

// NewChannel constructs a Channel with the given fixed element size and
// registers it in table, returning both the object and its handle. metrics
// may be nil, in which case Send/Recv/Choose skip recording the §4.L
// channel-ops and choose-win collectors entirely.
func NewChannel(table *HandleTable, elemSize int, metrics *Metrics) (*Channel, Handle) {
	c := &Channel{elemSize: elemSize, metrics: metrics}
	c.handle = table.Make(c)
	return c, c.handle
}

func (c *Channel) Handle() Handle { return c.handle }

// Close implements Closer: it wakes every parked endpoint with ErrCanceled
// and marks the channel permanently closed. Per spec.md §4.F this is
// distinct from Done: Close is the destructive hclose path, Done is the
// cooperative half-close.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	senders, receivers := c.senders, c.receivers
	c.senders, c.receivers = nil, nil
	c.mu.Unlock()

	for _, w := range senders {
		if w.state.trySettle() {
			w.state.result <- chooseResult{w.clauseIndex, ErrCanceled}
		}
	}
	for _, w := range receivers {
		if w.state.trySettle() {
			w.state.result <- chooseResult{w.clauseIndex, ErrCanceled}
		}
	}
	return nil
}

// Done transitions the channel to its terminal half-close state: every
// future and currently-parked receive fails with ErrClosedOrderly (EPIPE),
// as does every future and currently-parked send.
func (c *Channel) Done() error {
	c.mu.Lock()
	if c.isDone {
		c.mu.Unlock()
		return nil
	}
	c.isDone = true
	senders, receivers := c.senders, c.receivers
	c.senders, c.receivers = nil, nil
	c.mu.Unlock()

	for _, w := range senders {
		if w.state.trySettle() {
			w.state.result <- chooseResult{w.clauseIndex, ErrClosedOrderly}
		}
	}
	for _, w := range receivers {
		if w.state.trySettle() {
			w.state.result <- chooseResult{w.clauseIndex, ErrClosedOrderly}
		}
	}
	return nil
}

func (c *Channel) validateLen(buf []byte) error {
	if len(buf) != c.elemSize {
		return ErrInvalid
	}
	return nil
}

// tryRecvLocked pops and settles the first valid (not-already-settled-
// elsewhere) parked sender, copying its buffer into dst. Must be called
// with c.mu held. Returns ok=false if no live sender was found.
func (c *Channel) tryRecvLocked(dst []byte) (ok bool, clauseIndex int) {
	for len(c.senders) > 0 {
		w := c.senders[0]
		c.senders = c.senders[1:]
		if !w.state.trySettle() {
			continue // lost a race with a timeout/cancel/other choose clause
		}
		copy(dst, w.buf)
		w.state.result <- chooseResult{w.clauseIndex, nil}
		return true, w.clauseIndex
	}
	return false, 0
}

func (c *Channel) trySendLocked(src []byte) (ok bool, clauseIndex int) {
	for len(c.receivers) > 0 {
		w := c.receivers[0]
		c.receivers = c.receivers[1:]
		if !w.state.trySettle() {
			continue
		}
		copy(w.buf, src)
		w.state.result <- chooseResult{w.clauseIndex, nil}
		return true, w.clauseIndex
	}
	return false, 0
}

// discardState removes every queued waiter referencing state, best-effort
// cleanup for the losing clauses of a choose call once it has settled.
func (c *Channel) discardState(state *rendezvousState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.senders = filterWaiters(c.senders, state)
	c.receivers = filterWaiters(c.receivers, state)
}

func filterWaiters(list []*chanWaiter, state *rendezvousState) []*chanWaiter {
	out := list[:0]
	for _, w := range list {
		if w.state != state {
			out = append(out, w)
		}
	}
	return out
}

// recordOp increments the op={send,recv}/result={ok,timeout,canceled,closed}
// counter for this channel's outcome, a no-op when metrics is nil.
func (c *Channel) recordOp(op string, err error) {
	if c.metrics == nil {
		return
	}
	result := "ok"
	switch err {
	case ErrTimeout:
		result = "timeout"
	case ErrCanceled:
		result = "canceled"
	case ErrClosedOrderly:
		result = "closed"
	}
	c.metrics.ChannelOps.WithLabelValues(op, result).Inc()
}

// Send completes iff a receiver is parked (or arrives before deadline);
// otherwise it parks the caller. Value is copied directly into the
// receiver's buffer, never staged in the channel itself.
func (c *Channel) Send(t *Task, buf []byte, deadline Deadline) (err error) {
	if err := c.validateLen(buf); err != nil {
		return err
	}
	if err := t.checkCanceled(); err != nil {
		return err
	}
	defer func() { c.recordOp("send", err) }()

	c.mu.Lock()
	if c.isDone || c.closed {
		terminal := ErrClosedOrderly
		if c.closed {
			terminal = ErrCanceled
		}
		c.mu.Unlock()
		return terminal
	}
	if ok, _ := c.trySendLocked(buf); ok {
		c.mu.Unlock()
		return nil
	}
	if deadline == ImmediateDeadline {
		c.mu.Unlock()
		return ErrTimeout
	}
	state := newRendezvousState()
	w := &chanWaiter{buf: buf, state: state}
	c.senders = append(c.senders, w)
	c.mu.Unlock()

	err = waitRendezvous(t, state, deadline)
	c.discardState(state)
	return err
}

// Recv completes iff a sender is parked (or arrives before deadline).
func (c *Channel) Recv(t *Task, buf []byte, deadline Deadline) (err error) {
	if err := c.validateLen(buf); err != nil {
		return err
	}
	if err := t.checkCanceled(); err != nil {
		return err
	}
	defer func() { c.recordOp("recv", err) }()

	c.mu.Lock()
	if ok, _ := c.tryRecvLocked(buf); ok {
		c.mu.Unlock()
		return nil
	}
	if c.isDone || c.closed {
		terminal := ErrClosedOrderly
		if c.closed {
			terminal = ErrCanceled
		}
		c.mu.Unlock()
		return terminal
	}
	if deadline == ImmediateDeadline {
		c.mu.Unlock()
		return ErrTimeout
	}
	state := newRendezvousState()
	w := &chanWaiter{buf: buf, state: state}
	c.receivers = append(c.receivers, w)
	c.mu.Unlock()

	err = waitRendezvous(t, state, deadline)
	c.discardState(state)
	return err
}

// recordChooseWin increments the choose-win histogram for clauseIndex, a
// no-op when metrics is nil.
func (c *Channel) recordChooseWin(clauseIndex int) {
	if c.metrics == nil {
		return
	}
	c.metrics.ChooseWins.WithLabelValues(strconv.Itoa(clauseIndex)).Inc()
}

// waitRendezvous blocks the calling task until state settles, the deadline
// elapses, or the task is canceled — the shared tail end of Send and Recv.
func waitRendezvous(t *Task, state *rendezvousState, deadline Deadline) error {
	return waitRendezvousResult(t, state, deadline).err
}

// waitRendezvousResult is waitRendezvous generalized to also report which
// clause won, for Choose (see choose.go), where the winner need not be the
// clause that parked the call.
func waitRendezvousResult(t *Task, state *rendezvousState, deadline Deadline) chooseResult {
	var timerC <-chan time.Time
	if deadline != NoDeadline {
		timer := time.NewTimer(deadlineDuration(deadline))
		defer timer.Stop()
		timerC = timer.C
	}
	select {
	case res := <-state.result:
		return res
	case <-timerC:
		if state.trySettle() {
			return chooseResult{clauseIndex: -1, err: ErrTimeout}
		}
		return <-state.result
	case <-t.cancelCh:
		if state.trySettle() {
			return chooseResult{clauseIndex: -1, err: ErrCanceled}
		}
		return <-state.result
	}
}
