package coro

// ChooseOp distinguishes a send clause from a receive clause.
type ChooseOp int

const (
	ChooseSend ChooseOp = iota
	ChooseRecv
)

// ChooseClause is one arm of a Choose call: an operation against a specific
// channel using buf as the transfer buffer (the value to send, or the
// destination for a receive).
type ChooseClause struct {
	Op      ChooseOp
	Channel *Channel
	Buf     []byte
}

// Choose evaluates clauses per spec.md §4.F: clauses are scanned in array
// order and the first immediately satisfiable one wins; if none are ready
// and deadline is ImmediateDeadline, it fails fast with ErrTimeout;
// otherwise the calling task parks on every clause at once and the first to
// be satisfied — by a counterparty arrival, the channel entering done/close,
// a timeout, or cancellation — wins atomically, with every other clause
// left exactly as it was (no partial transfer, no side effect). Ties among
// clauses ready at invocation time are broken by array index: the first
// listed wins.
func Choose(t *Task, clauses []ChooseClause, deadline Deadline) (winningClause int, err error) {
	if err := t.checkCanceled(); err != nil {
		return -1, err
	}
	for _, cl := range clauses {
		if err := cl.Channel.validateLen(cl.Buf); err != nil {
			return -1, err
		}
	}

	if idx, ok, terr := scanImmediate(clauses); ok {
		clauses[idx].Channel.recordChooseWin(idx)
		return idx, terr
	}

	if deadline == ImmediateDeadline {
		return -1, ErrTimeout
	}

	state := newRendezvousState()
	for i, cl := range clauses {
		w := &chanWaiter{buf: cl.Buf, clauseIndex: i, state: state}
		c := cl.Channel
		c.mu.Lock()
		if c.isDone || c.closed {
			terminal := ErrClosedOrderly
			if c.closed {
				terminal = ErrCanceled
			}
			c.mu.Unlock()
			if state.trySettle() {
				discardAll(clauses, state)
				c.recordChooseWin(i)
				return i, terminal
			}
			continue
		}
		switch cl.Op {
		case ChooseSend:
			if ok, _ := c.trySendLocked(cl.Buf); ok {
				c.mu.Unlock()
				if state.trySettle() {
					discardAll(clauses, state)
					c.recordChooseWin(i)
					return i, nil
				}
				res := <-state.result
				discardAll(clauses, state)
				recordChooseResult(clauses, res)
				return res.clauseIndex, res.err
			}
			c.senders = append(c.senders, w)
		case ChooseRecv:
			if ok, _ := c.tryRecvLocked(cl.Buf); ok {
				c.mu.Unlock()
				if state.trySettle() {
					discardAll(clauses, state)
					c.recordChooseWin(i)
					return i, nil
				}
				res := <-state.result
				discardAll(clauses, state)
				recordChooseResult(clauses, res)
				return res.clauseIndex, res.err
			}
			c.receivers = append(c.receivers, w)
		}
		c.mu.Unlock()
	}

	res := waitRendezvousResult(t, state, deadline)
	discardAll(clauses, state)
	recordChooseResult(clauses, res)
	return res.clauseIndex, res.err
}

// recordChooseResult records the winning clause's choose-win counter; a
// no-op for a timeout/cancellation that settled with no winning clause
// (clauseIndex -1, see waitRendezvousResult).
func recordChooseResult(clauses []ChooseClause, res chooseResult) {
	if res.clauseIndex < 0 || res.clauseIndex >= len(clauses) {
		return
	}
	clauses[res.clauseIndex].Channel.recordChooseWin(res.clauseIndex)
}

// scanImmediate implements step 1 of the choose algorithm: without parking
// anything, look for a clause satisfiable right now.
func scanImmediate(clauses []ChooseClause) (idx int, ok bool, err error) {
	for i, cl := range clauses {
		c := cl.Channel
		c.mu.Lock()
		if c.isDone || c.closed {
			terminal := ErrClosedOrderly
			if c.closed {
				terminal = ErrCanceled
			}
			c.mu.Unlock()
			return i, true, terminal
		}
		switch cl.Op {
		case ChooseSend:
			if done, _ := c.trySendLocked(cl.Buf); done {
				c.mu.Unlock()
				return i, true, nil
			}
		case ChooseRecv:
			if done, _ := c.tryRecvLocked(cl.Buf); done {
				c.mu.Unlock()
				return i, true, nil
			}
		}
		c.mu.Unlock()
	}
	return 0, false, nil
}

func discardAll(clauses []ChooseClause, state *rendezvousState) {
	for _, cl := range clauses {
		cl.Channel.discardState(state)
	}
}
