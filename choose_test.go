package coro

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Test_Choose_ScansInOrderAndFirstReadyWins verifies that when multiple
// clauses are immediately satisfiable, Choose picks the first one in array
// order, per spec.md §4.F's tie-break rule.
func Test_Choose_ScansInOrderAndFirstReadyWins(t *testing.T) {
	sched := newTestScheduler(t)
	root := NewBundle(sched)

	chA, _ := sched.NewChannel(1)
	chB, _ := sched.NewChannel(1)

	// Park a sender on each channel so both clauses are ready when Choose runs.
	readyA := make(chan struct{})
	readyB := make(chan struct{})
	root.Go("senderA", func(tk *Task) error {
		close(readyA)
		return chA.Send(tk, []byte{0xA}, NoDeadline)
	})
	root.Go("senderB", func(tk *Task) error {
		close(readyB)
		return chB.Send(tk, []byte{0xB}, NoDeadline)
	})
	<-readyA
	<-readyB
	time.Sleep(20 * time.Millisecond) // let both senders actually park

	done := make(chan struct{})
	root.Go("chooser", func(tk *Task) error {
		defer close(done)
		buf := make([]byte, 1)
		idx, err := Choose(tk, []ChooseClause{
			{Op: ChooseRecv, Channel: chA, Buf: buf},
			{Op: ChooseRecv, Channel: chB, Buf: buf},
		}, NoDeadline)
		require.NoError(t, err)
		require.Equal(t, 0, idx)
		require.Equal(t, byte(0xA), buf[0])
		return nil
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("choose did not complete")
	}
}

// Test_Choose_LosingClausesLeaveNoSideEffect verifies that once one clause
// wins, the channel(s) backing the other clauses are left exactly as if
// Choose had never touched them: a later, independent Recv on the losing
// channel still needs its own counterparty.
func Test_Choose_LosingClausesLeaveNoSideEffect(t *testing.T) {
	sched := newTestScheduler(t)
	root := NewBundle(sched)

	chA, _ := sched.NewChannel(1)
	chB, _ := sched.NewChannel(1)

	readyA := make(chan struct{})
	root.Go("senderA", func(tk *Task) error {
		close(readyA)
		return chA.Send(tk, []byte{0xA}, NoDeadline)
	})
	<-readyA
	time.Sleep(20 * time.Millisecond)

	chooseDone := make(chan struct{})
	root.Go("chooser", func(tk *Task) error {
		defer close(chooseDone)
		buf := make([]byte, 1)
		idx, err := Choose(tk, []ChooseClause{
			{Op: ChooseRecv, Channel: chA, Buf: buf},
			{Op: ChooseRecv, Channel: chB, Buf: buf},
		}, NoDeadline)
		require.NoError(t, err)
		require.Equal(t, 0, idx)
		return nil
	})
	<-chooseDone

	// chB never had a counterparty; an immediate recv on it must still time out.
	root.Go("late-recv-b", func(tk *Task) error {
		err := chB.Recv(tk, make([]byte, 1), ImmediateDeadline)
		require.ErrorIs(t, err, ErrTimeout)
		return nil
	})
	time.Sleep(20 * time.Millisecond)
}

// Test_Choose_TimeoutSettlesEveryClause verifies a Choose call with no ready
// clause and a bounded deadline returns ErrTimeout and leaves no dangling
// waiters registered on either channel.
func Test_Choose_TimeoutSettlesEveryClause(t *testing.T) {
	sched := newTestScheduler(t)
	root := NewBundle(sched)

	chA, _ := sched.NewChannel(1)
	chB, _ := sched.NewChannel(1)

	done := make(chan struct{})
	root.Go("chooser", func(tk *Task) error {
		defer close(done)
		buf := make([]byte, 1)
		idx, err := Choose(tk, []ChooseClause{
			{Op: ChooseRecv, Channel: chA, Buf: buf},
			{Op: ChooseRecv, Channel: chB, Buf: buf},
		}, DeadlineAfter(30*time.Millisecond))
		require.ErrorIs(t, err, ErrTimeout)
		require.Equal(t, -1, idx)
		return nil
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("choose did not time out")
	}

	chA.mu.Lock()
	nA := len(chA.receivers)
	chA.mu.Unlock()
	chB.mu.Lock()
	nB := len(chB.receivers)
	chB.mu.Unlock()
	require.Zero(t, nA)
	require.Zero(t, nB)
}

// Test_Choose_ImmediateDeadlineNoReadyClauseFailsFast verifies the
// ImmediateDeadline fast-fail path for Choose mirrors Channel.Send/Recv's.
func Test_Choose_ImmediateDeadlineNoReadyClauseFailsFast(t *testing.T) {
	sched := newTestScheduler(t)
	ch, _ := sched.NewChannel(1)

	tk := &Task{cancelCh: make(chan struct{}), done: make(chan struct{})}
	idx, err := Choose(tk, []ChooseClause{
		{Op: ChooseRecv, Channel: ch, Buf: make([]byte, 1)},
	}, ImmediateDeadline)
	require.ErrorIs(t, err, ErrTimeout)
	require.Equal(t, -1, idx)
}
