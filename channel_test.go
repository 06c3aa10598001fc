package coro

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := NewScheduler()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// Test_Channel_RendezvousTransfersValue verifies a blocked Recv unblocks with
// exactly the bytes a concurrent Send supplied, and neither side ever sees
// the value staged anywhere but the counterparty's own buffer.
func Test_Channel_RendezvousTransfersValue(t *testing.T) {
	sched := newTestScheduler(t)
	root := NewBundle(sched)
	ch, _ := sched.NewChannel(4)

	var recvBuf [4]byte
	var wg sync.WaitGroup
	wg.Add(2)

	root.Go("sender", func(tk *Task) error {
		defer wg.Done()
		return ch.Send(tk, []byte("ping"), NoDeadline)
	})
	root.Go("receiver", func(tk *Task) error {
		defer wg.Done()
		return ch.Recv(tk, recvBuf[:], NoDeadline)
	})

	wg.Wait()
	require.Equal(t, "ping", string(recvBuf[:]))
}

// Test_Channel_SendTimeoutWithNoReceiver verifies a Send with a bounded
// deadline and no counterparty fails with ErrTimeout rather than blocking
// forever.
func Test_Channel_SendTimeoutWithNoReceiver(t *testing.T) {
	sched := newTestScheduler(t)
	root := NewBundle(sched)
	ch, _ := sched.NewChannel(1)

	errCh := make(chan error, 1)
	root.Go("sender", func(tk *Task) error {
		errCh <- ch.Send(tk, []byte{1}, DeadlineAfter(20*time.Millisecond))
		return nil
	})

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrTimeout)
	case <-time.After(2 * time.Second):
		t.Fatal("send did not return")
	}
}

// Test_Channel_ImmediateDeadlineFailsFastWithoutParking verifies
// ImmediateDeadline never parks the caller: absent a ready counterparty it
// returns ErrTimeout synchronously.
func Test_Channel_ImmediateDeadlineFailsFastWithoutParking(t *testing.T) {
	sched := newTestScheduler(t)
	root := NewBundle(sched)
	ch, _ := sched.NewChannel(1)

	done := make(chan struct{})
	root.Go("sender", func(tk *Task) error {
		defer close(done)
		err := ch.Send(tk, []byte{1}, ImmediateDeadline)
		require.ErrorIs(t, err, ErrTimeout)
		return nil
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("immediate-deadline send blocked")
	}
}

// Test_Channel_DoneFailsParkedAndFutureOps verifies Done (half-close) fails
// every currently-parked Send/Recv with ErrClosedOrderly, and every call
// made afterward fails the same way.
func Test_Channel_DoneFailsParkedAndFutureOps(t *testing.T) {
	sched := newTestScheduler(t)
	root := NewBundle(sched)
	ch, _ := sched.NewChannel(1)

	errCh := make(chan error, 1)
	root.Go("receiver", func(tk *Task) error {
		errCh <- ch.Recv(tk, make([]byte, 1), NoDeadline)
		return nil
	})

	// Give the receiver a moment to park before closing.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, ch.Done())

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrClosedOrderly)
	case <-time.After(time.Second):
		t.Fatal("parked recv did not unblock on Done")
	}

	lateDone := make(chan struct{})
	root.Go("late-sender", func(tk *Task) error {
		defer close(lateDone)
		err := ch.Send(tk, []byte{1}, ImmediateDeadline)
		require.ErrorIs(t, err, ErrClosedOrderly)
		return nil
	})
	select {
	case <-lateDone:
	case <-time.After(time.Second):
		t.Fatal("late send after Done did not complete")
	}
}

// Test_Channel_CloseFailsParkedWithCanceled verifies Close (hclose) is
// distinct from Done: parked endpoints fail with ErrCanceled, not
// ErrClosedOrderly.
func Test_Channel_CloseFailsParkedWithCanceled(t *testing.T) {
	sched := newTestScheduler(t)
	root := NewBundle(sched)
	ch, _ := sched.NewChannel(1)

	errCh := make(chan error, 1)
	root.Go("receiver", func(tk *Task) error {
		errCh <- ch.Recv(tk, make([]byte, 1), NoDeadline)
		return nil
	})

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, ch.Close())

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrCanceled)
	case <-time.After(time.Second):
		t.Fatal("parked recv did not unblock on Close")
	}
}

// Test_Channel_WrongElemSizeRejected verifies a Send/Recv whose buffer length
// does not match the channel's fixed element size is rejected immediately,
// without ever touching the wait queues.
func Test_Channel_WrongElemSizeRejected(t *testing.T) {
	sched := newTestScheduler(t)
	ch, _ := sched.NewChannel(4)

	tk := &Task{cancelCh: make(chan struct{}), done: make(chan struct{})}
	require.ErrorIs(t, ch.Send(tk, []byte{1, 2}, ImmediateDeadline), ErrInvalid)
	require.ErrorIs(t, ch.Recv(tk, []byte{1, 2}, ImmediateDeadline), ErrInvalid)
}

// Test_Channel_MetricsRecordsSendRecvOutcomes verifies NewChannel wires a
// non-nil Metrics through to recorded ChannelOps counters.
func Test_Channel_MetricsRecordsSendRecvOutcomes(t *testing.T) {
	m := NewMetrics("coro_test_channel")
	ch, _ := NewChannel(NewHandleTable(), 1, m)

	tk := &Task{cancelCh: make(chan struct{}), done: make(chan struct{})}
	err := ch.Send(tk, []byte{1}, ImmediateDeadline)
	require.ErrorIs(t, err, ErrTimeout)

	count := testutil.ToFloat64(m.ChannelOps.WithLabelValues("send", "timeout"))
	require.Equal(t, float64(1), count)
}
