package coro

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_Task_WaitReturnsTerminationError(t *testing.T) {
	sched := newTestScheduler(t)
	task := sched.Go(nil, "worker", func(tk *Task) error {
		return ErrProtocol
	})
	require.ErrorIs(t, task.Wait(NoDeadline), ErrProtocol)
}

func Test_Task_WaitImmediateDeadlineFailsFastBeforeCompletion(t *testing.T) {
	sched := newTestScheduler(t)
	release := make(chan struct{})
	task := sched.Go(nil, "worker", func(tk *Task) error {
		<-release
		return nil
	})
	require.ErrorIs(t, task.Wait(ImmediateDeadline), ErrTimeout)
	close(release)
	require.NoError(t, task.Wait(NoDeadline))
}

func Test_Task_WaitRespectsDeadline(t *testing.T) {
	sched := newTestScheduler(t)
	release := make(chan struct{})
	defer close(release)
	task := sched.Go(nil, "worker", func(tk *Task) error {
		<-release
		return nil
	})
	require.ErrorIs(t, task.Wait(DeadlineAfter(10*time.Millisecond)), ErrTimeout)
}

func Test_Task_CloseIsIdempotent(t *testing.T) {
	sched := newTestScheduler(t)
	task := sched.Go(nil, "worker", func(tk *Task) error {
		<-tk.CancelSignal()
		return ErrCanceled
	})
	require.NoError(t, task.Close())
	require.NoError(t, task.Close())
	require.ErrorIs(t, task.Wait(NoDeadline), ErrCanceled)
}

func Test_Task_CanceledReflectsCloseImmediately(t *testing.T) {
	sched := newTestScheduler(t)
	release := make(chan struct{})
	task := sched.Go(nil, "worker", func(tk *Task) error {
		<-release
		return nil
	})
	require.False(t, task.Canceled())
	require.NoError(t, task.Close())
	require.True(t, task.Canceled())
	close(release)
}

func Test_Task_PanicInFnIsRecoveredAsProtocolError(t *testing.T) {
	sched := newTestScheduler(t)
	task := sched.Go(nil, "panicker", func(tk *Task) error {
		panic("boom")
	})
	require.ErrorIs(t, task.Wait(NoDeadline), ErrProtocol)
}

func Test_Task_DoneSignalClosesOnTermination(t *testing.T) {
	sched := newTestScheduler(t)
	task := sched.Go(nil, "worker", func(tk *Task) error {
		return nil
	})
	select {
	case <-task.DoneSignal():
	case <-time.After(time.Second):
		t.Fatal("DoneSignal never closed")
	}
}
