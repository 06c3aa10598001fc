package coro

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_Scheduler_SleepReturnsAfterDuration(t *testing.T) {
	sched := newTestScheduler(t)
	done := make(chan error, 1)
	start := time.Now()
	sched.Go(nil, "sleeper", func(tk *Task) error {
		done <- sched.Sleep(tk, DeadlineAfter(20*time.Millisecond))
		return nil
	})
	select {
	case err := <-done:
		require.NoError(t, err)
		require.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("Sleep never returned")
	}
}

func Test_Scheduler_SleepWakesImmediatelyOnCancel(t *testing.T) {
	sched := newTestScheduler(t)
	done := make(chan error, 1)
	var task *Task
	started := make(chan struct{})
	task = sched.Go(nil, "sleeper", func(tk *Task) error {
		close(started)
		done <- sched.Sleep(tk, NoDeadline)
		return nil
	})
	<-started
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, task.Close())

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrCanceled)
	case <-time.After(time.Second):
		t.Fatal("Sleep did not wake on cancellation")
	}
}

func Test_Scheduler_SleepImmediateDeadlineReturnsAtOnce(t *testing.T) {
	sched := newTestScheduler(t)
	done := make(chan error, 1)
	sched.Go(nil, "sleeper", func(tk *Task) error {
		done <- sched.Sleep(tk, ImmediateDeadline)
		return nil
	})
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("immediate sleep blocked")
	}
}

func Test_Scheduler_GoTracksTasksAlive(t *testing.T) {
	sched := newTestScheduler(t)
	release := make(chan struct{})
	before := sched.tasksAlive.Load()
	task := sched.Go(nil, "worker", func(tk *Task) error {
		<-release
		return nil
	})
	require.Equal(t, before+1, sched.tasksAlive.Load())
	close(release)
	require.NoError(t, task.Wait(NoDeadline))
	require.Equal(t, before, sched.tasksAlive.Load())
}

func Test_Scheduler_NewChannelRegistersInHandleTable(t *testing.T) {
	sched := newTestScheduler(t)
	ch, h := sched.NewChannel(4)
	require.NotNil(t, ch)
	obj, err := sched.Handles().Query(h)
	require.NoError(t, err)
	require.Same(t, ch, obj)
}
