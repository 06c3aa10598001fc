package coro

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_Deadline_FromAndAfterRoundtrip(t *testing.T) {
	now := time.Now()
	d := DeadlineFrom(now)
	require.Equal(t, now.UnixMilli(), int64(d))

	future := DeadlineAfter(100 * time.Millisecond)
	require.Greater(t, int64(future), now.UnixMilli())
}

func Test_Deadline_AfterNegativeDurationIsNoDeadline(t *testing.T) {
	require.Equal(t, Deadline(NoDeadline), DeadlineAfter(-time.Second))
}

func Test_Deadline_DeadlineDurationClampsPastToZero(t *testing.T) {
	past := DeadlineFrom(time.Now().Add(-time.Hour))
	require.Equal(t, time.Duration(0), deadlineDuration(past))
}

func Test_TimerSet_PopDueFiresInDeadlineOrder(t *testing.T) {
	set := &timerSet{}
	var order []int
	now := nowMillis()
	set.insert(Deadline(now+30), func(err error) { order = append(order, 3) })
	set.insert(Deadline(now+10), func(err error) { order = append(order, 1) })
	set.insert(Deadline(now+20), func(err error) { order = append(order, 2) })

	set.popDue(now + 25)
	require.Equal(t, []int{1, 2}, order)

	set.popDue(now + 100)
	require.Equal(t, []int{1, 2, 3}, order)
}

func Test_TimerSet_RemoveEvictsPendingEntry(t *testing.T) {
	set := &timerSet{}
	fired := false
	now := nowMillis()
	e := set.insert(Deadline(now+10), func(err error) { fired = true })
	set.remove(e)
	require.Equal(t, 0, set.Len())

	set.popDue(now + 100)
	require.False(t, fired)
}

func Test_TimerSet_MinReportsEarliestDeadline(t *testing.T) {
	set := &timerSet{}
	_, ok := set.min()
	require.False(t, ok)

	now := nowMillis()
	set.insert(Deadline(now+50), func(error) {})
	set.insert(Deadline(now+10), func(error) {})
	d, ok := set.min()
	require.True(t, ok)
	require.Equal(t, Deadline(now+10), d)
}
