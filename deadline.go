package coro

import (
	"container/heap"
	"time"
)

// NoDeadline and ImmediateDeadline are the two sentinel absolute-millisecond
// deadlines every blocking primitive in this runtime accepts, matching the
// spec's -1/0 convention translated to Go's time.Time (a zero value can't
// double as "never" since it's a perfectly valid instant).
const (
	NoDeadline        = -1
	ImmediateDeadline = 0
)

// Deadline is an absolute point in time expressed in milliseconds since the
// Unix epoch, or one of the sentinels above.
type Deadline int64

// DeadlineFrom converts a time.Time to a Deadline.
func DeadlineFrom(t time.Time) Deadline {
	return Deadline(t.UnixMilli())
}

// DeadlineAfter returns a Deadline d from now; a negative d yields NoDeadline.
func DeadlineAfter(d time.Duration) Deadline {
	if d < 0 {
		return NoDeadline
	}
	return Deadline(time.Now().Add(d).UnixMilli())
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// deadlineDuration converts an absolute Deadline into a time.Duration
// suitable for time.NewTimer, clamping negative (already-past) results to 0.
func deadlineDuration(d Deadline) time.Duration {
	ms := int64(d) - nowMillis()
	if ms < 0 {
		ms = 0
	}
	return time.Duration(ms) * time.Millisecond
}

type timerEntry struct {
	deadline Deadline
	seq      uint64 // insertion order, breaks ties
	index    int    // heap.Interface bookkeeping, for Remove
	wake     func(err error)
}

// timerSet is the scheduler's deadline-ordered wait set: a binary min-heap
// keyed by (deadline, insertion order), giving O(log n) insert/remove and
// O(1) peek at the earliest deadline, the figure the run-loop needs to
// compute its next poll timeout.
type timerSet struct {
	entries []*timerEntry
	nextSeq uint64
}

func (s *timerSet) Len() int { return len(s.entries) }

func (s *timerSet) Less(i, j int) bool {
	a, b := s.entries[i], s.entries[j]
	if a.deadline != b.deadline {
		return a.deadline < b.deadline
	}
	return a.seq < b.seq
}

func (s *timerSet) Swap(i, j int) {
	s.entries[i], s.entries[j] = s.entries[j], s.entries[i]
	s.entries[i].index = i
	s.entries[j].index = j
}

func (s *timerSet) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(s.entries)
	s.entries = append(s.entries, e)
}

func (s *timerSet) Pop() any {
	old := s.entries
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	s.entries = old[:n-1]
	e.index = -1
	return e
}

// insert adds a new timer firing wake(err) at deadline. NoDeadline entries
// are rejected by the caller before reaching here (see Scheduler.Sleep and
// Scheduler.WaitFD);
// this type only ever holds finite deadlines.
func (s *timerSet) insert(deadline Deadline, wake func(err error)) *timerEntry {
	e := &timerEntry{deadline: deadline, seq: s.nextSeq, wake: wake}
	s.nextSeq++
	heap.Push(s, e)
	return e
}

// remove evicts e if it is still in the set; safe to call on an already
// fired or already removed entry (index -1 is the sentinel for "not here").
func (s *timerSet) remove(e *timerEntry) {
	if e.index < 0 || e.index >= len(s.entries) || s.entries[e.index] != e {
		return
	}
	heap.Remove(s, e.index)
}

// min returns the earliest deadline in the set, or (0, false) if empty.
func (s *timerSet) min() (Deadline, bool) {
	if len(s.entries) == 0 {
		return 0, false
	}
	return s.entries[0].deadline, true
}

// popDue removes every entry whose deadline is <= now, in deadline order,
// firing each one's wake callback with ErrTimeout.
func (s *timerSet) popDue(now int64) {
	for len(s.entries) > 0 && int64(s.entries[0].deadline) <= now {
		e := heap.Pop(s).(*timerEntry)
		e.index = -1
		e.wake(ErrTimeout)
	}
}
