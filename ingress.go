package coro

import "sync"

// ingressChunkSize amortizes allocation: a chunk holds this many queued
// calls before a new one is linked on, in exchange for some unused tail
// capacity on mostly-idle schedulers.
const ingressChunkSize = 128

type ingressChunk struct {
	calls    [ingressChunkSize]func()
	next     *ingressChunk
	readPos  int
	writePos int
}

var ingressChunkPool = sync.Pool{New: func() any { return new(ingressChunk) }}

func newIngressChunk() *ingressChunk {
	c := ingressChunkPool.Get().(*ingressChunk)
	c.readPos, c.writePos, c.next = 0, 0, nil
	return c
}

func releaseIngressChunk(c *ingressChunk) {
	for i := 0; i < c.writePos; i++ {
		c.calls[i] = nil
	}
	ingressChunkPool.Put(c)
}

// ingress is the scheduler's cross-goroutine mailbox: the scheduler's
// blocking primitives (Sleep, WaitFD) and task cancellation are really
// "submit a closure to the run-loop goroutine", the former then blocking on a
// reply channel. Push is safe from any goroutine; drain is only ever called
// by the run-loop goroutine that owns the scheduler's core state, so the two sides
// only need to agree on the mutex guarding the chunk list itself, never on
// the state the submitted closures touch.
type ingress struct {
	mu         sync.Mutex
	head, tail *ingressChunk
	length     int
	wake       func()
}

func newIngress(wake func()) *ingress {
	return &ingress{wake: wake}
}

// push enqueues call for execution on the run-loop goroutine and, if the
// queue was empty, wakes a poller blocked in wait() so it notices the new
// work without waiting out its timeout.
func (q *ingress) push(call func()) {
	q.mu.Lock()
	wasEmpty := q.length == 0
	if q.tail == nil {
		q.tail = newIngressChunk()
		q.head = q.tail
	} else if q.tail.writePos == ingressChunkSize {
		next := newIngressChunk()
		q.tail.next = next
		q.tail = next
	}
	q.tail.calls[q.tail.writePos] = call
	q.tail.writePos++
	q.length++
	q.mu.Unlock()

	if wasEmpty && q.wake != nil {
		q.wake()
	}
}

// drain calls fn once for every call currently queued, in FIFO order. It is
// the run-loop's sole consumer entrypoint, invoked once per scheduler tick
// before recomputing the poll timeout.
func (q *ingress) drain(fn func(call func())) {
	q.mu.Lock()
	head, length := q.head, q.length
	q.head, q.tail, q.length = nil, nil, 0
	q.mu.Unlock()

	for head != nil && length > 0 {
		for head.readPos < head.writePos {
			fn(head.calls[head.readPos])
			head.readPos++
			length--
		}
		spent := head
		head = head.next
		releaseIngressChunk(spent)
	}
}

func (q *ingress) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.length
}
