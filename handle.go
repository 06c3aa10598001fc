package coro

import "sync"

// Handle is an opaque reference into a Scheduler's handle table. The low 32
// bits index an arena slot; the high 32 bits are that slot's generation at
// the time the handle was issued. Reusing a slot after close bumps its
// generation, so a stale Handle value fails query/close with ErrBadHandle
// instead of silently addressing whatever now occupies the slot.
type Handle uint64

func packHandle(index, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(index))
}

func (h Handle) index() uint32 { return uint32(h) }
func (h Handle) gen() uint32   { return uint32(h >> 32) }

// String renders a handle as index.generation, for logging.
func (h Handle) String() string {
	return itoa(int(h.index())) + "." + itoa(int(h.gen()))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Closer is the minimal vtable every handle-table entry implements: the
// handle table calls Close exactly once, never concurrently with any other
// call against the same object, when the owning Handle is closed. Close must
// not block; long-running teardown belongs behind Done or a protocol detach.
type Closer interface {
	Close() error
}

// Doner is implemented by objects supporting hdone-style half-close: signal
// that this endpoint has no more outbound data/messages without tearing the
// handle down.
type Doner interface {
	Done() error
}

type handleSlot struct {
	gen    uint32
	object any
	closed bool
}

// HandleTable is the arena-backed registry every socket, task, and bundle in
// this runtime is addressed through. Every method is safe to call from any
// goroutine; internally it protects its arena with a mutex, since unlike the
// scheduler's run-loop state (touched only by the run-loop goroutine), the
// handle table is also consulted by adapters translating a caller's Handle
// into a concrete object outside of any run-loop-owned critical section.
type HandleTable struct {
	mu      sync.Mutex
	slots   []handleSlot
	freeIdx []uint32
}

// NewHandleTable constructs an empty table.
func NewHandleTable() *HandleTable {
	return &HandleTable{}
}

// Make inserts object (which must implement at least Closer) and returns a
// fresh Handle referencing it.
func (t *HandleTable) Make(object any) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	var idx uint32
	if n := len(t.freeIdx); n > 0 {
		idx = t.freeIdx[n-1]
		t.freeIdx = t.freeIdx[:n-1]
		t.slots[idx].object = object
		t.slots[idx].closed = false
	} else {
		idx = uint32(len(t.slots))
		t.slots = append(t.slots, handleSlot{gen: 1, object: object})
	}
	return packHandle(idx, t.slots[idx].gen)
}

func (t *HandleTable) lookupLocked(h Handle) (*handleSlot, error) {
	idx := h.index()
	if int(idx) >= len(t.slots) {
		return nil, ErrBadHandle
	}
	slot := &t.slots[idx]
	if slot.gen != h.gen() || slot.closed {
		return nil, ErrBadHandle
	}
	return slot, nil
}

// Query returns the object behind h if it is still valid. Callers type-assert
// the result to the interface they need (bsock, msock, Closer, Doner, ...),
// mirroring the spec's query(type)->object_ptr contract without needing
// identity-compared sentinel type tags: Go's type assertion already is that
// mechanism.
func (t *HandleTable) Query(h Handle) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	slot, err := t.lookupLocked(h)
	if err != nil {
		return nil, err
	}
	return slot.object, nil
}

// Own returns a new Handle aliasing the same object as h and invalidates h:
// subsequent calls against h fail with ErrBadHandle. Adapters call this when
// they take exclusive ownership of a caller-supplied inner handle, so the
// original caller can no longer reach the wrapped object directly.
func (t *HandleTable) Own(h Handle) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	slot, err := t.lookupLocked(h)
	if err != nil {
		return 0, err
	}
	object := slot.object
	slot.gen++
	idx := h.index()
	return packHandle(idx, slot.gen), t.insertLocked(idx, object)
}

func (t *HandleTable) insertLocked(idx uint32, object any) error {
	t.slots[idx].object = object
	t.slots[idx].closed = false
	return nil
}

// Close calls object.Close() if the object implements Closer, then retires
// the slot: the index is recycled but the generation is bumped, so any
// remaining copy of h (or a handle aliasing the same slot before Own) will
// fail future lookups with ErrBadHandle rather than addressing a new object.
// Close is idempotent: closing an already-closed handle returns ErrBadHandle,
// never re-invokes the object's Close.
func (t *HandleTable) Close(h Handle) error {
	t.mu.Lock()
	slot, err := t.lookupLocked(h)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	object := slot.object
	slot.closed = true
	slot.object = nil
	slot.gen++
	t.freeIdx = append(t.freeIdx, h.index())
	t.mu.Unlock()

	if c, ok := object.(Closer); ok {
		if cerr := c.Close(); cerr != nil {
			return cerr
		}
	}
	return nil
}

// Done invokes object.Done() if the object implements Doner, else reports
// ErrNotSupported per the spec's "not every handle supports it" contract.
func (t *HandleTable) Done(h Handle) error {
	obj, err := t.Query(h)
	if err != nil {
		return err
	}
	d, ok := obj.(Doner)
	if !ok {
		return ErrNotSupported
	}
	return d.Done()
}
