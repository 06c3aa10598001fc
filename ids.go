package coro

import "github.com/google/uuid"

// traceID is a per-task correlation identifier, stored on each Task at
// creation. Nothing logs or serializes it, transport connections carry
// none, and it has no bearing on scheduling or wire behavior.
type traceID uuid.UUID

func newTraceID() traceID { return traceID(uuid.New()) }

func (t traceID) String() string { return uuid.UUID(t).String() }
