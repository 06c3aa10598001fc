package adapter

import (
	"context"

	"github.com/coroio/coro"
)

// taskContext returns a context.Context canceled when t's handle is closed,
// for the few stdlib APIs (crypto/tls's HandshakeContext) that want a
// context rather than this runtime's own Task/Deadline pair.
func taskContext(t *coro.Task) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-t.CancelSignal():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx
}
