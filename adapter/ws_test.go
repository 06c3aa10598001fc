package adapter

import (
	"sync"
	"testing"

	"github.com/coroio/coro"
	"github.com/stretchr/testify/require"
)

// Test_acceptKey_RFC6455Vector checks the exact worked example from RFC 6455
// §1.3: a client key of "dGhlIHNhbXBsZSBub25jZQ==" must derive the accept
// value "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=".
func Test_acceptKey_RFC6455Vector(t *testing.T) {
	require.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", acceptKey("dGhlIHNhbXBsZSBub25jZQ=="))
}

func Test_WSRaw_ClientToServerFrameRoundTrip(t *testing.T) {
	a, b := newMemPipe()
	defer a.Close()
	defer b.Close()

	client := AttachWSRaw(a, true)
	server := AttachWSRaw(b, false)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		require.NoError(t, client.SendText(nil, []byte("hello"), coro.NoDeadline))
	}()

	buf := make([]byte, 32)
	n, err := server.MRecvList(nil, coro.Of(buf), coro.NoDeadline)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))
	require.Equal(t, OpText, server.LastOpcode())
	wg.Wait()
}

// Test_WSRaw_ServerMustRejectUnmaskedClientFrame verifies the server half of
// the RFC 6455 masking-direction invariant: a server receiving an unmasked
// frame reports a protocol error.
func Test_WSRaw_ServerMustRejectUnmaskedClientFrame(t *testing.T) {
	a, b := newMemPipe()
	defer a.Close()
	defer b.Close()

	// A misbehaving "client" that sends unmasked frames.
	misbehaving := AttachWSRaw(a, false) // false = does not mask outgoing
	server := AttachWSRaw(b, false)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = misbehaving.SendFrame(nil, OpText, []byte("x"), coro.NoDeadline)
	}()

	_, err := server.MRecvList(nil, coro.Of(make([]byte, 8)), coro.NoDeadline)
	require.ErrorIs(t, err, coro.ErrProtocol)
	// The server stops reading after rejecting the header; closing its end
	// releases the sender still blocked writing the payload.
	_ = b.Close()
	wg.Wait()
}
