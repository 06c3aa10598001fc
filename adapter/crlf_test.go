package adapter

import (
	"sync"
	"testing"

	"github.com/coroio/coro"
	"github.com/stretchr/testify/require"
)

func Test_CRLF_SendRecvLine(t *testing.T) {
	a, b := newMemPipe()
	defer a.Close()
	defer b.Close()

	sender, err := AttachCRLF(a)
	require.NoError(t, err)
	receiver, err := AttachCRLF(b)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		require.NoError(t, sender.SendLine(nil, []byte("GET / HTTP/1.1"), coro.NoDeadline))
	}()

	buf := make([]byte, 64)
	n, err := receiver.RecvLine(nil, buf, coro.NoDeadline)
	require.NoError(t, err)
	require.Equal(t, "GET / HTTP/1.1", string(buf[:n]))
	wg.Wait()
}

func Test_CRLF_EmptyLineReportsClosedOrderly(t *testing.T) {
	a, b := newMemPipe()
	defer a.Close()
	defer b.Close()

	sender, err := AttachCRLF(a)
	require.NoError(t, err)
	receiver, err := AttachCRLF(b)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		require.NoError(t, sender.SendLine(nil, []byte{}, coro.NoDeadline))
	}()

	buf := make([]byte, 8)
	_, err = receiver.RecvLine(nil, buf, coro.NoDeadline)
	require.ErrorIs(t, err, coro.ErrClosedOrderly)
	wg.Wait()
}

func Test_CRLF_SendRejectsEmbeddedCRLF(t *testing.T) {
	a, _ := newMemPipe()
	defer a.Close()

	sender, err := AttachCRLF(a)
	require.NoError(t, err)
	err = sender.SendLine(nil, []byte("bad\r\nline"), coro.NoDeadline)
	require.ErrorIs(t, err, coro.ErrInvalid)
}
