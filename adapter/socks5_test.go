package adapter

import (
	"net"
	"sync"
	"testing"

	"github.com/coroio/coro"
	"github.com/stretchr/testify/require"
)

func Test_SOCKS5_ClientServerConnectNoAuth(t *testing.T) {
	a, b := newMemPipe()
	defer a.Close()
	defer b.Close()

	target := SOCKS5Target{IP: net.ParseIP("93.184.216.34"), Port: 80}

	var wg sync.WaitGroup
	var clientErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, clientErr = DialSOCKS5(nil, a, target, "", "", coro.NoDeadline)
	}()

	got, err := AcceptSOCKS5(nil, b, nil, coro.NoDeadline)
	require.NoError(t, err)
	require.True(t, got.IP.Equal(target.IP))
	require.Equal(t, target.Port, got.Port)

	bound := &net.TCPAddr{IP: net.ParseIP("10.0.0.1"), Port: 4242}
	require.NoError(t, SendSOCKS5Reply(nil, b, nil, bound, coro.NoDeadline))

	wg.Wait()
	require.NoError(t, clientErr)
}

func Test_SOCKS5_ServerRejectsWhenAuthRequiredButNotOffered(t *testing.T) {
	a, b := newMemPipe()
	defer a.Close()
	defer b.Close()

	target := SOCKS5Target{IP: net.ParseIP("1.2.3.4"), Port: 443}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// Client offers no-auth only.
		_, _ = DialSOCKS5(nil, a, target, "", "", coro.NoDeadline)
	}()

	authenticate := func(user, pass string) bool { return user == "u" && pass == "p" }
	_, err := AcceptSOCKS5(nil, b, authenticate, coro.NoDeadline)
	require.ErrorIs(t, err, coro.ErrProtocol)
	wg.Wait()
}

func Test_SendSOCKS5Reply_TranslatesConnectionRefused(t *testing.T) {
	a, b := newMemPipe()
	defer a.Close()
	defer b.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		require.NoError(t, SendSOCKS5Reply(nil, a, coro.ErrConnRefused, nil, coro.NoDeadline))
	}()

	// With no bound address the reply is 10 bytes (IPv4 0.0.0.0:0); read all
	// of it so the sender's single net.Pipe write can complete.
	var hdr [10]byte
	require.NoError(t, b.RecvList(nil, coro.Of(hdr[:]), coro.NoDeadline))
	require.Equal(t, byte(0x05), hdr[0])
	require.Equal(t, byte(0x05), hdr[1]) // connection refused, RFC 1928 §6
	wg.Wait()
}
