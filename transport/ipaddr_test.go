package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coroio/coro"
)

func Test_ResolveLocal_EmptyNameReturnsAnyAddr(t *testing.T) {
	addr, err := ResolveLocal("", 9000, IPPreferIPv4)
	require.NoError(t, err)
	tcpAddr, ok := addr.(*net.TCPAddr)
	require.True(t, ok)
	require.True(t, tcpAddr.IP.Equal(net.IPv4zero))
	require.Equal(t, 9000, tcpAddr.Port)
}

func Test_ResolveLocal_EmptyNameIPv6ModeReturnsWildcard6(t *testing.T) {
	addr, err := ResolveLocal("", 9000, IPOnlyIPv6)
	require.NoError(t, err)
	tcpAddr := addr.(*net.TCPAddr)
	require.True(t, tcpAddr.IP.Equal(net.IPv6zero))
}

func Test_ResolveLocal_LiteralAddress(t *testing.T) {
	addr, err := ResolveLocal("127.0.0.1", 80, IPPreferIPv4)
	require.NoError(t, err)
	tcpAddr := addr.(*net.TCPAddr)
	require.True(t, tcpAddr.IP.Equal(net.ParseIP("127.0.0.1")))
}

func Test_ResolveLocal_LiteralV4RejectedUnderIPv6Only(t *testing.T) {
	_, err := ResolveLocal("127.0.0.1", 80, IPOnlyIPv6)
	require.ErrorIs(t, err, coro.ErrAddrFamily)
}

func Test_ResolveRemote_LiteralShortCircuitsDNS(t *testing.T) {
	addr, err := ResolveRemote(nil, "127.0.0.1", 443, IPPreferIPv4, coro.DeadlineAfter(time.Second))
	require.NoError(t, err)
	tcpAddr := addr.(*net.TCPAddr)
	require.True(t, tcpAddr.IP.Equal(net.ParseIP("127.0.0.1")))
	require.Equal(t, 443, tcpAddr.Port)
}

func Test_ResolveRemote_LiteralV6RejectedUnderIPv4Only(t *testing.T) {
	_, err := ResolveRemote(nil, "::1", 443, IPOnlyIPv4, coro.DeadlineAfter(time.Second))
	require.ErrorIs(t, err, coro.ErrAddrFamily)
}

func Test_ChooseByMode_FallsBackWhenPreferredFamilyAbsent(t *testing.T) {
	v4 := net.ParseIP("10.0.0.1")
	v6 := net.ParseIP("::1")

	require.Nil(t, chooseByMode(nil, v6, IPOnlyIPv4))
	require.Nil(t, chooseByMode(v4, nil, IPOnlyIPv6))
	require.Equal(t, v6, chooseByMode(nil, v6, IPPreferIPv4))
	require.Equal(t, v4, chooseByMode(v4, nil, IPPreferIPv6))
	require.Equal(t, v4, chooseByMode(v4, v6, IPPreferIPv4))
	require.Equal(t, v6, chooseByMode(v4, v6, IPPreferIPv6))
}
