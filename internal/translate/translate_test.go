package translate_test

import (
	"fmt"
	"net/netip"
	"testing"

	"github.com/jlijian3/nginx-ofp/internal/assert"
	"github.com/jlijian3/nginx-ofp/internal/fastpath"
	"github.com/jlijian3/nginx-ofp/internal/sockaddr"
	"github.com/jlijian3/nginx-ofp/internal/sockets"
	"github.com/jlijian3/nginx-ofp/internal/translate"
	"golang.org/x/sys/unix"
)

func TestBackendSockaddr(t *testing.T) {
	addrPort := netip.MustParseAddrPort("192.168.1.10:8080")
	sa := translate.BackendSockaddr(sockaddr.FromAddrPort(addrPort))
	assert.Equal(t, sa.Len, fastpath.SizeofSockaddr)
	assert.Equal(t, sa.AddrPort(), addrPort)
}

func TestBackendSockaddrShortImage(t *testing.T) {
	sa := translate.BackendSockaddr([]byte{2, 0, 0x1f})
	assert.Equal(t, sa.Len, fastpath.SizeofSockaddr)
	assert.Equal(t, sa.Data[0], byte(0x1f))
	assert.Equal(t, sa.Data[1], byte(0))
}

func TestKernelSockaddr(t *testing.T) {
	addrPort := netip.MustParseAddrPort("10.0.0.2:40000")
	sa := fastpath.SockaddrInet4(addrPort)

	b := make([]byte, sockaddr.SizeofAny)
	n := translate.KernelSockaddr(b, &sa)
	assert.Equal(t, n, sockaddr.SizeofInet4)

	got, err := sockaddr.AddrPort(b[:n])
	assert.OK(t, err)
	assert.Equal(t, got, addrPort)
}

func TestSockaddrRoundTrip(t *testing.T) {
	image := sockaddr.FromAddrPort(netip.MustParseAddrPort("172.16.0.1:443"))
	sa := translate.BackendSockaddr(image)

	b := make([]byte, len(image))
	translate.KernelSockaddr(b, &sa)
	assert.EqualAll(t, b, image)
}

func TestErrno(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{fastpath.EAGAIN, unix.EAGAIN},
		{fastpath.ECONNRESET, unix.ECONNRESET},
		{fastpath.ENOBUFS, unix.ENOBUFS},
		{fmt.Errorf("wrapped: %w", fastpath.EPIPE), unix.EPIPE},
		{unix.EBADF, unix.EBADF},
		{nil, nil},
	}

	for _, test := range tests {
		assert.Equal(t, translate.Errno(test.err), test.want)
	}
}

func TestWouldBlock(t *testing.T) {
	assert.Equal(t, translate.WouldBlock(fastpath.EAGAIN), error(unix.EAGAIN))
	assert.Equal(t, translate.WouldBlock(fastpath.ENOBUFS), error(unix.ENOBUFS))
	assert.Equal(t, translate.WouldBlock(fastpath.ENOBUFS, fastpath.ENOBUFS), error(unix.EAGAIN))
	assert.Equal(t, translate.WouldBlock(fastpath.EPIPE, fastpath.ENOBUFS), error(unix.EPIPE))
}

func TestFdSet(t *testing.T) {
	var kset unix.FdSet
	kset.Set(3)
	kset.Set(5)
	kset.Set(900)

	bset := translate.BackendFdSet(&kset, 10)
	assert.True(t, bset.IsSet(3))
	assert.True(t, bset.IsSet(5))
	assert.False(t, bset.IsSet(900))

	bset.Clear(3)
	translate.KernelFdSet(&kset, bset, 10)
	assert.False(t, kset.IsSet(3))
	assert.True(t, kset.IsSet(5))
	assert.True(t, kset.IsSet(900))

	assert.True(t, translate.BackendFdSet(nil, 10) == nil)
}

func TestSocketType(t *testing.T) {
	tests := []struct {
		typ      int
		btyp     int
		nonblock bool
		ok       bool
	}{
		{unix.SOCK_STREAM, fastpath.SOCK_STREAM, false, true},
		{unix.SOCK_STREAM | unix.SOCK_NONBLOCK, fastpath.SOCK_STREAM, true, true},
		{unix.SOCK_STREAM | unix.SOCK_CLOEXEC, fastpath.SOCK_STREAM, false, true},
		{unix.SOCK_DGRAM | unix.SOCK_NONBLOCK | unix.SOCK_CLOEXEC, fastpath.SOCK_DGRAM, true, true},
		{unix.SOCK_RAW, -1, false, false},
		{unix.SOCK_SEQPACKET, -1, false, false},
	}

	for _, test := range tests {
		btyp, nonblock, ok := translate.SocketType(test.typ)
		assert.Equal(t, btyp, test.btyp)
		assert.Equal(t, nonblock, test.nonblock)
		assert.Equal(t, ok, test.ok)
	}
}

func TestProtocol(t *testing.T) {
	tests := []struct {
		kernel, backend int
	}{
		{unix.IPPROTO_IP, fastpath.IPPROTO_IP},
		{unix.IPPROTO_TCP, fastpath.IPPROTO_TCP},
		{unix.IPPROTO_UDP, fastpath.IPPROTO_UDP},
		{unix.IPPROTO_ICMP, unix.IPPROTO_ICMP},
		{unix.IPPROTO_SCTP, unix.IPPROTO_SCTP},
	}

	for _, test := range tests {
		assert.Equal(t, translate.Protocol(test.kernel), test.backend)
	}
}

func TestSocketOption(t *testing.T) {
	tests := []struct {
		level, name   int
		blevel, bname int
		ok            bool
	}{
		{unix.SOL_SOCKET, unix.SO_REUSEADDR, fastpath.SOL_SOCKET, fastpath.SO_REUSEADDR, true},
		{unix.SOL_SOCKET, unix.SO_RCVBUF, fastpath.SOL_SOCKET, fastpath.SO_RCVBUF, true},
		{unix.SOL_SOCKET, unix.SO_LINGER, fastpath.SOL_SOCKET, 0, false},
		{unix.IPPROTO_TCP, unix.TCP_CORK, fastpath.IPPROTO_TCP, fastpath.TCP_NOPUSH, true},
		{unix.IPPROTO_TCP, unix.TCP_NODELAY, fastpath.IPPROTO_TCP, 0, false},
		{unix.IPPROTO_TCP, unix.TCP_DEFER_ACCEPT, fastpath.IPPROTO_TCP, 0, false},
		{unix.IPPROTO_IP, unix.IP_TOS, -1, -1, false},
	}

	for _, test := range tests {
		blevel, bname, ok := translate.SocketOption(test.level, test.name)
		assert.Equal(t, ok, test.ok)
		assert.Equal(t, blevel, test.blevel)
		assert.Equal(t, bname, test.bname)
	}
}

func TestIoctlRequest(t *testing.T) {
	req, ok := translate.IoctlRequest(sockets.FIONBIO)
	assert.True(t, ok)
	assert.Equal(t, req, uint(fastpath.FIONBIO))

	req, ok = translate.IoctlRequest(sockets.FIONREAD)
	assert.True(t, ok)
	assert.Equal(t, req, uint(fastpath.FIONREAD))

	_, ok = translate.IoctlRequest(unix.SIOCGIFADDR)
	assert.False(t, ok)
}

func TestMessageFlags(t *testing.T) {
	assert.Equal(t, translate.MessageFlags(0), 0)
	assert.Equal(t, translate.MessageFlags(unix.MSG_PEEK), fastpath.MSG_PEEK)
	assert.Equal(t, translate.MessageFlags(unix.MSG_DONTWAIT|unix.MSG_NOSIGNAL), fastpath.MSG_DONTWAIT|fastpath.MSG_NOSIGNAL)
	assert.Equal(t, translate.MessageFlags(unix.MSG_TRUNC), 0)
}
