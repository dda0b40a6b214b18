package kernel_test

import (
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/jlijian3/nginx-ofp/internal/assert"
	"github.com/jlijian3/nginx-ofp/internal/kernel"
	"github.com/jlijian3/nginx-ofp/internal/sockaddr"
	"github.com/jlijian3/nginx-ofp/internal/sockets"
	"golang.org/x/sys/unix"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		scenario string
		function func(*testing.T)
	}{
		{
			scenario: "all entries of the host resolve",
			function: testResolveHost,
		},
		{
			scenario: "every missing entry is reported",
			function: testResolveMissing,
		},
		{
			scenario: "entries with the wrong signature are reported",
			function: testResolveMismatch,
		},
		{
			scenario: "the default table is resolved once",
			function: testResolveDefault,
		},
	}

	for _, test := range tests {
		t.Run(test.scenario, test.function)
	}
}

func testResolveHost(t *testing.T) {
	symbols := kernel.Symbols()
	for _, name := range kernel.Names {
		_, ok := symbols[name]
		assert.True(t, ok)
	}
	_, err := kernel.Resolve(symbols)
	assert.OK(t, err)
}

func testResolveMissing(t *testing.T) {
	symbols := kernel.Symbols()
	delete(symbols, "accept")
	delete(symbols, "writev")

	e, err := kernel.Resolve(symbols)
	assert.Error(t, err, kernel.ErrMissing)
	assert.True(t, e == nil)

	var joined interface{ Unwrap() []error }
	assert.True(t, errors.As(err, &joined))
	assert.Equal(t, len(joined.Unwrap()), 2)
}

func testResolveMismatch(t *testing.T) {
	symbols := kernel.Symbols()
	symbols["close"] = func(fd int) {}

	_, err := kernel.Resolve(symbols)
	assert.Error(t, err, kernel.ErrMismatch)
}

func testResolveDefault(t *testing.T) {
	e1, err := kernel.Default()
	assert.OK(t, err)
	e2, err := kernel.Default()
	assert.OK(t, err)
	assert.True(t, e1 == e2)
}

func TestPassthrough(t *testing.T) {
	e, err := kernel.Default()
	assert.OK(t, err)

	lfd, err := e.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	assert.OK(t, err)
	defer e.Close(lfd)

	one := []byte{1, 0, 0, 0}
	assert.OK(t, e.Setsockopt(lfd, unix.SOL_SOCKET, unix.SO_REUSEADDR, one))
	assert.OK(t, e.Bind(lfd, sockaddr.FromAddrPort(netip.MustParseAddrPort("127.0.0.1:0"))))
	assert.OK(t, e.Listen(lfd, 8))

	nonblock := 1
	assert.OK(t, e.Ioctl(lfd, sockets.FIONBIO, &nonblock))

	_, _, err = e.Accept(lfd, make([]byte, sockaddr.SizeofAny))
	assert.Error(t, err, unix.EAGAIN)

	name, err := unix.Getsockname(lfd)
	assert.OK(t, err)

	cfd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	assert.OK(t, err)
	defer e.Close(cfd)
	assert.OK(t, unix.Connect(cfd, name))

	addr := make([]byte, sockaddr.SizeofAny)
	sfd, addrlen, err := e.Accept(lfd, addr)
	assert.OK(t, err)
	defer e.Close(sfd)
	assert.Equal(t, addrlen, sockaddr.SizeofInet4)
	assert.Equal(t, sockaddr.Family(addr), unix.AF_INET)

	c2fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	assert.OK(t, err)
	defer e.Close(c2fd)
	assert.OK(t, unix.Connect(c2fd, name))

	s2fd, addrlen, err := e.Accept(lfd, nil)
	assert.OK(t, err)
	defer e.Close(s2fd)
	assert.Equal(t, addrlen, 0)

	n, err := e.Send(cfd, []byte("hello"), 0)
	assert.OK(t, err)
	assert.Equal(t, n, 5)

	n, err = e.Writev(cfd, [][]byte{[]byte(", "), []byte("world")})
	assert.OK(t, err)
	assert.Equal(t, n, 7)

	path := filepath.Join(t.TempDir(), "data")
	assert.OK(t, os.WriteFile(path, []byte("0123456789"), 0666))
	f, err := os.Open(path)
	assert.OK(t, err)
	defer f.Close()

	offset := int64(2)
	n, err = e.Sendfile(cfd, int(f.Fd()), &offset, 3)
	assert.OK(t, err)
	assert.Equal(t, n, 3)
	assert.Equal(t, offset, int64(5))

	buf := make([]byte, 64)
	got := 0
	for got < 15 {
		n, err := e.Recv(sfd, buf[got:], 0)
		assert.OK(t, err)
		got += n
	}
	assert.Equal(t, string(buf[:got]), "hello, world234")

	var pending int
	assert.OK(t, e.Ioctl(sfd, sockets.FIONREAD, &pending))
	assert.Equal(t, pending, 0)
}

func TestIoctlWithoutArgument(t *testing.T) {
	const fioclex = 0x5451

	e, err := kernel.Default()
	assert.OK(t, err)

	fd, err := e.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	assert.OK(t, err)
	defer e.Close(fd)

	assert.OK(t, e.Ioctl(fd, fioclex, nil))

	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	assert.OK(t, err)
	assert.True(t, flags&unix.FD_CLOEXEC != 0)

	assert.Error(t, e.Ioctl(-1, fioclex, nil), unix.EBADF)
}

func TestFileEntries(t *testing.T) {
	e, err := kernel.Default()
	assert.OK(t, err)

	path := filepath.Join(t.TempDir(), "data")
	assert.OK(t, os.WriteFile(path, []byte("abcdef"), 0666))
	f, err := os.Open(path)
	assert.OK(t, err)
	defer f.Close()

	off, err := e.Seek(int(f.Fd()), 3, unix.SEEK_SET)
	assert.OK(t, err)
	assert.Equal(t, off, int64(3))

	buf := make([]byte, 8)
	n, err := e.Read(int(f.Fd()), buf)
	assert.OK(t, err)
	assert.Equal(t, string(buf[:n]), "def")

	_, err = e.Seek(-1, 0, unix.SEEK_CUR)
	assert.Error(t, err, unix.EBADF)
}

func TestFailuresReturnMinusOne(t *testing.T) {
	e, err := kernel.Default()
	assert.OK(t, err)

	n, err := e.Recv(-1, make([]byte, 1), 0)
	assert.Error(t, err, unix.EBADF)
	assert.Equal(t, n, -1)

	n, err = e.Send(-1, []byte{0}, 0)
	assert.Error(t, err, unix.EBADF)
	assert.Equal(t, n, -1)

	fd, _, err := e.Accept(-1, nil)
	assert.Error(t, err, unix.EBADF)
	assert.Equal(t, fd, -1)
}
