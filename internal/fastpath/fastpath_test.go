package fastpath_test

import (
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/jlijian3/nginx-ofp/internal/assert"
	"github.com/jlijian3/nginx-ofp/internal/fastpath"
	"golang.org/x/sys/unix"
)

func TestErrnoSyscall(t *testing.T) {
	tests := []struct {
		errno fastpath.Errno
		want  unix.Errno
	}{
		{fastpath.EAGAIN, unix.EAGAIN},
		{fastpath.ENOBUFS, unix.ENOBUFS},
		{fastpath.EOPNOTSUPP, unix.EOPNOTSUPP},
		{fastpath.ECONNREFUSED, unix.ECONNREFUSED},
		{fastpath.EHOSTUNREACH, unix.EHOSTUNREACH},
		{fastpath.EBADF, unix.EBADF},
		{fastpath.Errno(3), unix.EIO},
		{fastpath.Errno(1000), unix.EIO},
	}

	for _, test := range tests {
		t.Run(test.errno.Name(), func(t *testing.T) {
			assert.Equal(t, test.errno.Syscall(), test.want)
		})
	}
}

func TestErrnoDomainsAreDistinct(t *testing.T) {
	// EAGAIN is 35 on the stack and 11 on Linux, the raw values must never be
	// confused with each other.
	assert.NotEqual(t, int(fastpath.EAGAIN), int(unix.EAGAIN))
	assert.False(t, errors.Is(fastpath.EAGAIN, unix.EAGAIN))
	assert.Equal(t, fastpath.EAGAIN.Error(), unix.EAGAIN.Error())
}

func TestSockaddrInet4(t *testing.T) {
	addrPort := netip.MustParseAddrPort("10.0.0.1:8080")
	sa := fastpath.SockaddrInet4(addrPort)
	assert.Equal(t, sa.Len, fastpath.SizeofSockaddr)
	assert.Equal(t, sa.Family, fastpath.AF_INET)
	assert.EqualAll(t, sa.Data[:6], []byte{0x1f, 0x90, 10, 0, 0, 1})
	assert.Equal(t, sa.AddrPort(), addrPort)
}

func TestFdSet(t *testing.T) {
	var set fastpath.FdSet
	set.Set(0)
	set.Set(63)
	set.Set(64)
	set.Set(fastpath.FD_SETSIZE - 1)
	assert.True(t, set.IsSet(0))
	assert.True(t, set.IsSet(63))
	assert.True(t, set.IsSet(64))
	assert.True(t, set.IsSet(fastpath.FD_SETSIZE-1))
	assert.False(t, set.IsSet(1))

	set.Clear(63)
	assert.False(t, set.IsSet(63))

	set.Zero()
	assert.Equal(t, set, fastpath.FdSet{})
}

func TestTimevalDuration(t *testing.T) {
	tv := fastpath.Timeval{Sec: 1, Usec: 500}
	assert.Equal(t, tv.Duration(), time.Second+500*time.Microsecond)
}
