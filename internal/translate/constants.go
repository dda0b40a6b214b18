package translate

import (
	"github.com/jlijian3/nginx-ofp/internal/fastpath"
	"github.com/jlijian3/nginx-ofp/internal/sockets"
	"golang.org/x/sys/unix"
)

// SocketType maps a kernel socket type to the stack's. The SOCK_NONBLOCK and
// SOCK_CLOEXEC modifiers are stripped; nonblock reports whether the former was
// present. ok is false for types the stack does not handle.
func SocketType(typ int) (btyp int, nonblock, ok bool) {
	nonblock = typ&unix.SOCK_NONBLOCK != 0
	switch typ &^ (unix.SOCK_NONBLOCK | unix.SOCK_CLOEXEC) {
	case unix.SOCK_STREAM:
		return fastpath.SOCK_STREAM, nonblock, true
	case unix.SOCK_DGRAM:
		return fastpath.SOCK_DGRAM, nonblock, true
	default:
		return -1, nonblock, false
	}
}

// Protocol maps a kernel protocol number to the stack's. Other protocols are
// returned unchanged for the stack to reject.
func Protocol(proto int) int {
	switch proto {
	case unix.IPPROTO_IP:
		return fastpath.IPPROTO_IP
	case unix.IPPROTO_TCP:
		return fastpath.IPPROTO_TCP
	case unix.IPPROTO_UDP:
		return fastpath.IPPROTO_UDP
	default:
		return proto
	}
}

var socketOptions = map[int]int{
	unix.SO_REUSEADDR: fastpath.SO_REUSEADDR,
	unix.SO_REUSEPORT: fastpath.SO_REUSEPORT,
	unix.SO_KEEPALIVE: fastpath.SO_KEEPALIVE,
	unix.SO_SNDBUF:    fastpath.SO_SNDBUF,
	unix.SO_RCVBUF:    fastpath.SO_RCVBUF,
}

var tcpOptions = map[int]int{
	unix.TCP_CORK: fastpath.TCP_NOPUSH,
}

// SocketOption maps a kernel socket option to the stack's. ok is false when
// the option has no equivalent.
func SocketOption(level, name int) (blevel, bname int, ok bool) {
	switch level {
	case unix.SOL_SOCKET:
		bname, ok = socketOptions[name]
		return fastpath.SOL_SOCKET, bname, ok
	case unix.IPPROTO_TCP:
		bname, ok = tcpOptions[name]
		return fastpath.IPPROTO_TCP, bname, ok
	default:
		return -1, -1, false
	}
}

// IoctlRequest maps a kernel I/O control request to the stack's.
func IoctlRequest(request uint) (uint, bool) {
	switch request {
	case sockets.FIONBIO:
		return fastpath.FIONBIO, true
	case sockets.FIONREAD:
		return fastpath.FIONREAD, true
	default:
		return 0, false
	}
}

var messageFlags = [...]struct{ kernel, backend int }{
	{unix.MSG_OOB, fastpath.MSG_OOB},
	{unix.MSG_PEEK, fastpath.MSG_PEEK},
	{unix.MSG_WAITALL, fastpath.MSG_WAITALL},
	{unix.MSG_DONTWAIT, fastpath.MSG_DONTWAIT},
	{unix.MSG_NOSIGNAL, fastpath.MSG_NOSIGNAL},
}

// MessageFlags maps the flags of send and recv to the stack's. Flags without
// an equivalent are dropped.
func MessageFlags(flags int) int {
	bflags := 0
	for _, f := range messageFlags {
		if flags&f.kernel != 0 {
			bflags |= f.backend
		}
	}
	return bflags
}
