// Package translate converts the structures, constants and errors of the host
// kernel's socket surface to and from those of the fast-path stack.
//
// Translation only happens on calls routed to the stack; values on the kernel
// path are passed through untouched.
package translate

import (
	"encoding/binary"
	"errors"

	"github.com/jlijian3/nginx-ofp/internal/fastpath"
	"golang.org/x/sys/unix"
)

// BackendSockaddr converts the binary image of a kernel socket address to the
// stack's layout.
//
// The conversion is a byte copy of the fixed size structure followed by a
// length correction: the kernel's 16 bit family overlays the length and
// family bytes of the stack's layout, so the length is forced back to
// SizeofSockaddr. On little-endian hosts this leaves the family byte to zero,
// which the stack accepts as AF_INET. Short images are zero padded.
func BackendSockaddr(b []byte) fastpath.Sockaddr {
	var sa fastpath.Sockaddr
	if len(b) > 0 {
		sa.Len = b[0]
	}
	if len(b) > 1 {
		sa.Family = b[1]
	}
	if len(b) > 2 {
		copy(sa.Data[:], b[2:])
	}
	if sa.Len != fastpath.SizeofSockaddr {
		sa.Len = fastpath.SizeofSockaddr
	}
	return sa
}

// KernelSockaddr writes the kernel image of a stack socket address to dst and
// returns the size of the full image. The family is always set to AF_INET
// since it is the only family routed to the stack.
func KernelSockaddr(dst []byte, sa *fastpath.Sockaddr) int {
	var buf [fastpath.SizeofSockaddr]byte
	binary.NativeEndian.PutUint16(buf[0:2], unix.AF_INET)
	copy(buf[2:], sa.Data[:])
	copy(dst, buf[:])
	return len(buf)
}

// Errno converts an error returned by the stack to the host's error domain.
// Errors that are not from the stack are returned unchanged.
func Errno(err error) error {
	var errno fastpath.Errno
	if errors.As(err, &errno) {
		return errno.Syscall()
	}
	return err
}

// WouldBlock is like Errno, but also reports the additional stack errors as
// EAGAIN, since the condition they express is transient.
func WouldBlock(err error, transient ...fastpath.Errno) error {
	var errno fastpath.Errno
	if errors.As(err, &errno) {
		if errno == fastpath.EAGAIN {
			return unix.EAGAIN
		}
		for _, e := range transient {
			if errno == e {
				return unix.EAGAIN
			}
		}
		return errno.Syscall()
	}
	return err
}

// BackendFdSet copies the first nfds bits of the kernel descriptor set src to
// dst. A nil src yields a nil set.
func BackendFdSet(src *unix.FdSet, nfds int) *fastpath.FdSet {
	if src == nil {
		return nil
	}
	dst := new(fastpath.FdSet)
	for fd := 0; fd < nfds && fd < fastpath.FD_SETSIZE; fd++ {
		if src.IsSet(fd) {
			dst.Set(fd)
		}
	}
	return dst
}

// KernelFdSet copies the first nfds bits of the stack descriptor set src back
// to dst, clearing the bits of descriptors that are not ready.
func KernelFdSet(dst *unix.FdSet, src *fastpath.FdSet, nfds int) {
	if dst == nil || src == nil {
		return
	}
	for fd := 0; fd < nfds && fd < fastpath.FD_SETSIZE; fd++ {
		if src.IsSet(fd) {
			dst.Set(fd)
		} else {
			dst.Clear(fd)
		}
	}
}
