// Package sockets declares the POSIX socket call surface that is intercepted
// and dispatched between the host kernel and the fast-path stack.
package sockets

import "golang.org/x/sys/unix"

// Host kernel values that golang.org/x/sys/unix does not export on Linux.
const (
	FIONBIO  = 0x5421
	FIONREAD = 0x541B

	POLLRDNORM = 0x40
	POLLWRNORM = 0x100
)

// API is implemented by the backends of the intercepted call surface.
//
// Descriptors and errors are expressed in the host kernel's namespace: errors
// are unix.Errno values, and methods returning an integer return -1 when they
// fail. Addresses are raw images in the host kernel's struct sockaddr layout.
type API interface {
	Socket(domain, typ, proto int) (int, error)
	Bind(fd int, addr []byte) error
	Listen(fd, backlog int) error
	Setsockopt(fd, level, name int, value []byte) error
	// Ioctl exchanges an integer argument with the backend.
	Ioctl(fd int, request uint, arg *int) error
	Select(nfds int, r, w, e *unix.FdSet, timeout *unix.Timeval) (int, error)
	// Poll waits for events on a set of descriptors, the timeout is expressed
	// in milliseconds and a negative value blocks indefinitely.
	Poll(fds []unix.PollFd, timeout int) (int, error)
	// Accept writes the address of the peer to addr (truncated to its length)
	// and returns the size of the full address, or zero when addr is empty.
	Accept(fd int, addr []byte) (nfd, addrlen int, err error)
	Close(fd int) error
	Recv(fd int, b []byte, flags int) (int, error)
	Send(fd int, b []byte, flags int) (int, error)
	Sendfile(outfd, infd int, offset *int64, count int) (int, error)
	Writev(fd int, iovs [][]byte) (int, error)
}

// Name of the calls of the API, in the order they are declared.
const (
	Socket     = "socket"
	Bind       = "bind"
	Listen     = "listen"
	Setsockopt = "setsockopt"
	Ioctl      = "ioctl"
	Select     = "select"
	Poll       = "poll"
	Accept     = "accept"
	Close      = "close"
	Recv       = "recv"
	Send       = "send"
	Sendfile   = "sendfile"
	Writev     = "writev"
)

// Calls lists the names of all the calls of the API.
var Calls = [...]string{
	Socket,
	Bind,
	Listen,
	Setsockopt,
	Ioctl,
	Select,
	Poll,
	Accept,
	Close,
	Recv,
	Send,
	Sendfile,
	Writev,
}
