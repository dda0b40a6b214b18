// Package fastpath declares the call surface of the userspace fast-path
// TCP/IP stack: its constants, structures, error domain, and the interfaces
// implemented by stack backends.
//
// The values declared here follow the BSD conventions of the stack and must
// never be passed to the host kernel directly.
package fastpath

import "context"

// Address and protocol families.
const (
	AF_UNSPEC = 0
	AF_INET   = 2
)

// Socket types.
const (
	SOCK_STREAM = 1
	SOCK_DGRAM  = 2
)

// Protocols.
const (
	IPPROTO_IP  = 0
	IPPROTO_TCP = 6
	IPPROTO_UDP = 17
)

// Socket level options.
const (
	SOL_SOCKET   = 0xffff
	SO_REUSEADDR = 0x0004
	SO_KEEPALIVE = 0x0008
	SO_REUSEPORT = 0x0200
	SO_SNDBUF    = 0x1001
	SO_RCVBUF    = 0x1002
)

// TCP level options.
const (
	TCP_NODELAY = 1
	TCP_NOPUSH  = 4
)

// Message flags.
const (
	MSG_OOB      = 0x1
	MSG_PEEK     = 0x2
	MSG_WAITALL  = 0x40
	MSG_DONTWAIT = 0x80
	MSG_NOSIGNAL = 0x20000
)

// I/O control requests.
const (
	FIONREAD = 0x4004667f
	FIONBIO  = 0x8004667e
)

// SOMAXCONN is the upper bound of listen backlogs.
const SOMAXCONN = 128

// Stack is the socket call surface of a fast-path stack.
//
// Descriptors are allocated by the stack in its own namespace. Methods return
// errors of type Errno.
type Stack interface {
	Socket(domain, typ, proto int) (int, error)
	Bind(fd int, addr *Sockaddr) error
	Listen(fd, backlog int) error
	// Accept fills addr with the address of the peer when it is not nil.
	Accept(fd int, addr *Sockaddr) (int, error)
	Setsockopt(fd, level, name int, value []byte) error
	// Ioctl exchanges an integer argument with the stack, which is how both
	// FIONBIO and FIONREAD are defined.
	Ioctl(fd int, request uint, arg *int) error
	// Select updates the sets in place to retain only the ready descriptors
	// and returns how many bits remain set across all of them.
	Select(nfds int, r, w, e *FdSet, timeout *Timeval) (int, error)
	Send(fd int, b []byte, flags int) (int, error)
	Recv(fd int, b []byte, flags int) (int, error)
	Close(fd int) error
}

// GlobalParams configures the process wide initialization of the stack.
type GlobalParams struct {
	// Interfaces names the packet I/O devices the stack will use.
	Interfaces []string
	// Workers is the number of worker threads driving the stack.
	Workers int
}

// PktioParams configures the queues of a packet I/O interface.
type PktioParams struct {
	RxQueues int
	TxQueues int
}

// Runtime is the bootstrap surface of a fast-path stack.
type Runtime interface {
	InitGlobal(ctx context.Context, params GlobalParams) error
	InitLocal(ctx context.Context) error
	IfnetCreate(ctx context.Context, name string, params PktioParams) error
}

// Backend combines the bootstrap and socket surfaces.
type Backend interface {
	Runtime
	Stack
}
