// Package dispatch routes the intercepted socket calls between the host kernel
// and the fast-path stack.
//
// Descriptors created by the stack are tagged (see package fdtag) before they
// are handed to the application; every later call on a tagged descriptor is
// untagged, translated and forwarded to the stack, while untagged descriptors
// pass through to the kernel unchanged.
package dispatch

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jlijian3/nginx-ofp/internal/emulate"
	"github.com/jlijian3/nginx-ofp/internal/fastpath"
	"github.com/jlijian3/nginx-ofp/internal/fdtag"
	"github.com/jlijian3/nginx-ofp/internal/sockets"
	"github.com/jlijian3/nginx-ofp/internal/translate"
	"golang.org/x/sys/unix"
)

// Kernel is the passthrough backend. On top of the socket calls, it must give
// access to the files read by Sendfile.
type Kernel interface {
	sockets.API
	emulate.Source
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics sets the counters updated by the dispatcher.
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithPollInterval sets the pace at which Poll inspects the stack's
// descriptors while waiting for events.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Dispatcher) { d.pollInterval = interval }
}

// WithLogger sets the logger of the dispatcher.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

const defaultPollInterval = 100 * time.Microsecond

// Dispatcher implements sockets.API on top of a kernel and a fast-path stack.
//
// A dispatcher starts disarmed: socket creation is routed to the kernel until
// Arm is called, which is expected to happen once the stack is initialized.
// Calls on tagged descriptors are always routed to the stack.
type Dispatcher struct {
	kernel       Kernel
	backend      fastpath.Stack
	armed        atomic.Bool
	active       atomic.Int64
	metrics      *Metrics
	pollInterval time.Duration
	logger       *slog.Logger
}

// New constructs a dispatcher between kernel and backend.
func New(kernel Kernel, backend fastpath.Stack, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		kernel:       kernel,
		backend:      backend,
		pollInterval: defaultPollInterval,
		logger:       slog.Default(),
	}
	d.active.Store(-1)
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics == nil {
		d.metrics = NewMetrics()
	}
	return d
}

// Arm enables the creation of sockets on the fast-path stack.
func (d *Dispatcher) Arm() { d.armed.Store(true) }

// Disarm routes the creation of new sockets back to the kernel.
func (d *Dispatcher) Disarm() { d.armed.Store(false) }

// Armed reports whether sockets are created on the fast-path stack.
func (d *Dispatcher) Armed() bool { return d.armed.Load() }

// Active returns the first stack socket created by the dispatcher, or -1 if
// there is none or it was closed since.
func (d *Dispatcher) Active() int { return int(d.active.Load()) }

// Metrics returns the counters of the dispatcher.
func (d *Dispatcher) Metrics() *Metrics { return d.metrics }

var _ sockets.API = (*Dispatcher)(nil)

func (d *Dispatcher) Socket(domain, typ, proto int) (int, error) {
	btyp, nonblock, ok := translate.SocketType(typ)
	if !d.armed.Load() || domain != unix.AF_INET || !ok {
		fd, err := d.kernel.Socket(domain, typ, proto)
		d.metrics.record(callSocket, kernelRoute, err)
		return fd, err
	}
	fd, err := d.socket(btyp, proto, nonblock)
	d.metrics.record(callSocket, backendRoute, err)
	return fd, err
}

func (d *Dispatcher) socket(typ, proto int, nonblock bool) (int, error) {
	if typ == fastpath.SOCK_STREAM {
		proto = fastpath.IPPROTO_TCP
	} else {
		proto = translate.Protocol(proto)
	}

	fd, err := d.backend.Socket(fastpath.AF_INET, typ, proto)
	if err != nil {
		return -1, translate.Errno(err)
	}
	if !fdtag.Fits(fd) {
		d.logger.Warn("fast-path descriptor cannot be tagged", "fd", fd)
		_ = d.backend.Close(fd)
		return -1, unix.EMFILE
	}

	if nonblock {
		on := 1
		if err := d.backend.Ioctl(fd, fastpath.FIONBIO, &on); err != nil {
			_ = d.backend.Close(fd)
			return -1, translate.Errno(err)
		}
	}

	tagged := fdtag.Tag(fd)
	d.active.CompareAndSwap(-1, int64(tagged))
	return tagged, nil
}

func (d *Dispatcher) Bind(fd int, addr []byte) error {
	if !fdtag.IsTagged(fd) {
		err := d.kernel.Bind(fd, addr)
		d.metrics.record(callBind, kernelRoute, err)
		return err
	}
	sa := translate.BackendSockaddr(addr)
	err := translate.Errno(d.backend.Bind(fdtag.Untag(fd), &sa))
	d.metrics.record(callBind, backendRoute, err)
	return err
}

func (d *Dispatcher) Listen(fd, backlog int) error {
	if !fdtag.IsTagged(fd) {
		err := d.kernel.Listen(fd, backlog)
		d.metrics.record(callListen, kernelRoute, err)
		return err
	}
	err := translate.Errno(d.backend.Listen(fdtag.Untag(fd), backlog))
	d.metrics.record(callListen, backendRoute, err)
	return err
}

func (d *Dispatcher) Setsockopt(fd, level, name int, value []byte) error {
	if !fdtag.IsTagged(fd) {
		err := d.kernel.Setsockopt(fd, level, name, value)
		d.metrics.record(callSetsockopt, kernelRoute, err)
		return err
	}
	err := d.setsockopt(fdtag.Untag(fd), level, name, value)
	d.metrics.record(callSetsockopt, backendRoute, err)
	return err
}

func (d *Dispatcher) setsockopt(fd, level, name int, value []byte) error {
	blevel, bname, ok := translate.SocketOption(level, name)
	switch {
	case ok:
		return translate.Errno(d.backend.Setsockopt(fd, blevel, bname, value))
	case level == unix.IPPROTO_TCP:
		// TCP options other than TCP_CORK are accepted and ignored.
		return nil
	default:
		return unix.ENOPROTOOPT
	}
}

func (d *Dispatcher) Ioctl(fd int, request uint, arg *int) error {
	if !fdtag.IsTagged(fd) {
		err := d.kernel.Ioctl(fd, request, arg)
		d.metrics.record(callIoctl, kernelRoute, err)
		return err
	}
	err := d.ioctl(fdtag.Untag(fd), request, arg)
	d.metrics.record(callIoctl, backendRoute, err)
	return err
}

func (d *Dispatcher) ioctl(fd int, request uint, arg *int) error {
	brequest, ok := translate.IoctlRequest(request)
	if !ok {
		return nil
	}
	err := d.backend.Ioctl(fd, brequest, arg)
	if errors.Is(err, fastpath.EOPNOTSUPP) {
		return nil
	}
	return translate.Errno(err)
}

// Select routes the call on the tag bit of nfds: when set, the descriptors of
// the sets are stack descriptors and the stack is queried with a zero timeout,
// regardless of the timeout passed by the caller. Sets mixing kernel and stack
// descriptors cannot be expressed, Poll must be used instead.
func (d *Dispatcher) Select(nfds int, r, w, e *unix.FdSet, timeout *unix.Timeval) (int, error) {
	if !fdtag.IsTagged(nfds) {
		n, err := d.kernel.Select(nfds, r, w, e, timeout)
		d.metrics.record(callSelect, kernelRoute, err)
		return n, err
	}
	n, err := d.select_(fdtag.Untag(nfds), r, w, e)
	d.metrics.record(callSelect, backendRoute, err)
	return n, err
}

func (d *Dispatcher) select_(nfds int, r, w, e *unix.FdSet) (int, error) {
	br := translate.BackendFdSet(r, nfds)
	bw := translate.BackendFdSet(w, nfds)
	be := translate.BackendFdSet(e, nfds)

	n, err := d.backend.Select(nfds, br, bw, be, new(fastpath.Timeval))
	if err != nil {
		return -1, translate.Errno(err)
	}

	translate.KernelFdSet(r, br, nfds)
	translate.KernelFdSet(w, bw, nfds)
	translate.KernelFdSet(e, be, nfds)
	return n, nil
}

func (d *Dispatcher) Accept(fd int, addr []byte) (int, int, error) {
	if !fdtag.IsTagged(fd) {
		nfd, addrlen, err := d.kernel.Accept(fd, addr)
		d.metrics.record(callAccept, kernelRoute, err)
		return nfd, addrlen, err
	}
	nfd, addrlen, err := d.accept(fdtag.Untag(fd), addr)
	d.metrics.record(callAccept, backendRoute, err)
	return nfd, addrlen, err
}

func (d *Dispatcher) accept(fd int, addr []byte) (int, int, error) {
	sa := translate.BackendSockaddr(addr)

	nfd, err := d.backend.Accept(fd, &sa)
	if err != nil {
		return -1, 0, translate.Errno(err)
	}
	if !fdtag.Fits(nfd) {
		d.logger.Warn("fast-path descriptor cannot be tagged", "fd", nfd)
		_ = d.backend.Close(nfd)
		return -1, 0, unix.EMFILE
	}
	if len(addr) == 0 {
		return fdtag.Tag(nfd), 0, nil
	}
	return fdtag.Tag(nfd), translate.KernelSockaddr(addr, &sa), nil
}

func (d *Dispatcher) Close(fd int) error {
	if !fdtag.IsTagged(fd) {
		err := d.kernel.Close(fd)
		d.metrics.record(callClose, kernelRoute, err)
		return err
	}
	d.active.CompareAndSwap(int64(fd), -1)
	err := translate.Errno(d.backend.Close(fdtag.Untag(fd)))
	d.metrics.record(callClose, backendRoute, err)
	return err
}

func (d *Dispatcher) Recv(fd int, b []byte, flags int) (int, error) {
	if !fdtag.IsTagged(fd) {
		n, err := d.kernel.Recv(fd, b, flags)
		d.metrics.record(callRecv, kernelRoute, err)
		return n, err
	}
	n, err := d.backend.Recv(fdtag.Untag(fd), b, translate.MessageFlags(flags))
	if err != nil {
		n, err = -1, translate.Errno(err)
	}
	d.metrics.record(callRecv, backendRoute, err)
	return n, err
}

func (d *Dispatcher) Send(fd int, b []byte, flags int) (int, error) {
	if !fdtag.IsTagged(fd) {
		n, err := d.kernel.Send(fd, b, flags)
		d.metrics.record(callSend, kernelRoute, err)
		return n, err
	}
	n, err := d.backend.Send(fdtag.Untag(fd), b, translate.MessageFlags(flags))
	if err != nil {
		n, err = -1, translate.Errno(err)
	}
	d.metrics.record(callSend, backendRoute, err)
	return n, err
}

func (d *Dispatcher) Writev(fd int, iovs [][]byte) (int, error) {
	if !fdtag.IsTagged(fd) {
		n, err := d.kernel.Writev(fd, iovs)
		d.metrics.record(callWritev, kernelRoute, err)
		return n, err
	}
	n, err := emulate.Writev(d.backend, fdtag.Untag(fd), iovs)
	d.metrics.record(callWritev, backendRoute, err)
	return n, err
}

// Sendfile copies from the kernel file infd to outfd. Stack descriptors are
// not files and are rejected as input.
func (d *Dispatcher) Sendfile(outfd, infd int, offset *int64, count int) (int, error) {
	if !fdtag.IsTagged(outfd) {
		n, err := d.kernel.Sendfile(outfd, infd, offset, count)
		d.metrics.record(callSendfile, kernelRoute, err)
		return n, err
	}
	var n int
	var err error
	if fdtag.IsTagged(infd) {
		n, err = -1, unix.EINVAL
	} else {
		n, err = emulate.Sendfile(d.backend, d.kernel, fdtag.Untag(outfd), infd, offset, count)
	}
	d.metrics.record(callSendfile, backendRoute, err)
	return n, err
}
