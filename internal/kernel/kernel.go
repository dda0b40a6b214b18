// Package kernel exposes the host kernel implementations of the intercepted
// socket calls.
//
// Entry points are resolved by name from a symbol table exactly once, before
// any call is dispatched. Every entry must resolve for initialization to
// succeed; a partially resolved table is never returned.
package kernel

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jlijian3/nginx-ofp/internal/sockaddr"
	"github.com/jlijian3/nginx-ofp/internal/sockets"
	"golang.org/x/sys/unix"
)

var (
	// ErrMissing is returned by Resolve when an entry is absent from the
	// symbol table.
	ErrMissing = errors.New("symbol not found")
	// ErrMismatch is returned by Resolve when an entry of the symbol table
	// does not have the expected signature.
	ErrMismatch = errors.New("symbol has the wrong type")
)

// Names lists the entry points that Resolve looks up.
var Names = [...]string{
	"socket",
	"bind",
	"listen",
	"setsockopt",
	"ioctl",
	"select",
	"poll",
	"accept",
	"close",
	"recv",
	"send",
	"sendfile",
	"writev",
	"read",
	"lseek",
}

// Entries holds the original implementations of the intercepted calls.
//
// The value is immutable once returned by Resolve and safe to use from
// concurrent goroutines.
type Entries struct {
	socket     func(int, int, int) (int, error)
	bind       func(int, unix.Sockaddr) error
	listen     func(int, int) error
	setsockopt func(int, int, int, string) error
	ioctl      func(int, uint, *int) error
	select_    func(int, *unix.FdSet, *unix.FdSet, *unix.FdSet, *unix.Timeval) (int, error)
	poll       func([]unix.PollFd, int) (int, error)
	accept     func(int) (int, unix.Sockaddr, error)
	close      func(int) error
	recv       func(int, []byte, int) (int, unix.Sockaddr, error)
	send       func(int, []byte, []byte, unix.Sockaddr, int) (int, error)
	sendfile   func(int, int, *int64, int) (int, error)
	writev     func(int, [][]byte) (int, error)
	read       func(int, []byte) (int, error)
	lseek      func(int, int64, int) (int64, error)
}

// Resolve looks up every entry point in symbols. All the missing or mistyped
// entries are reported in the returned error.
func Resolve(symbols map[string]any) (*Entries, error) {
	e := new(Entries)
	err := errors.Join(
		lookup(symbols, "socket", &e.socket),
		lookup(symbols, "bind", &e.bind),
		lookup(symbols, "listen", &e.listen),
		lookup(symbols, "setsockopt", &e.setsockopt),
		lookup(symbols, "ioctl", &e.ioctl),
		lookup(symbols, "select", &e.select_),
		lookup(symbols, "poll", &e.poll),
		lookup(symbols, "accept", &e.accept),
		lookup(symbols, "close", &e.close),
		lookup(symbols, "recv", &e.recv),
		lookup(symbols, "send", &e.send),
		lookup(symbols, "sendfile", &e.sendfile),
		lookup(symbols, "writev", &e.writev),
		lookup(symbols, "read", &e.read),
		lookup(symbols, "lseek", &e.lseek),
	)
	if err != nil {
		return nil, fmt.Errorf("resolving kernel entry points: %w", err)
	}
	return e, nil
}

func lookup[F any](symbols map[string]any, name string, entry *F) error {
	sym, ok := symbols[name]
	if !ok || sym == nil {
		return fmt.Errorf("%s: %w", name, ErrMissing)
	}
	f, ok := sym.(F)
	if !ok {
		return fmt.Errorf("%s: %w: %T", name, ErrMismatch, sym)
	}
	*entry = f
	return nil
}

var (
	defaultOnce    sync.Once
	defaultEntries *Entries
	defaultError   error
)

// Default returns the entries resolved from the symbol table of the host.
// Resolution happens on the first call only.
func Default() (*Entries, error) {
	defaultOnce.Do(func() {
		defaultEntries, defaultError = Resolve(Symbols())
	})
	return defaultEntries, defaultError
}

var _ sockets.API = (*Entries)(nil)

func (e *Entries) Socket(domain, typ, proto int) (int, error) {
	fd, err := e.socket(domain, typ, proto)
	if err != nil {
		return -1, err
	}
	return fd, nil
}

func (e *Entries) Bind(fd int, addr []byte) error {
	sa, err := sockaddr.Decode(addr)
	if err != nil {
		return err
	}
	return e.bind(fd, sa)
}

func (e *Entries) Listen(fd, backlog int) error {
	return e.listen(fd, backlog)
}

func (e *Entries) Setsockopt(fd, level, name int, value []byte) error {
	return e.setsockopt(fd, level, name, string(value))
}

func (e *Entries) Ioctl(fd int, request uint, arg *int) error {
	return e.ioctl(fd, request, arg)
}

func (e *Entries) Select(nfds int, r, w, x *unix.FdSet, timeout *unix.Timeval) (int, error) {
	n, err := e.select_(nfds, r, w, x, timeout)
	if err != nil {
		return -1, err
	}
	return n, nil
}

func (e *Entries) Poll(fds []unix.PollFd, timeout int) (int, error) {
	n, err := e.poll(fds, timeout)
	if err != nil {
		return -1, err
	}
	return n, nil
}

func (e *Entries) Accept(fd int, addr []byte) (int, int, error) {
	nfd, sa, err := e.accept(fd)
	if err != nil {
		return -1, 0, err
	}
	if len(addr) == 0 {
		return nfd, 0, nil
	}
	return nfd, sockaddr.Encode(addr, sa), nil
}

func (e *Entries) Close(fd int) error {
	return e.close(fd)
}

func (e *Entries) Recv(fd int, b []byte, flags int) (int, error) {
	n, _, err := e.recv(fd, b, flags)
	if err != nil {
		return -1, err
	}
	return n, nil
}

func (e *Entries) Send(fd int, b []byte, flags int) (int, error) {
	n, err := e.send(fd, b, nil, nil, flags)
	if err != nil {
		return -1, err
	}
	return n, nil
}

func (e *Entries) Sendfile(outfd, infd int, offset *int64, count int) (int, error) {
	n, err := e.sendfile(outfd, infd, offset, count)
	if err != nil {
		return -1, err
	}
	return n, nil
}

func (e *Entries) Writev(fd int, iovs [][]byte) (int, error) {
	n, err := e.writev(fd, iovs)
	if err != nil {
		return -1, err
	}
	return n, nil
}

// Read reads from a kernel descriptor.
func (e *Entries) Read(fd int, b []byte) (int, error) {
	n, err := e.read(fd, b)
	if err != nil {
		return -1, err
	}
	return n, nil
}

// Seek repositions the offset of a kernel descriptor.
func (e *Entries) Seek(fd int, offset int64, whence int) (int64, error) {
	off, err := e.lseek(fd, offset, whence)
	if err != nil {
		return -1, err
	}
	return off, nil
}
