// Package debug contains tools to observe the calls flowing through a socket
// backend.
package debug

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/jlijian3/nginx-ofp/internal/fdtag"
	"github.com/jlijian3/nginx-ofp/internal/sockaddr"
	"github.com/jlijian3/nginx-ofp/internal/sockets"
	"golang.org/x/sys/unix"
)

// Tracer is a sockets.API printing each call and its result to a writer.
//
// The call is printed before it is forwarded, the result after it returns, so
// the output of blocking calls made by concurrent goroutines may interleave.
type Tracer struct {
	api    sockets.API
	mutex  sync.Mutex
	writer io.Writer

	enableTimestamps   bool
	relativeTimestamps bool

	previousTime time.Time
}

// NewTracer creates a Tracer forwarding calls to api.
func NewTracer(api sockets.API, writer io.Writer) *Tracer {
	return &Tracer{api: api, writer: writer}
}

var _ sockets.API = (*Tracer)(nil)

// EnableTimestamps prefixes each line with the time it was printed at, in
// nanoseconds since the epoch.
func (t *Tracer) EnableTimestamps(enable bool) {
	t.enableTimestamps = enable
}

// RelativeTimestamps prints the time elapsed since the previous line instead
// of the absolute time, when timestamps are enabled.
func (t *Tracer) RelativeTimestamps(enable bool) {
	t.relativeTimestamps = enable
}

func (t *Tracer) Socket(domain, typ, proto int) (int, error) {
	t.before(sockets.Socket, domain, typ, proto)
	fd, err := t.api.Socket(domain, typ, proto)
	t.after(sockets.Socket, err, fd)
	return fd, err
}

func (t *Tracer) Bind(fd int, addr []byte) error {
	t.before(sockets.Bind, fd, address(addr))
	err := t.api.Bind(fd, addr)
	t.after(sockets.Bind, err)
	return err
}

func (t *Tracer) Listen(fd, backlog int) error {
	t.before(sockets.Listen, fd, backlog)
	err := t.api.Listen(fd, backlog)
	t.after(sockets.Listen, err)
	return err
}

func (t *Tracer) Setsockopt(fd, level, name int, value []byte) error {
	t.before(sockets.Setsockopt, fd, level, name, bytesArg(value))
	err := t.api.Setsockopt(fd, level, name, value)
	t.after(sockets.Setsockopt, err)
	return err
}

func (t *Tracer) Ioctl(fd int, request uint, arg *int) error {
	t.before(sockets.Ioctl, fd, hex(request), intPtr(arg))
	err := t.api.Ioctl(fd, request, arg)
	t.after(sockets.Ioctl, err, intPtr(arg))
	return err
}

func (t *Tracer) Select(nfds int, r, w, e *unix.FdSet, timeout *unix.Timeval) (int, error) {
	fds := nfds
	if fdtag.IsTagged(nfds) {
		fds = fdtag.Untag(nfds)
	}
	t.before(sockets.Select, nfds, fdSet(r, fds), fdSet(w, fds), fdSet(e, fds), timevalArg{timeout})
	n, err := t.api.Select(nfds, r, w, e, timeout)
	t.after(sockets.Select, err, n)
	return n, err
}

func (t *Tracer) Poll(fds []unix.PollFd, timeout int) (int, error) {
	t.before(sockets.Poll, pollArg(fds), timeout)
	n, err := t.api.Poll(fds, timeout)
	t.after(sockets.Poll, err, n, pollArg(fds))
	return n, err
}

func (t *Tracer) Accept(fd int, addr []byte) (int, int, error) {
	t.before(sockets.Accept, fd)
	nfd, addrlen, err := t.api.Accept(fd, addr)
	if err != nil {
		t.after(sockets.Accept, err)
	} else {
		t.after(sockets.Accept, nil, nfd, address(addr))
	}
	return nfd, addrlen, err
}

func (t *Tracer) Close(fd int) error {
	t.before(sockets.Close, fd)
	err := t.api.Close(fd)
	t.after(sockets.Close, err)
	return err
}

func (t *Tracer) Recv(fd int, b []byte, flags int) (int, error) {
	t.before(sockets.Recv, fd, len(b), hex(flags))
	n, err := t.api.Recv(fd, b, flags)
	t.after(sockets.Recv, err, n)
	return n, err
}

func (t *Tracer) Send(fd int, b []byte, flags int) (int, error) {
	t.before(sockets.Send, fd, bytesArg(b), hex(flags))
	n, err := t.api.Send(fd, b, flags)
	t.after(sockets.Send, err, n)
	return n, err
}

func (t *Tracer) Sendfile(outfd, infd int, off *int64, count int) (int, error) {
	t.before(sockets.Sendfile, outfd, infd, offset(off), count)
	n, err := t.api.Sendfile(outfd, infd, off, count)
	t.after(sockets.Sendfile, err, n, offset(off))
	return n, err
}

func (t *Tracer) Writev(fd int, iovs [][]byte) (int, error) {
	t.before(sockets.Writev, fd, iovecArg(iovs))
	n, err := t.api.Writev(fd, iovs)
	t.after(sockets.Writev, err, n)
	return n, err
}

func (t *Tracer) before(call string, params ...any) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.printLine(func() {
		t.print(color.BlackString("→ "))
		t.print(color.MagentaString(call))
		t.print("(")
		for i, param := range params {
			if i > 0 {
				t.print(", ")
			}
			t.printf("%v", param)
		}
		t.print(")")
	})
	t.previousTime = time.Now()
}

func (t *Tracer) after(call string, err error, results ...any) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.printLine(func() {
		t.print(color.BlackString("← "))
		t.print(call)
		t.print(color.HiBlackString(" => "))
		var errno unix.Errno
		switch {
		case err == nil:
			for i, result := range results {
				if i > 0 {
					t.print(" ")
				}
				t.printf("%v", result)
			}
			if len(results) == 0 {
				t.print(color.GreenString("OK"))
			}
		case errors.As(err, &errno) && errno == unix.EAGAIN:
			t.print(color.YellowString("EAGAIN"))
		case errors.As(err, &errno):
			t.print(color.HiRedString(errnoName(errno)))
		default:
			t.print(color.HiRedString(err.Error()))
		}
	})
	t.previousTime = time.Now()
}

func errnoName(errno unix.Errno) string {
	if name := unix.ErrnoName(errno); name != "" {
		return name
	}
	return fmt.Sprintf("errno(%d)", int(errno))
}

func (t *Tracer) printLine(fn func()) {
	t.printPrefix()
	fn()
	t.print("\n")
}

func (t *Tracer) printPrefix() {
	if !t.enableTimestamps {
		return
	}
	switch {
	case t.relativeTimestamps && t.previousTime == time.Time{}:
		t.printf("%6s ", "")
	case t.relativeTimestamps:
		elapsed := time.Since(t.previousTime)
		switch {
		case elapsed < time.Microsecond:
			t.print(color.HiBlackString("%+ 4dns ", elapsed))
		case elapsed < time.Millisecond:
			t.print(color.HiBlackString("%+ 4dµs ", elapsed/time.Microsecond))
		case elapsed < time.Second:
			t.print(color.YellowString("%+ 4dms ", elapsed/time.Millisecond))
		default:
			t.print(color.RedString("%+ 4ds  ", elapsed/time.Second))
		}
	default:
		t.print(color.HiBlackString("%d ", time.Now().UnixNano()))
	}
}

func (t *Tracer) printf(s string, args ...any) {
	_, _ = fmt.Fprintf(t.writer, s, args...)
}

func (t *Tracer) print(args ...any) {
	_, _ = fmt.Fprint(t.writer, args...)
}

type address []byte

func (a address) String() string {
	if addrPort, err := sockaddr.AddrPort(a); err == nil {
		return addrPort.String()
	}
	if len(a) == 0 {
		return "NULL"
	}
	return fmt.Sprintf("sockaddr{family=%d, len=%d}", sockaddr.Family(a), len(a))
}

type bytesArg []byte

func (b bytesArg) String() string {
	const limit = 16
	if b == nil {
		return "NULL"
	}
	if len(b) <= limit {
		return fmt.Sprintf("%q", []byte(b))
	}
	return fmt.Sprintf("%q... (%d bytes)", []byte(b[:limit]), len(b))
}

type hexArg uint64

func hex[T ~int | ~uint](v T) hexArg { return hexArg(v) }

func (h hexArg) String() string { return fmt.Sprintf("%#x", uint64(h)) }

type intPtrArg struct{ p *int }

func intPtr(p *int) intPtrArg { return intPtrArg{p} }

func (a intPtrArg) String() string {
	if a.p == nil {
		return "NULL"
	}
	return fmt.Sprintf("[%d]", *a.p)
}

type offsetArg struct{ p *int64 }

func offset(p *int64) offsetArg { return offsetArg{p} }

func (a offsetArg) String() string {
	if a.p == nil {
		return "NULL"
	}
	return fmt.Sprintf("[%d]", *a.p)
}

type fdSetArg struct {
	set  *unix.FdSet
	nfds int
}

func fdSet(set *unix.FdSet, nfds int) fdSetArg { return fdSetArg{set, nfds} }

func (a fdSetArg) String() string {
	if a.set == nil {
		return "NULL"
	}
	nfds := a.nfds
	if nfds > unix.FD_SETSIZE || nfds < 0 {
		nfds = unix.FD_SETSIZE
	}
	var b strings.Builder
	b.WriteByte('{')
	for fd, n := 0, 0; fd < nfds; fd++ {
		if a.set.IsSet(fd) {
			if n > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%d", fd)
			n++
		}
	}
	b.WriteByte('}')
	return b.String()
}

type timevalArg struct{ tv *unix.Timeval }

func (a timevalArg) String() string {
	if a.tv == nil {
		return "NULL"
	}
	return (time.Duration(a.tv.Sec)*time.Second + time.Duration(a.tv.Usec)*time.Microsecond).String()
}

type pollArg []unix.PollFd

func (p pollArg) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, fd := range p {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "{%d %#x %#x}", fd.Fd, fd.Events, fd.Revents)
	}
	b.WriteByte(']')
	return b.String()
}

type iovecArg [][]byte

func (iovs iovecArg) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, iov := range iovs {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%d", len(iov))
	}
	b.WriteByte(']')
	return b.String()
}
