package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/jlijian3/nginx-ofp/internal/fastpath"
	"github.com/jlijian3/nginx-ofp/internal/fdtag"
	"github.com/jlijian3/nginx-ofp/internal/sockets"
	"github.com/jlijian3/nginx-ofp/internal/translate"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"
)

const (
	pollRead  = unix.POLLIN | unix.POLLPRI | sockets.POLLRDNORM
	pollWrite = unix.POLLOUT | sockets.POLLWRNORM
)

// Poll inspects each descriptor of fds and routes it to its owner. When all
// the descriptors belong to the kernel, the call is passed through. Otherwise
// both the kernel and the stack are queried without blocking, repeatedly,
// until an event is reported or the timeout expires.
func (d *Dispatcher) Poll(fds []unix.PollFd, timeout int) (int, error) {
	if !hasTaggedDescriptors(fds) {
		n, err := d.kernel.Poll(fds, timeout)
		d.metrics.record(callPoll, kernelRoute, err)
		return n, err
	}

	ctx := context.Background()
	if timeout >= 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeout)*time.Millisecond)
		defer cancel()
	}

	n, err := d.poll(ctx, fds, timeout == 0)
	d.metrics.record(callPoll, backendRoute, err)
	return n, err
}

func hasTaggedDescriptors(fds []unix.PollFd) bool {
	for i := range fds {
		if fdtag.IsTagged(int(fds[i].Fd)) {
			return true
		}
	}
	return false
}

func (d *Dispatcher) poll(ctx context.Context, fds []unix.PollFd, once bool) (int, error) {
	p := poller{dispatcher: d, fds: fds}
	for i := range fds {
		if fdtag.IsTagged(int(fds[i].Fd)) {
			p.backend = append(p.backend, i)
		} else {
			p.kernel = append(p.kernel, fds[i])
			p.kernelIndex = append(p.kernelIndex, i)
		}
	}

	limiter := rate.NewLimiter(rate.Every(d.pollInterval), 1)
	for {
		n, err := p.poll()
		if err != nil || n > 0 || once {
			return n, err
		}
		if err := limiter.Wait(ctx); err != nil {
			// The deadline expired or would expire before the next pass.
			return p.poll()
		}
	}
}

type poller struct {
	dispatcher  *Dispatcher
	fds         []unix.PollFd
	kernel      []unix.PollFd
	kernelIndex []int
	backend     []int
}

func (p *poller) poll() (int, error) {
	for i := range p.fds {
		p.fds[i].Revents = 0
	}

	if len(p.kernel) > 0 {
		if _, err := p.dispatcher.kernel.Poll(p.kernel, 0); err != nil {
			return -1, err
		}
		for i, j := range p.kernelIndex {
			p.fds[j].Revents = p.kernel[i].Revents
		}
	}

	if err := p.pollBackend(); err != nil {
		return -1, err
	}

	n := 0
	for i := range p.fds {
		if p.fds[i].Revents != 0 {
			n++
		}
	}
	return n, nil
}

func (p *poller) pollBackend() error {
	var r, w, e fastpath.FdSet
	var nfds int

	for _, i := range p.backend {
		pfd := &p.fds[i]
		fd := fdtag.Untag(int(pfd.Fd))
		if fd >= fastpath.FD_SETSIZE {
			pfd.Revents = unix.POLLNVAL
			continue
		}
		addToSets(pfd, fd, &r, &w, &e)
		nfds = max(nfds, fd+1)
	}
	if nfds == 0 {
		return nil
	}

	_, err := p.dispatcher.backend.Select(nfds, &r, &w, &e, new(fastpath.Timeval))
	switch {
	case err == nil:
		for _, i := range p.backend {
			pfd := &p.fds[i]
			if pfd.Revents == 0 {
				pfd.Revents = readyEvents(pfd, fdtag.Untag(int(pfd.Fd)), &r, &w)
			}
		}
		return nil
	case errors.Is(err, fastpath.EBADF):
		return p.pollBackendEach()
	default:
		return translate.Errno(err)
	}
}

// pollBackendEach queries the stack one descriptor at a time, which isolates
// the descriptors that are not open.
func (p *poller) pollBackendEach() error {
	for _, i := range p.backend {
		pfd := &p.fds[i]
		if pfd.Revents != 0 {
			continue
		}

		var r, w, e fastpath.FdSet
		fd := fdtag.Untag(int(pfd.Fd))
		addToSets(pfd, fd, &r, &w, &e)

		_, err := p.dispatcher.backend.Select(fd+1, &r, &w, &e, new(fastpath.Timeval))
		switch {
		case err == nil:
			pfd.Revents = readyEvents(pfd, fd, &r, &w)
		case errors.Is(err, fastpath.EBADF):
			pfd.Revents = unix.POLLNVAL
		default:
			return translate.Errno(err)
		}
	}
	return nil
}

func addToSets(pfd *unix.PollFd, fd int, r, w, e *fastpath.FdSet) {
	if pfd.Events&pollRead != 0 {
		r.Set(fd)
	}
	if pfd.Events&pollWrite != 0 {
		w.Set(fd)
	}
	// Always present in one set so closed descriptors are detected.
	e.Set(fd)
}

func readyEvents(pfd *unix.PollFd, fd int, r, w *fastpath.FdSet) int16 {
	var revents int16
	if r.IsSet(fd) {
		revents |= pfd.Events & (unix.POLLIN | sockets.POLLRDNORM)
	}
	if w.IsSet(fd) {
		revents |= pfd.Events & pollWrite
	}
	return revents
}
