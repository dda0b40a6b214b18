package chaos

import (
	"github.com/jlijian3/nginx-ofp/internal/sockets"
	"golang.org/x/sys/unix"
)

// WouldBlock wraps the base API to return one that fails the calls of
// non-blocking programs as if they had nothing to do: data transfers and
// accepts return EAGAIN, and waiting for events is interrupted with EINTR.
//
// Unlike Error, the base API is not invoked, the calls can be retried as if
// they never happened.
func WouldBlock(base sockets.API) sockets.API {
	return &wouldBlockAPI{API: base}
}

type wouldBlockAPI struct {
	sockets.API
}

func (s *wouldBlockAPI) Select(nfds int, r, w, e *unix.FdSet, timeout *unix.Timeval) (int, error) {
	return -1, unix.EINTR
}

func (s *wouldBlockAPI) Poll(fds []unix.PollFd, timeout int) (int, error) {
	return -1, unix.EINTR
}

func (s *wouldBlockAPI) Accept(fd int, addr []byte) (int, int, error) {
	return -1, 0, unix.EAGAIN
}

func (s *wouldBlockAPI) Recv(fd int, b []byte, flags int) (int, error) {
	return -1, unix.EAGAIN
}

func (s *wouldBlockAPI) Send(fd int, b []byte, flags int) (int, error) {
	return -1, unix.EAGAIN
}

func (s *wouldBlockAPI) Sendfile(outfd, infd int, offset *int64, count int) (int, error) {
	return -1, unix.EAGAIN
}

func (s *wouldBlockAPI) Writev(fd int, iovs [][]byte) (int, error) {
	return -1, unix.EAGAIN
}
