package chaos

import (
	"github.com/jlijian3/nginx-ofp/internal/sockets"
	"golang.org/x/sys/unix"
)

// Error wraps the base API to return one that errors on the calls transferring
// data or creating sockets.
//
// The error returned varies depending on the method, most return ECONNRESET,
// ENOBUFS, or ECONNABORTED.
//
// Invocations of methods always first call the corresponding method of the
// base API so that argument validation is performed before generating errors.
// This is done so that we don't produce impossible errors such as ECONNRESET
// on an invalid descriptor. Note that it means the program cannot assume that
// an operation did not happen when it gets an error from this API, descriptors
// created by the base API are closed before the error is returned.
//
// Errors are not injected in the calls configuring sockets or waiting for
// events, which would mostly prevent servers from starting at all.
func Error(base sockets.API) sockets.API {
	return &errorAPI{API: base}
}

type errorAPI struct {
	sockets.API
}

func (s *errorAPI) Socket(domain, typ, proto int) (int, error) {
	fd, err := s.API.Socket(domain, typ, proto)
	if err != nil {
		return fd, err
	}
	s.API.Close(fd)
	return -1, unix.ENOBUFS
}

func (s *errorAPI) Accept(fd int, addr []byte) (int, int, error) {
	nfd, addrlen, err := s.API.Accept(fd, addr)
	if err != nil {
		return nfd, addrlen, err
	}
	s.API.Close(nfd)
	return -1, 0, unix.ECONNABORTED
}

func (s *errorAPI) Recv(fd int, b []byte, flags int) (int, error) {
	n, err := s.API.Recv(fd, b, flags)
	return replaceWithECONNRESET(n, err)
}

func (s *errorAPI) Send(fd int, b []byte, flags int) (int, error) {
	n, err := s.API.Send(fd, b, flags)
	return replaceWithECONNRESET(n, err)
}

func (s *errorAPI) Sendfile(outfd, infd int, offset *int64, count int) (int, error) {
	n, err := s.API.Sendfile(outfd, infd, offset, count)
	return replaceWithECONNRESET(n, err)
}

func (s *errorAPI) Writev(fd int, iovs [][]byte) (int, error) {
	n, err := s.API.Writev(fd, iovs)
	return replaceWithECONNRESET(n, err)
}

func replaceWithECONNRESET(n int, err error) (int, error) {
	if err != nil {
		return n, err
	}
	return -1, unix.ECONNRESET
}
