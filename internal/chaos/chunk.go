package chaos

import (
	"github.com/jlijian3/nginx-ofp/internal/sockets"
)

// Chunk wraps the base API to return one that chunks reads and writes to
// transfer at most one byte. The intent is to exercise paths that handle
// successful but partial completion of I/O operations.
//
// Messages of datagram sockets would be truncated, the wrapper is meant for
// programs using stream sockets only.
func Chunk(base sockets.API) sockets.API {
	return &chunkAPI{API: base}
}

type chunkAPI struct {
	sockets.API
}

func (s *chunkAPI) Recv(fd int, b []byte, flags int) (int, error) {
	if len(b) > 1 {
		b = b[:1]
	}
	return s.API.Recv(fd, b, flags)
}

func (s *chunkAPI) Send(fd int, b []byte, flags int) (int, error) {
	if len(b) > 1 {
		b = b[:1]
	}
	return s.API.Send(fd, b, flags)
}

func (s *chunkAPI) Sendfile(outfd, infd int, offset *int64, count int) (int, error) {
	return s.API.Sendfile(outfd, infd, offset, min(count, 1))
}

func (s *chunkAPI) Writev(fd int, iovs [][]byte) (int, error) {
	for _, iov := range iovs {
		if len(iov) != 0 {
			return s.API.Writev(fd, [][]byte{iov[:1]})
		}
	}
	return s.API.Writev(fd, iovs)
}
