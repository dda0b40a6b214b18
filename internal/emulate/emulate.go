// Package emulate implements the vectored write and file-to-socket copy calls
// for sockets of the fast-path stack, which only offers single buffer sends.
//
// Both operations report partial success the way the kernel does: once any
// byte has been transferred, a failure is reported as a short count rather
// than an error.
package emulate

import (
	"sync"

	"github.com/jlijian3/nginx-ofp/internal/fastpath"
	"github.com/jlijian3/nginx-ofp/internal/translate"
	"golang.org/x/sys/unix"
)

// BufferSize is the size of the chunks copied from files to sockets.
const BufferSize = 1 << 14

// Sender is the send call of the fast-path stack.
type Sender interface {
	Send(fd int, b []byte, flags int) (int, error)
}

// Source gives access to the kernel descriptors that files are read from.
type Source interface {
	Read(fd int, b []byte) (int, error)
	Seek(fd int, offset int64, whence int) (int64, error)
}

// Writev sends the buffers of iovs in order on the stack socket fd.
//
// A short send ends the operation and returns the count of bytes sent so far.
// On error, the count is returned if bytes were sent, otherwise the function
// returns -1 and the translated error, with ENOBUFS reported as EAGAIN.
func Writev(s Sender, fd int, iovs [][]byte) (int, error) {
	total := 0
	for _, iov := range iovs {
		if len(iov) == 0 {
			continue
		}
		n, err := s.Send(fd, iov, 0)
		if err != nil {
			if total > 0 {
				return total, nil
			}
			return -1, translate.WouldBlock(err, fastpath.ENOBUFS)
		}
		total += n
		if n < len(iov) {
			break
		}
	}
	return total, nil
}

var buffers = sync.Pool{
	New: func() any { return new([BufferSize]byte) },
}

// Sendfile copies count bytes from the kernel descriptor in to the stack
// socket out, in chunks of BufferSize.
//
// When offset is not nil, the copy starts at *offset, which is advanced by the
// number of bytes sent, and the read position of in is left unchanged. When
// offset is nil, the copy starts at the current read position of in, which is
// left just past the last byte sent.
//
// A short send ends the copy. Failing to read before any byte was sent is an
// error, and so is reaching the end of the input; past the first byte, both
// end the copy and the count is returned. Send errors are translated like in
// Writev.
func Sendfile(s Sender, src Source, out, in int, offset *int64, count int) (int, error) {
	orig, err := src.Seek(in, 0, unix.SEEK_CUR)
	if err != nil {
		return -1, err
	}
	if offset != nil {
		if _, err := src.Seek(in, *offset, unix.SEEK_SET); err != nil {
			return -1, err
		}
	}

	buf := buffers.Get().(*[BufferSize]byte)
	defer buffers.Put(buf)

	total, sendErr := 0, error(nil)
	for count > 0 {
		chunk := buf[:min(count, BufferSize)]

		rn, err := src.Read(in, chunk)
		if err != nil || rn < 1 {
			if total > 0 {
				break
			}
			if err == nil {
				err = unix.EIO
			}
			restore(src, in, orig)
			return -1, err
		}

		sn, err := s.Send(out, chunk[:rn], 0)
		if err != nil {
			if total > 0 {
				break
			}
			sendErr = translate.WouldBlock(err, fastpath.ENOBUFS)
			break
		}

		total += sn
		if sn != rn {
			break
		}
		count -= sn
	}

	if offset != nil {
		*offset += int64(total)
		if _, err := src.Seek(in, orig, unix.SEEK_SET); err != nil {
			return -1, err
		}
	} else {
		if _, err := src.Seek(in, orig+int64(total), unix.SEEK_SET); err != nil {
			return -1, err
		}
	}

	if sendErr != nil {
		return -1, sendErr
	}
	return total, nil
}

func restore(src Source, in int, pos int64) {
	_, _ = src.Seek(in, pos, unix.SEEK_SET)
}
