package emulate_test

import (
	"bytes"
	"testing"

	"github.com/jlijian3/nginx-ofp/internal/assert"
	"github.com/jlijian3/nginx-ofp/internal/emulate"
	"github.com/jlijian3/nginx-ofp/internal/fastpath"
	"golang.org/x/sys/unix"
)

// sender accepts at most limit bytes per call (0 means unlimited), and fails
// with err once fail calls have been made (when fail is positive).
type sender struct {
	limit int
	fail  int
	err   error
	calls int
	data  bytes.Buffer
}

func (s *sender) Send(fd int, b []byte, flags int) (int, error) {
	s.calls++
	if s.fail > 0 && s.calls >= s.fail {
		return -1, s.err
	}
	if s.limit > 0 && len(b) > s.limit {
		b = b[:s.limit]
	}
	return s.data.Write(b)
}

// file is a kernel file descriptor backed by an in-memory buffer.
type file struct {
	data    []byte
	pos     int64
	readErr error
}

func (f *file) Read(fd int, b []byte) (int, error) {
	if f.readErr != nil {
		return -1, f.readErr
	}
	if f.pos >= int64(len(f.data)) {
		return 0, nil
	}
	n := copy(b, f.data[f.pos:])
	f.pos += int64(n)
	return n, nil
}

func (f *file) Seek(fd int, offset int64, whence int) (int64, error) {
	switch whence {
	case unix.SEEK_SET:
	case unix.SEEK_CUR:
		offset += f.pos
	default:
		return -1, unix.EINVAL
	}
	if offset < 0 {
		return -1, unix.EINVAL
	}
	f.pos = offset
	return offset, nil
}

func segments(sizes ...int) [][]byte {
	iovs := make([][]byte, len(sizes))
	for i, size := range sizes {
		iovs[i] = bytes.Repeat([]byte{byte('a' + i)}, size)
	}
	return iovs
}

func TestWritev(t *testing.T) {
	tests := []struct {
		scenario string
		function func(*testing.T)
	}{
		{"all segments are sent", testWritevComplete},
		{"a short send stops the write", testWritevShortSend},
		{"an error before any byte was sent is reported", testWritevErrorFirst},
		{"an error after a partial transfer returns the count", testWritevErrorAfterPartial},
		{"no buffer space is reported as would block", testWritevNoBuffers},
		{"empty segments are skipped", testWritevEmptySegments},
	}

	for _, test := range tests {
		t.Run(test.scenario, test.function)
	}
}

func testWritevComplete(t *testing.T) {
	s := new(sender)
	n, err := emulate.Writev(s, 3, segments(10, 20, 30))
	assert.OK(t, err)
	assert.Equal(t, n, 60)
	assert.Equal(t, s.calls, 3)
	assert.Equal(t, s.data.String()[:10], "aaaaaaaaaa")
}

func testWritevShortSend(t *testing.T) {
	s := &sender{limit: 15}
	n, err := emulate.Writev(s, 3, segments(10, 20, 30))
	assert.OK(t, err)
	assert.Equal(t, n, 25)
	assert.Equal(t, s.calls, 2)
}

func testWritevErrorFirst(t *testing.T) {
	s := &sender{fail: 1, err: fastpath.EAGAIN}
	n, err := emulate.Writev(s, 3, segments(10, 20))
	assert.Error(t, err, unix.EAGAIN)
	assert.Equal(t, n, -1)
}

func testWritevErrorAfterPartial(t *testing.T) {
	s := &sender{fail: 3, err: fastpath.ECONNRESET}
	n, err := emulate.Writev(s, 3, segments(10, 20, 30))
	assert.OK(t, err)
	assert.Equal(t, n, 30)
}

func testWritevNoBuffers(t *testing.T) {
	s := &sender{fail: 1, err: fastpath.ENOBUFS}
	n, err := emulate.Writev(s, 3, segments(1))
	assert.Error(t, err, unix.EAGAIN)
	assert.Equal(t, n, -1)

	s = &sender{fail: 1, err: fastpath.EPIPE}
	_, err = emulate.Writev(s, 3, segments(1))
	assert.Error(t, err, unix.EPIPE)
}

func testWritevEmptySegments(t *testing.T) {
	s := new(sender)
	n, err := emulate.Writev(s, 3, segments(0, 5, 0))
	assert.OK(t, err)
	assert.Equal(t, n, 5)
	assert.Equal(t, s.calls, 1)
}

func TestSendfile(t *testing.T) {
	tests := []struct {
		scenario string
		function func(*testing.T)
	}{
		{"without offset the read position advances by the bytes sent", testSendfileNoOffset},
		{"with an offset the read position is restored", testSendfileOffset},
		{"large copies are split in chunks", testSendfileChunks},
		{"would block before any byte was sent is an error", testSendfileWouldBlock},
		{"a failure after a partial transfer returns the count", testSendfilePartial},
		{"a short send ends the copy", testSendfileShortSend},
		{"reaching the end of the file before any byte was sent is an error", testSendfileEOF},
		{"reaching the end of the file after a transfer returns the count", testSendfileEOFAfterTransfer},
		{"read errors are reported", testSendfileReadError},
	}

	for _, test := range tests {
		t.Run(test.scenario, test.function)
	}
}

func testSendfileNoOffset(t *testing.T) {
	f := &file{data: []byte("0123456789"), pos: 2}
	s := new(sender)

	n, err := emulate.Sendfile(s, f, 3, 4, nil, 5)
	assert.OK(t, err)
	assert.Equal(t, n, 5)
	assert.Equal(t, s.data.String(), "23456")
	assert.Equal(t, f.pos, int64(7))
}

func testSendfileOffset(t *testing.T) {
	f := &file{data: []byte("0123456789"), pos: 1}
	s := new(sender)
	offset := int64(4)

	n, err := emulate.Sendfile(s, f, 3, 4, &offset, 3)
	assert.OK(t, err)
	assert.Equal(t, n, 3)
	assert.Equal(t, s.data.String(), "456")
	assert.Equal(t, offset, int64(7))
	assert.Equal(t, f.pos, int64(1))
}

func testSendfileChunks(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 3*emulate.BufferSize+100)
	f := &file{data: data}
	s := new(sender)

	n, err := emulate.Sendfile(s, f, 3, 4, nil, len(data))
	assert.OK(t, err)
	assert.Equal(t, n, len(data))
	assert.Equal(t, s.calls, 4)
	assert.Equal(t, f.pos, int64(len(data)))
}

func testSendfileWouldBlock(t *testing.T) {
	for _, errno := range []fastpath.Errno{fastpath.EAGAIN, fastpath.ENOBUFS} {
		f := &file{data: []byte("0123456789")}
		s := &sender{fail: 1, err: errno}
		offset := int64(2)

		n, err := emulate.Sendfile(s, f, 3, 4, &offset, 5)
		assert.Error(t, err, unix.EAGAIN)
		assert.Equal(t, n, -1)
		assert.Equal(t, offset, int64(2))
		assert.Equal(t, f.pos, int64(0))
	}
}

func testSendfilePartial(t *testing.T) {
	data := bytes.Repeat([]byte("y"), 2*emulate.BufferSize)
	f := &file{data: data}
	s := &sender{fail: 2, err: fastpath.EAGAIN}

	n, err := emulate.Sendfile(s, f, 3, 4, nil, len(data))
	assert.OK(t, err)
	assert.Equal(t, n, emulate.BufferSize)
	assert.Equal(t, f.pos, int64(emulate.BufferSize))
}

func testSendfileShortSend(t *testing.T) {
	f := &file{data: []byte("0123456789")}
	s := &sender{limit: 4}
	offset := int64(0)

	n, err := emulate.Sendfile(s, f, 3, 4, &offset, 10)
	assert.OK(t, err)
	assert.Equal(t, n, 4)
	assert.Equal(t, s.calls, 1)
	assert.Equal(t, offset, int64(4))
}

func testSendfileEOF(t *testing.T) {
	f := &file{data: []byte("0123"), pos: 4}
	s := new(sender)

	n, err := emulate.Sendfile(s, f, 3, 4, nil, 10)
	assert.Error(t, err, unix.EIO)
	assert.Equal(t, n, -1)
	assert.Equal(t, f.pos, int64(4))
	assert.Equal(t, s.calls, 0)
}

func testSendfileEOFAfterTransfer(t *testing.T) {
	f := &file{data: []byte("0123")}
	s := new(sender)

	n, err := emulate.Sendfile(s, f, 3, 4, nil, 10)
	assert.OK(t, err)
	assert.Equal(t, n, 4)
	assert.Equal(t, f.pos, int64(4))
}

func testSendfileReadError(t *testing.T) {
	f := &file{data: []byte("0123"), pos: 1, readErr: unix.EISDIR}
	s := new(sender)
	offset := int64(3)

	n, err := emulate.Sendfile(s, f, 3, 4, &offset, 10)
	assert.Error(t, err, unix.EISDIR)
	assert.Equal(t, n, -1)
	assert.Equal(t, f.pos, int64(1))
	assert.Equal(t, offset, int64(3))
}
