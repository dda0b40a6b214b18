// Package webserver is a static file server driving the intercepted socket
// calls the way an event-driven web server does: non-blocking sockets
// multiplexed with poll, headers sent with writev and file bodies with
// sendfile.
package webserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"net/netip"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jlijian3/nginx-ofp/internal/buffer"
	"github.com/jlijian3/nginx-ofp/internal/sockaddr"
	"github.com/jlijian3/nginx-ofp/internal/sockets"
	"golang.org/x/sys/unix"
)

const (
	defaultBacklog     = 511
	defaultPollTimeout = 50 * time.Millisecond
	maxRequestSize     = 8192
	sendfileChunk      = 1 << 20
)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger of the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithBacklog sets the backlog of the listening socket.
func WithBacklog(backlog int) Option {
	return func(s *Server) { s.backlog = backlog }
}

// WithPollTimeout sets how long the event loop waits for events before
// checking whether it was canceled.
func WithPollTimeout(timeout time.Duration) Option {
	return func(s *Server) { s.pollTimeout = timeout }
}

// Server serves the files under a root directory.
type Server struct {
	api         sockets.API
	root        string
	backlog     int
	pollTimeout time.Duration
	logger      *slog.Logger
	buffers     buffer.Pool
}

// New constructs a server issuing its socket calls to api.
func New(api sockets.API, root string, opts ...Option) *Server {
	s := &Server{
		api:         api,
		root:        root,
		backlog:     defaultBacklog,
		pollTimeout: defaultPollTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "webserver")
	return s
}

// ListenAndServe listens on address and serves requests until ctx is
// canceled.
func (s *Server) ListenAndServe(ctx context.Context, address string) error {
	fd, err := s.Listen(address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, fd)
}

// Listen creates a non-blocking socket listening on address, which must be an
// IPv4 address and port.
func (s *Server) Listen(address string) (int, error) {
	addrPort, err := netip.ParseAddrPort(address)
	if err != nil {
		return -1, err
	}
	if !addrPort.Addr().Is4() {
		return -1, fmt.Errorf("listen %s: not an IPv4 address", address)
	}

	fd, err := s.api.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := s.setup(fd, addrPort); err != nil {
		s.api.Close(fd)
		return -1, err
	}
	s.logger.Info("listening", "address", address, "fd", fd)
	return fd, nil
}

func (s *Server) setup(fd int, addrPort netip.AddrPort) error {
	if err := s.api.Setsockopt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, intValue(1)); err != nil {
		return fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if err := s.api.Setsockopt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, intValue(1)); err != nil {
		return fmt.Errorf("setsockopt TCP_NODELAY: %w", err)
	}
	if err := s.api.Bind(fd, sockaddr.FromAddrPort(addrPort)); err != nil {
		return fmt.Errorf("bind %s: %w", addrPort, err)
	}
	if err := s.api.Listen(fd, s.backlog); err != nil {
		return fmt.Errorf("listen %s: %w", addrPort, err)
	}
	return nil
}

func intValue(v int32) []byte {
	b := make([]byte, 4)
	binary.NativeEndian.PutUint32(b, uint32(v))
	return b
}

// Serve accepts connections on the listening socket fd and serves requests
// until ctx is canceled. The listening socket and all the connections are
// closed when Serve returns.
func (s *Server) Serve(ctx context.Context, fd int) error {
	conns := make(map[int]*conn)
	defer func() {
		for _, c := range conns {
			s.close(c)
		}
		s.api.Close(fd)
	}()

	timeout := int(s.pollTimeout / time.Millisecond)
	if timeout < 1 {
		timeout = 1
	}
	fds := make([]unix.PollFd, 0, 64)

	for ctx.Err() == nil {
		fds = append(fds[:0], unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
		for _, c := range conns {
			events := int16(unix.POLLIN)
			if c.writing() {
				events = unix.POLLOUT
			}
			fds = append(fds, unix.PollFd{Fd: int32(c.fd), Events: events})
		}

		n, err := s.api.Poll(fds, timeout)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("poll: %w", err)
		}
		if n == 0 {
			continue
		}

		for _, p := range fds[1:] {
			if p.Revents == 0 {
				continue
			}
			c := conns[int(p.Fd)]
			if err := s.handle(c, p.Revents); err != nil {
				if !errors.Is(err, errDone) {
					s.logger.Debug("connection closed", "fd", c.fd, "peer", c.peer, "error", err)
				}
				delete(conns, c.fd)
				s.close(c)
			}
		}

		if fds[0].Revents != 0 {
			if err := s.accept(fd, conns); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Server) accept(fd int, conns map[int]*conn) error {
	for {
		addr := make([]byte, sockaddr.SizeofAny)
		cfd, addrlen, err := s.api.Accept(fd, addr)
		if err != nil {
			switch {
			case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
				return nil
			case errors.Is(err, unix.EMFILE), errors.Is(err, unix.ENFILE), errors.Is(err, unix.ENOBUFS), errors.Is(err, unix.ENOMEM):
				s.logger.Warn("accept", "error", err)
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}

		nonblock := 1
		if err := s.api.Ioctl(cfd, sockets.FIONBIO, &nonblock); err != nil {
			s.logger.Warn("setting connection non-blocking", "fd", cfd, "error", err)
			s.api.Close(cfd)
			continue
		}

		c := &conn{fd: cfd}
		if peer, err := sockaddr.AddrPort(addr[:min(addrlen, len(addr))]); err == nil {
			c.peer = peer
		}
		conns[cfd] = c
		s.logger.Debug("connection accepted", "fd", cfd, "peer", c.peer)
	}
}

func (s *Server) handle(c *conn, revents int16) error {
	if c.writing() {
		return s.flush(c)
	}
	if revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
		return fmt.Errorf("poll events %#x", revents)
	}
	return s.read(c)
}

func (s *Server) read(c *conn) error {
	for {
		pending := 0
		if err := s.api.Ioctl(c.fd, sockets.FIONREAD, &pending); err != nil {
			return fmt.Errorf("ioctl FIONREAD: %w", err)
		}
		size := max(pending, 1024)
		if room := maxRequestSize - len(c.request); size > room {
			size = room
		}
		if size <= 0 {
			return s.respondError(c, http.StatusRequestHeaderFieldsTooLarge)
		}

		buf := s.buffers.Get(size)
		n, err := s.api.Recv(c.fd, buf.Data, 0)
		if n > 0 {
			c.request = append(c.request, buf.Data[:n]...)
		}
		buffer.Release(&buf, &s.buffers)

		switch {
		case errors.Is(err, unix.EAGAIN):
			return nil
		case err != nil:
			return fmt.Errorf("recv: %w", err)
		case n == 0:
			return errDone
		}

		if bytes.Contains(c.request, []byte("\r\n\r\n")) {
			return s.serveRequest(c)
		}
	}
}

func (s *Server) serveRequest(c *conn) error {
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(c.request)))
	if err != nil {
		return s.respondError(c, http.StatusBadRequest)
	}
	c.method = req.Method
	c.path = req.URL.Path

	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return s.respondError(c, http.StatusMethodNotAllowed)
	}

	f, info, err := s.open(req.URL.Path)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return s.respondError(c, http.StatusNotFound)
		case errors.Is(err, fs.ErrPermission):
			return s.respondError(c, http.StatusForbidden)
		default:
			s.logger.Error("opening file", "path", req.URL.Path, "error", err)
			return s.respondError(c, http.StatusInternalServerError)
		}
	}

	contentType := mime.TypeByExtension(filepath.Ext(info.Name()))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.status = http.StatusOK
	c.header = responseHeader(http.StatusOK, contentType, info.Size(), info.ModTime())
	if req.Method == http.MethodGet && info.Size() > 0 {
		c.file = f
		c.remaining = info.Size()
	} else {
		f.Close()
	}
	return s.flush(c)
}

func (s *Server) open(urlPath string) (*os.File, fs.FileInfo, error) {
	name := filepath.Join(s.root, filepath.FromSlash(path.Clean("/"+urlPath)))
	f, err := os.Open(name)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if info.IsDir() {
		f.Close()
		f, err = os.Open(filepath.Join(name, "index.html"))
		if err != nil {
			return nil, nil, err
		}
		if info, err = f.Stat(); err != nil {
			f.Close()
			return nil, nil, err
		}
		if !info.Mode().IsRegular() {
			f.Close()
			return nil, nil, fs.ErrNotExist
		}
	}
	return f, info, nil
}

func (s *Server) respondError(c *conn, status int) error {
	body := fmt.Sprintf("%d %s\n", status, http.StatusText(status))
	c.status = status
	c.header = responseHeader(status, "text/plain; charset=utf-8", int64(len(body)), time.Time{})
	if c.method != http.MethodHead {
		c.header = append(c.header, []byte(body))
	}
	return s.flush(c)
}

func responseHeader(status int, contentType string, size int64, modTime time.Time) [][]byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status))
	b.WriteString("Server: nginx-ofp\r\n")
	b.WriteString("Date: " + time.Now().UTC().Format(http.TimeFormat) + "\r\n")
	b.WriteString("Content-Type: " + contentType + "\r\n")
	b.WriteString("Content-Length: " + strconv.FormatInt(size, 10) + "\r\n")
	if !modTime.IsZero() {
		b.WriteString("Last-Modified: " + modTime.UTC().Format(http.TimeFormat) + "\r\n")
	}
	b.WriteString("Connection: close\r\n")
	return [][]byte{b.Bytes(), []byte("\r\n")}
}

// flush writes the pending response, returning errDone once it was entirely
// sent.
func (s *Server) flush(c *conn) error {
	for len(c.header) > 0 {
		n, err := s.api.Writev(c.fd, c.header)
		if errors.Is(err, unix.EAGAIN) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("writev: %w", err)
		}
		c.consume(n)
	}

	for c.remaining > 0 {
		count := int(min(c.remaining, sendfileChunk))
		n, err := s.api.Sendfile(c.fd, int(c.file.Fd()), &c.offset, count)
		if errors.Is(err, unix.EAGAIN) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("sendfile: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("sendfile: %s truncated", c.path)
		}
		c.remaining -= int64(n)
	}

	s.logger.Debug("request served", "method", c.method, "path", c.path, "status", c.status, "peer", c.peer)
	return errDone
}

func (s *Server) close(c *conn) {
	if c.file != nil {
		c.file.Close()
	}
	if err := s.api.Close(c.fd); err != nil {
		s.logger.Debug("closing connection", "fd", c.fd, "error", err)
	}
}

var errDone = errors.New("done")

type conn struct {
	fd      int
	peer    netip.AddrPort
	request []byte

	method string
	path   string
	status int

	header    [][]byte
	file      *os.File
	offset    int64
	remaining int64
}

func (c *conn) writing() bool {
	return c.status != 0
}

func (c *conn) consume(n int) {
	for n > 0 && len(c.header) > 0 {
		if n < len(c.header[0]) {
			c.header[0] = c.header[0][n:]
			return
		}
		n -= len(c.header[0])
		c.header = c.header[1:]
	}
}
