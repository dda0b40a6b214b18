package userstack

import (
	"context"
	"io"
	"net"
	"net/netip"
	"os"
	"syscall"
	"time"

	"github.com/jlijian3/nginx-ofp/internal/fastpath"
)

// connect queues a new connection on a listening socket and returns the
// client end of the connection.
func (s *Stack) connect(listener *socket, local, peer netip.AddrPort) (*conn, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !listener.state.is(listening) {
		return nil, syscall.ECONNREFUSED
	}
	if len(listener.queue) >= listener.backlog {
		return nil, syscall.ECONNREFUSED
	}

	child := &socket{
		typ:       fastpath.SOCK_STREAM,
		proto:     fastpath.IPPROTO_TCP,
		state:     connected,
		name:      local,
		peer:      peer,
		keepAlive: listener.keepAlive,
		noDelay:   listener.noDelay,
		sndbuf:    listener.sndbuf,
		rcvbuf:    listener.rcvbuf,
		rbuf:      newPipe(listener.rcvbuf, nil),
		wbuf:      newPipe(listener.sndbuf, &s.pool),
	}
	listener.queue = append(listener.queue, child)
	s.broadcast()

	return &conn{stack: s, sock: child, laddr: peer, raddr: local}, nil
}

// Dial opens a connection to a socket of the stack. The network must be one
// of "tcp", "tcp4", "udp" or "udp4".
//
// The stream connections are accepted by a listening socket bound to the port
// of the address. Datagram connections deliver each write to the socket bound
// to the port as a single datagram.
func (s *Stack) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	typ := 0
	switch network {
	case "tcp", "tcp4":
		typ = fastpath.SOCK_STREAM
	case "udp", "udp4":
		typ = fastpath.SOCK_DGRAM
	default:
		return nil, &net.OpError{Op: "dial", Net: network, Err: net.UnknownNetworkError(network)}
	}

	addrPort, err := netip.ParseAddrPort(address)
	if err != nil {
		return nil, &net.OpError{Op: "dial", Net: network, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &net.OpError{Op: "dial", Net: network, Err: err}
	}

	s.mutex.Lock()
	target := s.ports[portKey{typ, addrPort.Port()}]
	if target != nil && !target.name.Addr().IsUnspecified() && target.name.Addr() != addrPort.Addr() {
		target = nil
	}
	peer := netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), s.nextClientPort())
	s.mutex.Unlock()

	opError := func(err error) error {
		return &net.OpError{Op: "dial", Net: network, Addr: net.TCPAddrFromAddrPort(addrPort), Err: err}
	}
	if target == nil {
		return nil, opError(syscall.ECONNREFUSED)
	}

	if typ == fastpath.SOCK_DGRAM {
		return &packetConn{stack: s, sock: target, laddr: peer, raddr: addrPort}, nil
	}
	c, err := s.connect(target, addrPort, peer)
	if err != nil {
		return nil, opError(err)
	}
	return c, nil
}

func (s *Stack) nextClientPort() uint16 {
	if s.clientPort < ephemeralPortMin {
		s.clientPort = ephemeralPortMin
	}
	port := s.clientPort
	if s.clientPort++; s.clientPort == 0 {
		s.clientPort = ephemeralPortMin
	}
	return port
}

// conn is the client end of a stream connection. The client reads what the
// socket sends, and writes what the socket receives.
type conn struct {
	stack     *Stack
	sock      *socket
	laddr     netip.AddrPort
	raddr     netip.AddrPort
	rdeadline time.Time
	wdeadline time.Time
	closed    bool
}

func (c *conn) Read(b []byte) (int, error) {
	s := c.stack
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for {
		if c.closed {
			return 0, net.ErrClosed
		}
		p := c.sock.wbuf
		// Corked sockets hold partial segments until the buffer fills up or
		// the socket is closed.
		if p.len() > 0 && (!c.sock.cork || p.full() || p.eof) {
			n := p.read(b, false)
			s.broadcast()
			return n, nil
		}
		if p.eof {
			return 0, io.EOF
		}
		if len(b) == 0 {
			return 0, nil
		}
		if expired(c.rdeadline) {
			return 0, os.ErrDeadlineExceeded
		}
		s.waitLocked(c.rdeadline)
	}
}

func (c *conn) Write(b []byte) (int, error) {
	s := c.stack
	s.mutex.Lock()
	defer s.mutex.Unlock()

	n := 0
	for n < len(b) {
		if c.closed {
			return n, net.ErrClosed
		}
		p := c.sock.rbuf
		if p.broken || p.eof {
			return n, syscall.EPIPE
		}
		if m := p.write(b[n:]); m > 0 {
			n += m
			s.broadcast()
			continue
		}
		if expired(c.wdeadline) {
			return n, os.ErrDeadlineExceeded
		}
		s.waitLocked(c.wdeadline)
	}
	return n, nil
}

func (c *conn) Close() error {
	s := c.stack
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if c.closed {
		return net.ErrClosed
	}
	c.closed = true
	c.sock.rbuf.closeWrite()
	c.sock.wbuf.closeRead()
	s.broadcast()
	return nil
}

// CloseWrite shuts down the sending side of the connection; the socket reads
// the end of the stream once it consumed the buffered bytes.
func (c *conn) CloseWrite() error {
	s := c.stack
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if c.closed {
		return net.ErrClosed
	}
	c.sock.rbuf.closeWrite()
	s.broadcast()
	return nil
}

func (c *conn) LocalAddr() net.Addr  { return net.TCPAddrFromAddrPort(c.laddr) }
func (c *conn) RemoteAddr() net.Addr { return net.TCPAddrFromAddrPort(c.raddr) }

func (c *conn) SetDeadline(t time.Time) error {
	c.setDeadlines(&t, &t)
	return nil
}

func (c *conn) SetReadDeadline(t time.Time) error {
	c.setDeadlines(&t, nil)
	return nil
}

func (c *conn) SetWriteDeadline(t time.Time) error {
	c.setDeadlines(nil, &t)
	return nil
}

func (c *conn) setDeadlines(r, w *time.Time) {
	s := c.stack
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if r != nil {
		c.rdeadline = *r
	}
	if w != nil {
		c.wdeadline = *w
	}
	s.broadcast()
}

func expired(deadline time.Time) bool {
	return !deadline.IsZero() && !time.Now().Before(deadline)
}

// packetConn delivers datagrams to a socket of the stack. Datagrams are
// dropped when the receive buffer of the socket is full.
type packetConn struct {
	stack  *Stack
	sock   *socket
	laddr  netip.AddrPort
	raddr  netip.AddrPort
	closed bool
}

func (c *packetConn) Read(b []byte) (int, error) {
	return 0, io.EOF
}

func (c *packetConn) Write(b []byte) (int, error) {
	s := c.stack
	s.mutex.Lock()
	defer s.mutex.Unlock()

	switch {
	case c.closed:
		return 0, net.ErrClosed
	case !c.sock.state.is(bound):
		return 0, syscall.ECONNREFUSED
	case c.sock.dgramSize+len(b) > c.sock.rcvbuf:
		return len(b), nil
	}
	c.sock.datagrams = append(c.sock.datagrams, append([]byte(nil), b...))
	c.sock.dgramSize += len(b)
	s.broadcast()
	return len(b), nil
}

func (c *packetConn) Close() error {
	s := c.stack
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	c.closed = true
	return nil
}

func (c *packetConn) LocalAddr() net.Addr  { return net.UDPAddrFromAddrPort(c.laddr) }
func (c *packetConn) RemoteAddr() net.Addr { return net.UDPAddrFromAddrPort(c.raddr) }

func (c *packetConn) SetDeadline(time.Time) error      { return nil }
func (c *packetConn) SetReadDeadline(time.Time) error  { return nil }
func (c *packetConn) SetWriteDeadline(time.Time) error { return nil }
