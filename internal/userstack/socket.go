package userstack

import (
	"encoding/binary"
	"net"
	"net/netip"
	"time"

	"github.com/jlijian3/nginx-ofp/internal/fastpath"
)

type socketState uint8

const (
	bound socketState = 1 << iota
	listening
	connected
)

func (s socketState) is(f socketState) bool { return (s & f) != 0 }

type portKey struct {
	typ  int
	port uint16
}

type socket struct {
	typ      int
	proto    int
	state    socketState
	nonblock bool
	name     netip.AddrPort
	peer     netip.AddrPort

	// Options set with setsockopt.
	reuseAddr bool
	reusePort bool
	keepAlive bool
	noDelay   bool
	cork      bool
	sndbuf    int
	rcvbuf    int

	// Listening sockets queue the connections waiting to be accepted.
	backlog int
	queue   []*socket
	bridges []net.Listener

	// Stream sockets read from rbuf and write to wbuf.
	rbuf *pipe
	wbuf *pipe

	// Datagram sockets receive into a queue bounded by rcvbuf.
	datagrams [][]byte
	dgramSize int
}

func (s *socket) readable() bool {
	switch {
	case s.state.is(listening):
		return len(s.queue) > 0
	case s.typ == fastpath.SOCK_DGRAM:
		return len(s.datagrams) > 0
	case s.state.is(connected):
		return s.rbuf.len() > 0 || s.rbuf.eof
	default:
		return false
	}
}

func (s *socket) writable() bool {
	switch {
	case s.typ == fastpath.SOCK_DGRAM:
		return true
	case s.state.is(connected):
		return s.wbuf.space() > 0 || s.wbuf.broken
	default:
		return false
	}
}

func (s *socket) key() portKey {
	return portKey{typ: s.typ, port: s.name.Port()}
}

func (s *Stack) Socket(domain, typ, proto int) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.global {
		return -1, fastpath.ENETDOWN
	}
	if domain != fastpath.AF_INET {
		return -1, fastpath.EAFNOSUPPORT
	}

	switch typ {
	case fastpath.SOCK_STREAM:
		if proto != fastpath.IPPROTO_IP && proto != fastpath.IPPROTO_TCP {
			return -1, fastpath.EPROTONOSUPPORT
		}
		proto = fastpath.IPPROTO_TCP
	case fastpath.SOCK_DGRAM:
		if proto != fastpath.IPPROTO_IP && proto != fastpath.IPPROTO_UDP {
			return -1, fastpath.EPROTONOSUPPORT
		}
		proto = fastpath.IPPROTO_UDP
	default:
		return -1, fastpath.ESOCKTNOSUPPORT
	}

	return s.alloc(&socket{
		typ:    typ,
		proto:  proto,
		sndbuf: s.bufferSize,
		rcvbuf: s.bufferSize,
	})
}

func (s *Stack) Bind(fd int, addr *fastpath.Sockaddr) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	sock, err := s.lookup(fd)
	if err != nil {
		return err
	}
	if addr == nil {
		return fastpath.EFAULT
	}
	if addr.Len != fastpath.SizeofSockaddr {
		return fastpath.EINVAL
	}
	// The family byte is not always set by callers on hosts where the field
	// is 16 bits wide.
	if addr.Family != fastpath.AF_INET && addr.Family != fastpath.AF_UNSPEC {
		return fastpath.EAFNOSUPPORT
	}
	if sock.state.is(bound) {
		return fastpath.EINVAL
	}

	addrPort := addr.AddrPort()
	if ip := addrPort.Addr(); !ip.IsUnspecified() && !ip.IsLoopback() && !s.hasAddr(ip) {
		return fastpath.EADDRNOTAVAIL
	}
	return s.bind(sock, addrPort)
}

func (s *Stack) bind(sock *socket, addrPort netip.AddrPort) error {
	port := addrPort.Port()
	if port == 0 {
		var ok bool
		if port, ok = s.ephemeralPort(sock.typ); !ok {
			return fastpath.EADDRNOTAVAIL
		}
	} else if other := s.ports[portKey{sock.typ, port}]; other != nil {
		if !(sock.reusePort && other.reusePort) || other.state.is(listening) {
			return fastpath.EADDRINUSE
		}
	}
	sock.name = netip.AddrPortFrom(addrPort.Addr(), port)
	sock.state |= bound
	s.ports[sock.key()] = sock
	return nil
}

func (s *Stack) ephemeralPort(typ int) (uint16, bool) {
	for port := ephemeralPortMin; port <= ephemeralPortMax; port++ {
		if s.ports[portKey{typ, uint16(port)}] == nil {
			return uint16(port), true
		}
	}
	return 0, false
}

func (s *Stack) Listen(fd, backlog int) error {
	s.mutex.Lock()
	sock, err := s.lookup(fd)
	if err != nil {
		s.mutex.Unlock()
		return err
	}
	if sock.typ != fastpath.SOCK_STREAM {
		s.mutex.Unlock()
		return fastpath.EOPNOTSUPP
	}
	if sock.state.is(connected) {
		s.mutex.Unlock()
		return fastpath.EINVAL
	}
	if !sock.state.is(bound) {
		if err := s.bind(sock, netip.AddrPortFrom(netip.IPv4Unspecified(), 0)); err != nil {
			s.mutex.Unlock()
			return err
		}
	}

	if backlog <= 0 || backlog > fastpath.SOMAXCONN {
		backlog = fastpath.SOMAXCONN
	}
	sock.backlog = backlog

	if sock.state.is(listening) {
		s.mutex.Unlock()
		return nil
	}
	sock.state |= listening
	ifnets := append([]*ifnet(nil), s.ifnets...)
	s.mutex.Unlock()

	for _, i := range ifnets {
		s.bridge(sock, i)
	}
	return nil
}

func (s *Stack) Accept(fd int, addr *fastpath.Sockaddr) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for {
		sock, err := s.lookup(fd)
		if err != nil {
			return -1, err
		}
		if !sock.state.is(listening) {
			return -1, fastpath.EINVAL
		}

		if len(sock.queue) > 0 {
			child := sock.queue[0]
			nfd, err := s.alloc(child)
			if err != nil {
				return -1, err
			}
			sock.queue[0] = nil
			sock.queue = sock.queue[1:]
			if addr != nil {
				*addr = fastpath.SockaddrInet4(child.peer)
			}
			s.broadcast()
			return nfd, nil
		}

		if sock.nonblock {
			return -1, fastpath.EAGAIN
		}
		s.waitLocked(time.Time{})
	}
}

func (s *Stack) Setsockopt(fd, level, name int, value []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	sock, err := s.lookup(fd)
	if err != nil {
		return err
	}
	if len(value) < 4 {
		return fastpath.EINVAL
	}
	v := int(int32(binary.NativeEndian.Uint32(value)))

	switch level {
	case fastpath.SOL_SOCKET:
		switch name {
		case fastpath.SO_REUSEADDR:
			sock.reuseAddr = v != 0
		case fastpath.SO_REUSEPORT:
			sock.reusePort = v != 0
		case fastpath.SO_KEEPALIVE:
			sock.keepAlive = v != 0
		case fastpath.SO_SNDBUF:
			if v <= 0 {
				return fastpath.EINVAL
			}
			sock.sndbuf = v
			if sock.wbuf != nil {
				sock.wbuf.limit = v
			}
		case fastpath.SO_RCVBUF:
			if v <= 0 {
				return fastpath.EINVAL
			}
			sock.rcvbuf = v
			if sock.rbuf != nil {
				sock.rbuf.limit = v
			}
		default:
			return fastpath.ENOPROTOOPT
		}

	case fastpath.IPPROTO_TCP:
		if sock.typ != fastpath.SOCK_STREAM {
			return fastpath.ENOPROTOOPT
		}
		switch name {
		case fastpath.TCP_NODELAY:
			sock.noDelay = v != 0
		case fastpath.TCP_NOPUSH:
			sock.cork = v != 0
		default:
			return fastpath.ENOPROTOOPT
		}

	default:
		return fastpath.ENOPROTOOPT
	}

	s.broadcast()
	return nil
}

func (s *Stack) Ioctl(fd int, request uint, arg *int) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	sock, err := s.lookup(fd)
	if err != nil {
		return err
	}
	if arg == nil {
		return fastpath.EFAULT
	}

	switch request {
	case fastpath.FIONBIO:
		sock.nonblock = *arg != 0
	case fastpath.FIONREAD:
		switch {
		case sock.typ == fastpath.SOCK_DGRAM && len(sock.datagrams) > 0:
			*arg = len(sock.datagrams[0])
		case sock.rbuf != nil:
			*arg = sock.rbuf.len()
		default:
			*arg = 0
		}
	default:
		return fastpath.EOPNOTSUPP
	}
	return nil
}

func (s *Stack) Select(nfds int, r, w, e *fastpath.FdSet, timeout *fastpath.Timeval) (int, error) {
	if nfds < 0 || nfds > fastpath.FD_SETSIZE {
		return -1, fastpath.EINVAL
	}

	var deadline time.Time
	if timeout != nil {
		if timeout.Sec < 0 || timeout.Usec < 0 {
			return -1, fastpath.EINVAL
		}
		deadline = time.Now().Add(timeout.Duration())
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	for {
		var rr, rw fastpath.FdSet
		n := 0

		for fd := 0; fd < nfds; fd++ {
			wantRead := r != nil && r.IsSet(fd)
			wantWrite := w != nil && w.IsSet(fd)
			if !wantRead && !wantWrite && (e == nil || !e.IsSet(fd)) {
				continue
			}
			sock, err := s.lookup(fd)
			if err != nil {
				return -1, err
			}
			if wantRead && sock.readable() {
				rr.Set(fd)
				n++
			}
			if wantWrite && sock.writable() {
				rw.Set(fd)
				n++
			}
		}

		if n > 0 || (timeout != nil && !time.Now().Before(deadline)) {
			if r != nil {
				*r = rr
			}
			if w != nil {
				*w = rw
			}
			if e != nil {
				e.Zero()
			}
			return n, nil
		}

		s.waitLocked(deadline)
	}
}

func (s *Stack) Send(fd int, b []byte, flags int) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for {
		sock, err := s.lookup(fd)
		if err != nil {
			return -1, err
		}
		switch {
		case sock.typ == fastpath.SOCK_DGRAM:
			return -1, fastpath.EDESTADDRREQ
		case !sock.state.is(connected):
			return -1, fastpath.ENOTCONN
		case sock.wbuf.broken || sock.wbuf.eof:
			return -1, fastpath.EPIPE
		case len(b) == 0:
			return 0, nil
		}

		if n := sock.wbuf.write(b); n > 0 {
			s.broadcast()
			return n, nil
		}
		if sock.wbuf.starved() {
			return -1, fastpath.ENOBUFS
		}
		if sock.nonblock || (flags&fastpath.MSG_DONTWAIT) != 0 {
			return -1, fastpath.EAGAIN
		}
		s.waitLocked(time.Time{})
	}
}

func (s *Stack) Recv(fd int, b []byte, flags int) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	peek := (flags & fastpath.MSG_PEEK) != 0
	for {
		sock, err := s.lookup(fd)
		if err != nil {
			return -1, err
		}

		if sock.typ == fastpath.SOCK_DGRAM {
			if len(sock.datagrams) > 0 {
				d := sock.datagrams[0]
				n := copy(b, d)
				if !peek {
					sock.datagrams[0] = nil
					sock.datagrams = sock.datagrams[1:]
					sock.dgramSize -= len(d)
				}
				return n, nil
			}
		} else {
			if !sock.state.is(connected) {
				return -1, fastpath.ENOTCONN
			}
			if sock.rbuf.len() > 0 {
				n := sock.rbuf.read(b, peek)
				if !peek {
					s.broadcast()
				}
				return n, nil
			}
			if sock.rbuf.eof || len(b) == 0 {
				return 0, nil
			}
		}

		if sock.nonblock || (flags&fastpath.MSG_DONTWAIT) != 0 {
			return -1, fastpath.EAGAIN
		}
		s.waitLocked(time.Time{})
	}
}

func (s *Stack) Close(fd int) error {
	s.mutex.Lock()
	sock, err := s.lookup(fd)
	if err != nil {
		s.mutex.Unlock()
		return err
	}
	s.sockets[fd] = nil
	bridges := s.release(sock)
	s.broadcast()
	s.mutex.Unlock()

	for _, l := range bridges {
		l.Close()
	}
	return nil
}

// release tears down the state of a socket removed from the descriptor table
// and returns the host listeners that must be closed.
func (s *Stack) release(sock *socket) []net.Listener {
	if sock.state.is(bound) && s.ports[sock.key()] == sock {
		delete(s.ports, sock.key())
	}
	for _, child := range sock.queue {
		child.abort()
	}
	sock.queue = nil
	if sock.state.is(connected) {
		sock.abort()
	}
	sock.datagrams, sock.dgramSize = nil, 0
	bridges := sock.bridges
	sock.bridges = nil
	sock.state = 0
	return bridges
}

// abort detaches a connected socket from its peer: the peer reads the end of
// the stream and its writes fail.
func (s *socket) abort() {
	s.wbuf.closeWrite()
	s.rbuf.closeRead()
}

func (s *Stack) hasAddr(ip netip.Addr) bool {
	for _, i := range s.ifnets {
		for _, addr := range i.addrs {
			if addr == ip {
				return true
			}
		}
	}
	return false
}
