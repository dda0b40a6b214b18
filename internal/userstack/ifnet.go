package userstack

import (
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"strconv"
	"sync"

	"github.com/jlijian3/nginx-ofp/internal/fastpath"
)

type ifnet struct {
	name   string
	index  int
	addrs  []netip.Addr
	params fastpath.PktioParams
}

func (i *ifnet) info() Interface {
	addrs := make([]string, len(i.addrs))
	for j, addr := range i.addrs {
		addrs[j] = addr.String()
	}
	return Interface{
		Name:     i.name,
		Index:    i.index,
		Addrs:    addrs,
		RxQueues: i.params.RxQueues,
		TxQueues: i.params.TxQueues,
	}
}

// IfnetCreate attaches the stack to a host interface. The name is either the
// name of the interface or its position in the list of host interfaces.
// Listening sockets accept the connections received on the IPv4 addresses of
// the interfaces they are bound to; each listener is served by RxQueues
// goroutines.
func (s *Stack) IfnetCreate(ctx context.Context, name string, params fastpath.PktioParams) error {
	if params.RxQueues < 1 || params.TxQueues < 0 {
		return fastpath.EINVAL
	}

	hostIf, err := lookupInterface(name)
	if err != nil {
		s.logger.Warn("interface not found", "interface", name, "error", err)
		return fastpath.ENOENT
	}
	hostAddrs, err := hostIf.Addrs()
	if err != nil {
		return fastpath.EIO
	}

	i := &ifnet{name: hostIf.Name, index: hostIf.Index, params: params}
	for _, a := range hostAddrs {
		if ipnet, ok := a.(*net.IPNet); ok {
			if ip, ok := netip.AddrFromSlice(ipnet.IP); ok && ip.Unmap().Is4() {
				i.addrs = append(i.addrs, ip.Unmap())
			}
		}
	}

	s.mutex.Lock()
	if !s.global {
		s.mutex.Unlock()
		return fastpath.EINVAL
	}
	for _, other := range s.ifnets {
		if other.index == i.index {
			s.mutex.Unlock()
			return fastpath.EEXIST
		}
	}
	s.ifnets = append(s.ifnets, i)
	var listeners []*socket
	for _, sock := range s.sockets {
		if sock != nil && sock.state.is(listening) {
			listeners = append(listeners, sock)
		}
	}
	s.mutex.Unlock()

	s.logger.Info("interface attached",
		"interface", i.name,
		"addrs", i.info().Addrs,
		"rxQueues", params.RxQueues,
		"txQueues", params.TxQueues)

	for _, sock := range listeners {
		s.bridge(sock, i)
	}
	return nil
}

func lookupInterface(name string) (*net.Interface, error) {
	hostIf, err := net.InterfaceByName(name)
	if err == nil {
		return hostIf, nil
	}
	if n, convErr := strconv.Atoi(name); convErr == nil && n >= 0 {
		hostIfs, err := net.Interfaces()
		if err != nil {
			return nil, err
		}
		if n < len(hostIfs) {
			return &hostIfs[n], nil
		}
	}
	return nil, err
}

// bridge opens host listeners for sock on the addresses of the interface.
func (s *Stack) bridge(sock *socket, i *ifnet) {
	s.mutex.Lock()
	name := sock.name
	s.mutex.Unlock()

	for _, addr := range i.addrs {
		if !name.Addr().IsUnspecified() && name.Addr() != addr {
			continue
		}
		address := netip.AddrPortFrom(addr, name.Port()).String()

		l, err := s.listen(context.Background(), "tcp4", address)
		if err != nil {
			s.logger.Warn("cannot listen on host interface",
				"interface", i.name, "address", address, "error", err)
			continue
		}

		s.mutex.Lock()
		if !sock.state.is(listening) {
			s.mutex.Unlock()
			l.Close()
			return
		}
		sock.bridges = append(sock.bridges, l)
		s.mutex.Unlock()

		s.logger.Debug("listening on host interface", "interface", i.name, "address", address)
		for q := 0; q < i.params.RxQueues; q++ {
			go s.serve(sock, l)
		}
	}
}

func (s *Stack) serve(sock *socket, l net.Listener) {
	for {
		c, err := l.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Warn("accepting host connection", "address", l.Addr(), "error", err)
			}
			return
		}

		local := addrPortOf(c.LocalAddr())
		peer := addrPortOf(c.RemoteAddr())
		upstream, err := s.connect(sock, local, peer)
		if err != nil {
			s.logger.Debug("host connection refused", "peer", peer, "error", err)
			c.Close()
			continue
		}

		go func() {
			if err := tunnel(c, upstream, s.bufferSize); err != nil {
				s.logger.Debug("host connection", "peer", peer, "error", err)
			}
		}()
	}
}

func addrPortOf(addr net.Addr) netip.AddrPort {
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		addrPort := tcpAddr.AddrPort()
		return netip.AddrPortFrom(addrPort.Addr().Unmap(), addrPort.Port())
	}
	return netip.AddrPortFrom(netip.IPv4Unspecified(), 0)
}

func tunnel(downstream, upstream net.Conn, bufsize int) error {
	defer downstream.Close()
	defer upstream.Close()

	buffer := make([]byte, 2*bufsize)
	errs := make(chan error, 2)
	wg := new(sync.WaitGroup)
	wg.Add(2)

	go copyAndClose(downstream, upstream, buffer[:bufsize], errs, wg)
	go copyAndClose(upstream, downstream, buffer[bufsize:], errs, wg)

	wg.Wait()
	close(errs)
	return <-errs
}

func copyAndClose(w, r net.Conn, b []byte, errs chan<- error, wg *sync.WaitGroup) {
	defer wg.Done()
	_, err := io.CopyBuffer(w, r, b)
	if err != nil {
		errs <- err
	}
	if c, ok := w.(interface{ CloseWrite() error }); ok {
		c.CloseWrite() //nolint:errcheck
	} else {
		w.Close()
	}
}
