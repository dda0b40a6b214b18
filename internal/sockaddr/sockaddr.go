// Package sockaddr converts between the binary socket address layout of the
// host kernel and the socket address types of golang.org/x/sys/unix.
//
// The binary images are the form in which addresses cross the intercepted
// call surface: applications hand the dispatcher raw struct sockaddr bytes,
// and expect raw bytes back from accept.
package sockaddr

import (
	"bytes"
	"encoding/binary"
	"net/netip"

	"golang.org/x/sys/unix"
)

const (
	SizeofInet4 = unix.SizeofSockaddrInet4
	SizeofInet6 = unix.SizeofSockaddrInet6
	SizeofUnix  = unix.SizeofSockaddrUnix
	SizeofAny   = unix.SizeofSockaddrAny
)

// Family returns the address family of the binary image b.
func Family(b []byte) int {
	if len(b) < 2 {
		return unix.AF_UNSPEC
	}
	return int(binary.NativeEndian.Uint16(b))
}

// Decode parses the binary image b.
func Decode(b []byte) (unix.Sockaddr, error) {
	switch Family(b) {
	case unix.AF_INET:
		if len(b) < SizeofInet4 {
			return nil, unix.EINVAL
		}
		sa := &unix.SockaddrInet4{Port: int(binary.BigEndian.Uint16(b[2:4]))}
		copy(sa.Addr[:], b[4:8])
		return sa, nil
	case unix.AF_INET6:
		if len(b) < SizeofInet6 {
			return nil, unix.EINVAL
		}
		sa := &unix.SockaddrInet6{
			Port:   int(binary.BigEndian.Uint16(b[2:4])),
			ZoneId: binary.NativeEndian.Uint32(b[24:28]),
		}
		copy(sa.Addr[:], b[8:24])
		return sa, nil
	case unix.AF_UNIX:
		path := b[2:]
		if len(path) > SizeofUnix-2 {
			path = path[:SizeofUnix-2]
		}
		if len(path) > 0 && path[0] == 0 {
			return &unix.SockaddrUnix{Name: "@" + string(path[1:])}, nil
		}
		if i := bytes.IndexByte(path, 0); i >= 0 {
			path = path[:i]
		}
		return &unix.SockaddrUnix{Name: string(path)}, nil
	default:
		return nil, unix.EAFNOSUPPORT
	}
}

// Encode writes the binary image of sa to dst and returns the full length of
// the image, which may exceed len(dst) when the output was truncated.
func Encode(dst []byte, sa unix.Sockaddr) int {
	var buf [SizeofAny]byte
	var n int

	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		binary.NativeEndian.PutUint16(buf[0:2], unix.AF_INET)
		binary.BigEndian.PutUint16(buf[2:4], uint16(a.Port))
		copy(buf[4:8], a.Addr[:])
		n = SizeofInet4
	case *unix.SockaddrInet6:
		binary.NativeEndian.PutUint16(buf[0:2], unix.AF_INET6)
		binary.BigEndian.PutUint16(buf[2:4], uint16(a.Port))
		copy(buf[8:24], a.Addr[:])
		binary.NativeEndian.PutUint32(buf[24:28], a.ZoneId)
		n = SizeofInet6
	case *unix.SockaddrUnix:
		binary.NativeEndian.PutUint16(buf[0:2], unix.AF_UNIX)
		name := a.Name
		switch {
		case name == "":
			n = 2
		case name[0] == '@':
			n = 2 + copy(buf[3:SizeofUnix], name[1:]) + 1
		default:
			n = 2 + copy(buf[2:SizeofUnix-1], name) + 1
		}
	}

	copy(dst, buf[:n])
	return n
}

// FromAddrPort returns the binary image of an internet address. IPv4 and
// IPv4-mapped IPv6 addresses produce AF_INET images.
func FromAddrPort(addrPort netip.AddrPort) []byte {
	var sa unix.Sockaddr
	if addr := addrPort.Addr(); addr.Is4() || addr.Is4In6() {
		sa = &unix.SockaddrInet4{Port: int(addrPort.Port()), Addr: addr.Unmap().As4()}
	} else {
		sa = &unix.SockaddrInet6{Port: int(addrPort.Port()), Addr: addr.As16()}
	}
	b := make([]byte, SizeofAny)
	return b[:Encode(b, sa)]
}

// AddrPort decodes the internet address held in the binary image b.
func AddrPort(b []byte) (netip.AddrPort, error) {
	sa, err := Decode(b)
	if err != nil {
		return netip.AddrPort{}, err
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(a.Addr), uint16(a.Port)), nil
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(a.Addr), uint16(a.Port)), nil
	default:
		return netip.AddrPort{}, unix.EAFNOSUPPORT
	}
}
