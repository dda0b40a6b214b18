package fastpath

import (
	"encoding/binary"
	"net/netip"
)

// SizeofSockaddr is the size of the BSD socket address structure.
const SizeofSockaddr = 16

// Sockaddr is the generic socket address of the stack. Unlike the Linux
// layout, the first byte carries the length of the structure and the family
// fits in a single byte.
//
// For AF_INET addresses, Data holds the port in network byte order followed
// by the four bytes of the IPv4 address.
type Sockaddr struct {
	Len    uint8
	Family uint8
	Data   [14]byte
}

// SockaddrInet4 constructs an AF_INET socket address.
func SockaddrInet4(addrPort netip.AddrPort) Sockaddr {
	sa := Sockaddr{Len: SizeofSockaddr, Family: AF_INET}
	binary.BigEndian.PutUint16(sa.Data[0:2], addrPort.Port())
	ip := addrPort.Addr().Unmap().As4()
	copy(sa.Data[2:6], ip[:])
	return sa
}

// AddrPort decodes the IPv4 address and port held in sa.
func (sa *Sockaddr) AddrPort() netip.AddrPort {
	port := binary.BigEndian.Uint16(sa.Data[0:2])
	addr := netip.AddrFrom4([4]byte(sa.Data[2:6]))
	return netip.AddrPortFrom(addr, port)
}
