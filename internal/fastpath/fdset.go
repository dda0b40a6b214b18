package fastpath

import "time"

// FD_SETSIZE is the number of descriptors an FdSet can hold.
const FD_SETSIZE = 1024

// FdSet is the descriptor set of the stack's select call.
type FdSet struct {
	Bits [FD_SETSIZE / 64]uint64
}

func (s *FdSet) Set(fd int) {
	s.Bits[fd/64] |= 1 << (uint(fd) % 64)
}

func (s *FdSet) Clear(fd int) {
	s.Bits[fd/64] &^= 1 << (uint(fd) % 64)
}

func (s *FdSet) IsSet(fd int) bool {
	return s.Bits[fd/64]&(1<<(uint(fd)%64)) != 0
}

func (s *FdSet) Zero() {
	*s = FdSet{}
}

// Timeval is the timeout of the stack's select call.
type Timeval struct {
	Sec  int64
	Usec int64
}

// Duration converts tv to a time.Duration.
func (tv *Timeval) Duration() time.Duration {
	return time.Duration(tv.Sec)*time.Second + time.Duration(tv.Usec)*time.Microsecond
}
