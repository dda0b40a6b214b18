// Package fdtag partitions the descriptor namespace between the kernel and the
// fast-path stack.
//
// Descriptors owned by the fast-path stack are handed to applications with bit
// 30 set. The stack allocates its own descriptors from zero, so the tag keeps
// the two namespaces from colliding as long as kernel descriptors stay below
// 1<<30, which is far above any realistic RLIMIT_NOFILE.
package fdtag

import "fmt"

const (
	// Bit is the position of the ownership bit.
	Bit = 30

	mask = 1 << Bit

	// Max is the largest backend descriptor that can be tagged.
	Max = mask - 1
)

// Fits reports whether fd can be represented in the tagged namespace.
func Fits(fd int) bool {
	return fd >= 0 && fd <= Max
}

// Tag marks a backend descriptor as owned by the fast-path stack.
//
// The function panics if fd cannot be represented; callers that receive
// descriptors from a backend must check Fits first.
func Tag(fd int) int {
	if !Fits(fd) {
		panic(fmt.Sprintf("fdtag: backend descriptor out of range: %d", fd))
	}
	return fd | mask
}

// Untag recovers the backend descriptor from a tagged one.
func Untag(fd int) int {
	return fd &^ mask
}

// IsTagged reports whether fd is owned by the fast-path stack. Negative
// values are never tagged, they are left to the kernel to reject.
func IsTagged(fd int) bool {
	return fd >= 0 && fd&mask != 0
}
