package kernel

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Symbols returns the symbol table of the host kernel's socket calls.
func Symbols() map[string]any {
	return map[string]any{
		"socket":     unix.Socket,
		"bind":       unix.Bind,
		"listen":     unix.Listen,
		"setsockopt": unix.SetsockoptString,
		"ioctl":      ioctl,
		"select":     unix.Select,
		"poll":       unix.Poll,
		"accept":     unix.Accept,
		"close":      unix.Close,
		"recv":       unix.Recvfrom,
		"send":       unix.SendmsgN,
		"sendfile":   unix.Sendfile,
		"writev":     unix.Writev,
		"read":       unix.Read,
		"lseek":      unix.Seek,
	}
}

// ioctl passes an int argument by reference, which is how the socket requests
// (FIONBIO, FIONREAD, ...) are defined. Requests without argument, like
// FIOCLEX, accept a nil arg.
func ioctl(fd int, request uint, arg *int) error {
	if arg == nil {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(request), 0)
		if errno != 0 {
			return errno
		}
		return nil
	}
	v := int32(*arg)
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(request), uintptr(unsafe.Pointer(&v)))
	*arg = int(v)
	if errno != 0 {
		return errno
	}
	return nil
}
