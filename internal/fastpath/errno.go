package fastpath

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Errno is the error domain of the fast-path stack. Values follow the BSD
// numbering used by the stack, which differs from the host kernel's for most
// network related errors.
type Errno int32

const (
	EPERM           Errno = 1
	ENOENT          Errno = 2
	EINTR           Errno = 4
	EIO             Errno = 5
	EBADF           Errno = 9
	ENOMEM          Errno = 12
	EACCES          Errno = 13
	EFAULT          Errno = 14
	EBUSY           Errno = 16
	EEXIST          Errno = 17
	EINVAL          Errno = 22
	ENFILE          Errno = 23
	EMFILE          Errno = 24
	EPIPE           Errno = 32
	EAGAIN          Errno = 35
	EINPROGRESS     Errno = 36
	EALREADY        Errno = 37
	ENOTSOCK        Errno = 38
	EDESTADDRREQ    Errno = 39
	EMSGSIZE        Errno = 40
	EPROTOTYPE      Errno = 41
	ENOPROTOOPT     Errno = 42
	EPROTONOSUPPORT Errno = 43
	ESOCKTNOSUPPORT Errno = 44
	EOPNOTSUPP      Errno = 45
	EPFNOSUPPORT    Errno = 46
	EAFNOSUPPORT    Errno = 47
	EADDRINUSE      Errno = 48
	EADDRNOTAVAIL   Errno = 49
	ENETDOWN        Errno = 50
	ENETUNREACH     Errno = 51
	ENETRESET       Errno = 52
	ECONNABORTED    Errno = 53
	ECONNRESET      Errno = 54
	ENOBUFS         Errno = 55
	EISCONN         Errno = 56
	ENOTCONN        Errno = 57
	ESHUTDOWN       Errno = 58
	ETIMEDOUT       Errno = 60
	ECONNREFUSED    Errno = 61
	EHOSTUNREACH    Errno = 65

	EWOULDBLOCK = EAGAIN
)

var errnoTable = [...]struct {
	name    string
	syscall unix.Errno
}{
	EPERM:           {"EPERM", unix.EPERM},
	ENOENT:          {"ENOENT", unix.ENOENT},
	EINTR:           {"EINTR", unix.EINTR},
	EIO:             {"EIO", unix.EIO},
	EBADF:           {"EBADF", unix.EBADF},
	ENOMEM:          {"ENOMEM", unix.ENOMEM},
	EACCES:          {"EACCES", unix.EACCES},
	EFAULT:          {"EFAULT", unix.EFAULT},
	EBUSY:           {"EBUSY", unix.EBUSY},
	EEXIST:          {"EEXIST", unix.EEXIST},
	EINVAL:          {"EINVAL", unix.EINVAL},
	ENFILE:          {"ENFILE", unix.ENFILE},
	EMFILE:          {"EMFILE", unix.EMFILE},
	EPIPE:           {"EPIPE", unix.EPIPE},
	EAGAIN:          {"EAGAIN", unix.EAGAIN},
	EINPROGRESS:     {"EINPROGRESS", unix.EINPROGRESS},
	EALREADY:        {"EALREADY", unix.EALREADY},
	ENOTSOCK:        {"ENOTSOCK", unix.ENOTSOCK},
	EDESTADDRREQ:    {"EDESTADDRREQ", unix.EDESTADDRREQ},
	EMSGSIZE:        {"EMSGSIZE", unix.EMSGSIZE},
	EPROTOTYPE:      {"EPROTOTYPE", unix.EPROTOTYPE},
	ENOPROTOOPT:     {"ENOPROTOOPT", unix.ENOPROTOOPT},
	EPROTONOSUPPORT: {"EPROTONOSUPPORT", unix.EPROTONOSUPPORT},
	ESOCKTNOSUPPORT: {"ESOCKTNOSUPPORT", unix.ESOCKTNOSUPPORT},
	EOPNOTSUPP:      {"EOPNOTSUPP", unix.EOPNOTSUPP},
	EPFNOSUPPORT:    {"EPFNOSUPPORT", unix.EPFNOSUPPORT},
	EAFNOSUPPORT:    {"EAFNOSUPPORT", unix.EAFNOSUPPORT},
	EADDRINUSE:      {"EADDRINUSE", unix.EADDRINUSE},
	EADDRNOTAVAIL:   {"EADDRNOTAVAIL", unix.EADDRNOTAVAIL},
	ENETDOWN:        {"ENETDOWN", unix.ENETDOWN},
	ENETUNREACH:     {"ENETUNREACH", unix.ENETUNREACH},
	ENETRESET:       {"ENETRESET", unix.ENETRESET},
	ECONNABORTED:    {"ECONNABORTED", unix.ECONNABORTED},
	ECONNRESET:      {"ECONNRESET", unix.ECONNRESET},
	ENOBUFS:         {"ENOBUFS", unix.ENOBUFS},
	EISCONN:         {"EISCONN", unix.EISCONN},
	ENOTCONN:        {"ENOTCONN", unix.ENOTCONN},
	ESHUTDOWN:       {"ESHUTDOWN", unix.ESHUTDOWN},
	ETIMEDOUT:       {"ETIMEDOUT", unix.ETIMEDOUT},
	ECONNREFUSED:    {"ECONNREFUSED", unix.ECONNREFUSED},
	EHOSTUNREACH:    {"EHOSTUNREACH", unix.EHOSTUNREACH},
}

func (errno Errno) known() bool {
	return errno > 0 && int(errno) < len(errnoTable) && errnoTable[errno].name != ""
}

// Name returns the symbolic name of errno.
func (errno Errno) Name() string {
	if errno.known() {
		return errnoTable[errno].name
	}
	return fmt.Sprintf("errno(%d)", int32(errno))
}

func (errno Errno) Error() string {
	if errno.known() {
		return errnoTable[errno].syscall.Error()
	}
	return fmt.Sprintf("fast-path error %d", int32(errno))
}

// Syscall returns the host kernel error equivalent to errno. Codes that have
// no equivalent map to EIO.
func (errno Errno) Syscall() unix.Errno {
	if errno.known() {
		return errnoTable[errno].syscall
	}
	return unix.EIO
}
