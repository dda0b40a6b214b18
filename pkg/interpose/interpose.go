// Package interpose exposes the POSIX socket calls routed between the host
// kernel and the fast-path stack as package level functions.
//
// Programs use these functions in place of the socket calls of package
// syscall or golang.org/x/sys/unix. The first call starts the default engine,
// configured by the nginx-ofp configuration file, unless Install was called
// before. Failing to start the engine is fatal and makes the call panic.
//
// Errors are unix.Errno values, and functions returning a descriptor or a
// count return -1 when they fail.
package interpose

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jlijian3/nginx-ofp/internal/config"
	"github.com/jlijian3/nginx-ofp/internal/engine"
	"github.com/jlijian3/nginx-ofp/internal/sockets"
	"golang.org/x/sys/unix"
)

var (
	mutex  sync.Mutex
	active *engine.Engine
	api    atomic.Pointer[sockets.API]
)

// Install starts e and routes the package functions through it. It fails if
// another engine was installed or started before.
func Install(ctx context.Context, e *engine.Engine) error {
	mutex.Lock()
	defer mutex.Unlock()
	if active != nil {
		return fmt.Errorf("interpose: engine %s already installed", active.ID())
	}
	if err := e.Start(ctx); err != nil {
		return err
	}
	a := e.API()
	active = e
	api.Store(&a)
	return nil
}

// Default returns the installed engine, starting one from the configuration
// file when there is none.
func Default() *engine.Engine {
	load()
	mutex.Lock()
	defer mutex.Unlock()
	return active
}

func load() sockets.API {
	mutex.Lock()
	defer mutex.Unlock()
	if active == nil {
		c, err := config.Load()
		if err != nil {
			panic(fmt.Errorf("interpose: loading configuration: %w", err))
		}
		e, err := engine.FromConfig(c)
		if err != nil {
			panic(fmt.Errorf("interpose: %w", err))
		}
		if err := e.Start(context.Background()); err != nil {
			e.Close()
			panic(fmt.Errorf("interpose: starting engine: %w", err))
		}
		a := e.API()
		active = e
		api.Store(&a)
	}
	return *api.Load()
}

func entries() sockets.API {
	if a := api.Load(); a != nil {
		return *a
	}
	return load()
}

func Socket(domain, typ, proto int) (int, error) {
	return entries().Socket(domain, typ, proto)
}

func Bind(fd int, addr []byte) error {
	return entries().Bind(fd, addr)
}

func Listen(fd, backlog int) error {
	return entries().Listen(fd, backlog)
}

func Setsockopt(fd, level, name int, value []byte) error {
	return entries().Setsockopt(fd, level, name, value)
}

// SetsockoptInt is Setsockopt with an integer value.
func SetsockoptInt(fd, level, name, value int) error {
	b := make([]byte, 4)
	binary.NativeEndian.PutUint32(b, uint32(int32(value)))
	return entries().Setsockopt(fd, level, name, b)
}

func Ioctl(fd int, request uint, arg *int) error {
	return entries().Ioctl(fd, request, arg)
}

// Select routes the call by the tag of nfds: descriptor sets of the fast-path
// stack must be passed with a tagged nfds, and are never mixed with kernel
// descriptors. Use Poll to wait on both.
func Select(nfds int, r, w, e *unix.FdSet, timeout *unix.Timeval) (int, error) {
	return entries().Select(nfds, r, w, e, timeout)
}

func Poll(fds []unix.PollFd, timeout int) (int, error) {
	return entries().Poll(fds, timeout)
}

func Accept(fd int, addr []byte) (nfd, addrlen int, err error) {
	return entries().Accept(fd, addr)
}

func Close(fd int) error {
	return entries().Close(fd)
}

func Recv(fd int, b []byte, flags int) (int, error) {
	return entries().Recv(fd, b, flags)
}

func Send(fd int, b []byte, flags int) (int, error) {
	return entries().Send(fd, b, flags)
}

func Sendfile(outfd, infd int, offset *int64, count int) (int, error) {
	return entries().Sendfile(outfd, infd, offset, count)
}

func Writev(fd int, iovs [][]byte) (int, error) {
	return entries().Writev(fd, iovs)
}
