package interpose_test

import (
	"context"
	"io"
	"net/netip"
	"testing"

	"github.com/jlijian3/nginx-ofp/internal/assert"
	"github.com/jlijian3/nginx-ofp/internal/engine"
	"github.com/jlijian3/nginx-ofp/internal/fdtag"
	"github.com/jlijian3/nginx-ofp/internal/sockaddr"
	"github.com/jlijian3/nginx-ofp/internal/userstack"
	"github.com/jlijian3/nginx-ofp/pkg/interpose"
	"golang.org/x/sys/unix"
)

func TestInterpose(t *testing.T) {
	stack := userstack.New()
	e := engine.New(stack, engine.Config{})
	defer e.Close()

	ctx := context.Background()
	assert.OK(t, interpose.Install(ctx, e))
	assert.True(t, interpose.Default() == e)
	assert.True(t, interpose.Install(ctx, engine.New(userstack.New(), engine.Config{})) != nil)

	t.Run("kernel sockets pass through", func(t *testing.T) {
		fd, err := interpose.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
		assert.OK(t, err)
		assert.False(t, fdtag.IsTagged(fd))
		assert.OK(t, interpose.Close(fd))
	})

	t.Run("inet sockets are routed to the stack", func(t *testing.T) {
		lfd, err := interpose.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
		assert.OK(t, err)
		assert.True(t, fdtag.IsTagged(lfd))
		defer interpose.Close(lfd)

		assert.OK(t, interpose.SetsockoptInt(lfd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1))
		addr := sockaddr.FromAddrPort(netip.MustParseAddrPort("127.0.0.1:7070"))
		assert.OK(t, interpose.Bind(lfd, addr))
		assert.OK(t, interpose.Listen(lfd, 16))

		client, err := stack.Dial(ctx, "tcp", "127.0.0.1:7070")
		assert.OK(t, err)
		defer client.Close()

		peer := make([]byte, sockaddr.SizeofAny)
		cfd, addrlen, err := interpose.Accept(lfd, peer)
		assert.OK(t, err)
		assert.True(t, fdtag.IsTagged(cfd))
		assert.Equal(t, addrlen, sockaddr.SizeofInet4)
		defer interpose.Close(cfd)

		_, err = client.Write([]byte("ping"))
		assert.OK(t, err)
		b := make([]byte, 16)
		n, err := interpose.Recv(cfd, b, 0)
		assert.OK(t, err)
		assert.Equal(t, string(b[:n]), "ping")

		n, err = interpose.Writev(cfd, [][]byte{[]byte("po"), []byte("ng")})
		assert.OK(t, err)
		assert.Equal(t, n, 4)
		n, err = io.ReadFull(client, b[:4])
		assert.OK(t, err)
		assert.Equal(t, string(b[:n]), "pong")

		fds := []unix.PollFd{{Fd: int32(cfd), Events: unix.POLLOUT}}
		n, err = interpose.Poll(fds, 0)
		assert.OK(t, err)
		assert.Equal(t, n, 1)
		assert.Equal(t, fds[0].Revents&unix.POLLOUT, int16(unix.POLLOUT))
	})
}
