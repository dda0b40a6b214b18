// Package userstack is an in-process implementation of the fast-path stack.
//
// The stack keeps its sockets in userspace: connections are pairs of bounded
// byte pipes, and data never crosses the kernel unless the stack is attached
// to a host interface, in which case connections accepted on the host are
// bridged to the stack's listening sockets.
//
// Applications reach the stack through the descriptor based calls of
// fastpath.Stack, while in-process clients open connections with Dial.
package userstack

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/jlijian3/nginx-ofp/internal/fastpath"
)

const (
	defaultBufferSize = 64 * 1024
	defaultPoolSize   = 64 * 1024 * 1024
	defaultMaxSockets = 65536

	ephemeralPortMin = 49152
	ephemeralPortMax = 65535
)

// Option configures a Stack.
type Option func(*Stack)

// WithLogger sets the logger of the stack.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Stack) { s.logger = logger }
}

// WithMaxSockets sets the size of the descriptor table.
func WithMaxSockets(n int) Option {
	return func(s *Stack) { s.maxSockets = n }
}

// WithBufferPool sets the number of bytes that can be held by the send
// buffers of all the sockets of the stack. Sends fail with ENOBUFS when the
// pool is exhausted.
func WithBufferPool(size int) Option {
	return func(s *Stack) { s.pool.size = size }
}

// WithBufferSize sets the default size of socket buffers.
func WithBufferSize(size int) Option {
	return func(s *Stack) { s.bufferSize = size }
}

// ListenFunc sets the function used to open listeners on the host interfaces
// the stack is attached to.
func ListenFunc(listen func(context.Context, string, string) (net.Listener, error)) Option {
	return func(s *Stack) { s.listen = listen }
}

// Stack is an in-process fast-path stack. It implements fastpath.Backend.
type Stack struct {
	mutex  sync.Mutex
	notify chan struct{}

	sockets []*socket
	ports   map[portKey]*socket
	ifnets  []*ifnet
	pool    pool

	global     bool
	locals     int
	params     fastpath.GlobalParams
	clientPort uint16

	bufferSize int
	maxSockets int
	listen     func(context.Context, string, string) (net.Listener, error)
	logger     *slog.Logger
}

// New constructs a stack. The stack must be initialized with InitGlobal before
// sockets can be created.
func New(opts ...Option) *Stack {
	s := &Stack{
		notify:     make(chan struct{}),
		ports:      make(map[portKey]*socket),
		pool:       pool{size: defaultPoolSize},
		bufferSize: defaultBufferSize,
		maxSockets: defaultMaxSockets,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.listen == nil {
		var lc net.ListenConfig
		s.listen = lc.Listen
	}
	s.logger = s.logger.With("component", "userstack")
	return s
}

var _ fastpath.Backend = (*Stack)(nil)

func (s *Stack) InitGlobal(ctx context.Context, params fastpath.GlobalParams) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.global {
		return fastpath.EBUSY
	}
	s.global = true
	s.params = params
	s.logger.Debug("global init", "interfaces", params.Interfaces, "workers", params.Workers)
	return nil
}

func (s *Stack) InitLocal(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.global {
		return fastpath.EINVAL
	}
	s.locals++
	return nil
}

// Shutdown releases all the sockets of the stack and detaches it from the host
// interfaces.
func (s *Stack) Shutdown() error {
	s.mutex.Lock()
	var bridges []net.Listener
	for fd, sock := range s.sockets {
		if sock != nil {
			s.sockets[fd] = nil
			bridges = append(bridges, s.release(sock)...)
		}
	}
	s.ifnets = nil
	s.broadcast()
	s.mutex.Unlock()

	for _, l := range bridges {
		l.Close()
	}
	return nil
}

// Stats is a snapshot of the state of the stack.
type Stats struct {
	Sockets    int         `json:"sockets" yaml:"sockets"`
	Buffered   int         `json:"buffered" yaml:"buffered"`
	Interfaces []Interface `json:"interfaces" yaml:"interfaces"`
}

// Interface describes a host interface attached to the stack.
type Interface struct {
	Name     string   `json:"name" yaml:"name" text:"NAME"`
	Index    int      `json:"index" yaml:"index" text:"INDEX"`
	Addrs    []string `json:"addrs" yaml:"addrs" text:"ADDRESSES"`
	RxQueues int      `json:"rxQueues" yaml:"rxQueues" text:"RX QUEUES"`
	TxQueues int      `json:"txQueues" yaml:"txQueues" text:"TX QUEUES"`
}

// Stats returns a snapshot of the state of the stack.
func (s *Stack) Stats() Stats {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	stats := Stats{Buffered: s.pool.used}
	for _, sock := range s.sockets {
		if sock != nil {
			stats.Sockets++
		}
	}
	for _, i := range s.ifnets {
		stats.Interfaces = append(stats.Interfaces, i.info())
	}
	return stats
}

func (s *Stack) lookup(fd int) (*socket, error) {
	if fd < 0 || fd >= len(s.sockets) || s.sockets[fd] == nil {
		return nil, fastpath.EBADF
	}
	return s.sockets[fd], nil
}

// alloc assigns the lowest free descriptor to sock.
func (s *Stack) alloc(sock *socket) (int, error) {
	for fd, other := range s.sockets {
		if other == nil {
			s.sockets[fd] = sock
			return fd, nil
		}
	}
	if len(s.sockets) >= s.maxSockets {
		return -1, fastpath.ENFILE
	}
	s.sockets = append(s.sockets, sock)
	return len(s.sockets) - 1, nil
}

func (s *Stack) broadcast() {
	close(s.notify)
	s.notify = make(chan struct{})
}

// waitLocked releases the stack mutex until the state of the stack changes or
// the deadline is reached; a zero deadline waits indefinitely. The function
// reports false if it returned because of the deadline.
func (s *Stack) waitLocked(deadline time.Time) bool {
	notify := s.notify
	s.mutex.Unlock()
	defer s.mutex.Lock()

	if deadline.IsZero() {
		<-notify
		return true
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case <-notify:
		return true
	case <-timer.C:
		return false
	}
}

type pool struct {
	size int
	used int
}

func (p *pool) free() int {
	return max(p.size-p.used, 0)
}
