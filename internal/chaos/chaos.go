// Package chaos injects faults in the socket calls of a sockets.API, to
// exercise the recovery paths of the programs issuing them.
package chaos

import (
	"math"
	"math/rand"
	"sync"

	"github.com/jlijian3/nginx-ofp/internal/sockets"
	"golang.org/x/sys/unix"
)

const (
	maxChance = 1024 * 1024 * 1024
)

type Rule struct {
	chance int64 // [0;maxChance]
	api    sockets.API
}

// Chance is a constructor for values of type Rule, mapping an API to a
// probability of it being picked when methods are invoked.
func Chance(chance float64, api sockets.API) Rule {
	if chance < 0 || chance > 1 {
		panic("invalid chance of chaos rule is not in the range [0;1]")
	}
	return Rule{
		chance: int64(math.Round(chance * maxChance)),
		api:    api,
	}
}

// New constructs an API picking, on each call, where to route it. The given
// random source is used for all random number generation and is synchronized
// by the returned API. The base API is the fallback when a probability did not
// match any of the rules. The APIs set on rules are expected to be wrappers of
// base created by functions of this package.
func New(prng rand.Source, base sockets.API, rules ...Rule) sockets.API {
	s := &api{
		prng:    prng,
		base:    base,
		chances: make([]int64, len(rules)),
		apis:    make([]sockets.API, len(rules)),
	}
	cumulativeChance := int64(0)
	for i, rule := range rules {
		cumulativeChance += rule.chance
		s.chances[i] = cumulativeChance
		s.apis[i] = rule.api
		if cumulativeChance < 0 || cumulativeChance > maxChance {
			panic("cumulative chance of chaos rules is greater than 1")
		}
	}
	return s
}

type api struct {
	mutex   sync.Mutex
	prng    rand.Source
	base    sockets.API
	chances []int64
	apis    []sockets.API
}

func (s *api) pick() sockets.API {
	s.mutex.Lock()
	probability := s.prng.Int63() & (maxChance - 1)
	s.mutex.Unlock()

	for i, chance := range s.chances {
		if chance > probability {
			return s.apis[i]
		}
	}
	return s.base
}

func (s *api) Socket(domain, typ, proto int) (int, error) {
	return s.pick().Socket(domain, typ, proto)
}

func (s *api) Bind(fd int, addr []byte) error {
	return s.pick().Bind(fd, addr)
}

func (s *api) Listen(fd, backlog int) error {
	return s.pick().Listen(fd, backlog)
}

func (s *api) Setsockopt(fd, level, name int, value []byte) error {
	return s.pick().Setsockopt(fd, level, name, value)
}

func (s *api) Ioctl(fd int, request uint, arg *int) error {
	return s.pick().Ioctl(fd, request, arg)
}

func (s *api) Select(nfds int, r, w, e *unix.FdSet, timeout *unix.Timeval) (int, error) {
	return s.pick().Select(nfds, r, w, e, timeout)
}

func (s *api) Poll(fds []unix.PollFd, timeout int) (int, error) {
	return s.pick().Poll(fds, timeout)
}

func (s *api) Accept(fd int, addr []byte) (int, int, error) {
	return s.pick().Accept(fd, addr)
}

func (s *api) Close(fd int) error {
	return s.pick().Close(fd)
}

func (s *api) Recv(fd int, b []byte, flags int) (int, error) {
	return s.pick().Recv(fd, b, flags)
}

func (s *api) Send(fd int, b []byte, flags int) (int, error) {
	return s.pick().Send(fd, b, flags)
}

func (s *api) Sendfile(outfd, infd int, offset *int64, count int) (int, error) {
	return s.pick().Sendfile(outfd, infd, offset, count)
}

func (s *api) Writev(fd int, iovs [][]byte) (int, error) {
	return s.pick().Writev(fd, iovs)
}
