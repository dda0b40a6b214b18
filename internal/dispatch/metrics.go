package dispatch

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/jlijian3/nginx-ofp/internal/sockets"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/exp/maps"
	"golang.org/x/sys/unix"
)

type call int

const (
	callSocket call = iota
	callBind
	callListen
	callSetsockopt
	callIoctl
	callSelect
	callPoll
	callAccept
	callClose
	callRecv
	callSend
	callSendfile
	callWritev
	numCalls
)

func (c call) String() string { return sockets.Calls[c] }

type route int

const (
	kernelRoute route = iota
	backendRoute
	numRoutes
)

var routeNames = [numRoutes]string{
	kernelRoute:  "kernel",
	backendRoute: "fastpath",
}

type errorKey struct {
	call  call
	errno string
}

// Metrics counts the calls made through a dispatcher, per call and per
// backend, and the errors they returned. Metrics implements
// prometheus.Collector.
type Metrics struct {
	calls  [numCalls][numRoutes]atomic.Uint64
	mutex  sync.Mutex
	errors map[errorKey]*atomic.Uint64

	callsDesc  *prometheus.Desc
	errorsDesc *prometheus.Desc
}

// NewMetrics constructs an empty set of counters.
func NewMetrics() *Metrics {
	return &Metrics{
		errors: make(map[errorKey]*atomic.Uint64),
		callsDesc: prometheus.NewDesc(
			"nginx_ofp_calls_total",
			"Number of socket calls dispatched, by call and backend.",
			[]string{"call", "backend"}, nil,
		),
		errorsDesc: prometheus.NewDesc(
			"nginx_ofp_errors_total",
			"Number of socket calls that failed, by call and error.",
			[]string{"call", "errno"}, nil,
		),
	}
}

func (m *Metrics) record(c call, r route, err error) {
	m.calls[c][r].Add(1)
	if err != nil {
		m.counter(errorKey{call: c, errno: errnoName(err)}).Add(1)
	}
}

func (m *Metrics) counter(key errorKey) *atomic.Uint64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	counter := m.errors[key]
	if counter == nil {
		counter = new(atomic.Uint64)
		m.errors[key] = counter
	}
	return counter
}

func errnoName(err error) string {
	var errno unix.Errno
	if errors.As(err, &errno) {
		if name := unix.ErrnoName(errno); name != "" {
			return name
		}
	}
	return "unknown"
}

func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.callsDesc
	ch <- m.errorsDesc
}

func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for c := call(0); c < numCalls; c++ {
		for r := route(0); r < numRoutes; r++ {
			ch <- prometheus.MustNewConstMetric(m.callsDesc, prometheus.CounterValue,
				float64(m.calls[c][r].Load()), c.String(), routeNames[r])
		}
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for key, counter := range m.errors {
		ch <- prometheus.MustNewConstMetric(m.errorsDesc, prometheus.CounterValue,
			float64(counter.Load()), key.call.String(), key.errno)
	}
}

// CallStats is the snapshot of the counters of a call.
type CallStats struct {
	Call     string            `json:"call" yaml:"call" text:"CALL"`
	Kernel   uint64            `json:"kernel" yaml:"kernel" text:"KERNEL"`
	FastPath uint64            `json:"fastpath" yaml:"fastpath" text:"FAST-PATH"`
	Errors   map[string]uint64 `json:"errors,omitempty" yaml:"errors,omitempty" text:"ERRORS"`
}

// Snapshot returns the current value of the counters, one entry per call in
// the order of sockets.Calls.
func (m *Metrics) Snapshot() []CallStats {
	stats := make([]CallStats, numCalls)
	for c := call(0); c < numCalls; c++ {
		stats[c] = CallStats{
			Call:     c.String(),
			Kernel:   m.calls[c][kernelRoute].Load(),
			FastPath: m.calls[c][backendRoute].Load(),
		}
	}

	m.mutex.Lock()
	keys := maps.Keys(m.errors)
	values := make([]uint64, len(keys))
	for i, key := range keys {
		values[i] = m.errors[key].Load()
	}
	m.mutex.Unlock()

	for i, key := range keys {
		s := &stats[key.call]
		if s.Errors == nil {
			s.Errors = make(map[string]uint64)
		}
		s.Errors[key.errno] = values[i]
	}
	return stats
}

var _ prometheus.Collector = (*Metrics)(nil)
