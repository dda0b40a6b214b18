// Package engine bootstraps the fast-path stack and the dispatcher fronting
// it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jlijian3/nginx-ofp/internal/console"
	"github.com/jlijian3/nginx-ofp/internal/debug"
	"github.com/jlijian3/nginx-ofp/internal/dispatch"
	"github.com/jlijian3/nginx-ofp/internal/fastpath"
	"github.com/jlijian3/nginx-ofp/internal/kernel"
	"github.com/jlijian3/nginx-ofp/internal/sockets"
	"github.com/jlijian3/nginx-ofp/internal/userstack"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

// MaxWorkers bounds the number of stack workers.
const MaxWorkers = 16

// QueuesEnvVar is the environment variable setting the number of receive
// queues of each interface.
const QueuesEnvVar = "NUM_QUEUES"

// Workers returns the number of stack workers on a host with numCPU CPUs when
// cores are requested. One CPU is left to the control thread when there are
// several.
func Workers(numCPU, cores int) int {
	workers := numCPU
	if cores > 0 {
		workers = cores
	}
	if workers > MaxWorkers {
		workers = MaxWorkers
	}
	if numCPU > 1 {
		workers--
	}
	return max(workers, 1)
}

// ReceiveQueues returns the number of receive queues per interface set in the
// environment, or fallback when it is unset or invalid.
func ReceiveQueues(getenv func(string) string, fallback int) int {
	if n, err := strconv.Atoi(getenv(QueuesEnvVar)); err == nil && n > 0 {
		return n
	}
	return max(fallback, 1)
}

// Config is the configuration of an engine.
type Config struct {
	// Interfaces attached to the stack, by name or index.
	Interfaces []string
	// Cores requested for the stack workers, zero uses all the CPUs.
	Cores int
	// Queues is the number of receive queues per interface when the
	// NUM_QUEUES environment variable is not set.
	Queues int
	// ConsoleAddress is where the management console listens, the console is
	// disabled when it is empty.
	ConsoleAddress string
	// MaxConnections bounds the connections accepted by the console.
	MaxConnections int
	// PollInterval paces the dispatcher's poll loop.
	PollInterval time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger of the engine and the components it starts.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.base = logger }
}

// WithKernel replaces the kernel entries resolved at start.
func WithKernel(k dispatch.Kernel) Option {
	return func(e *Engine) { e.kernel = k }
}

// WithTrace prints the calls made through the engine's API to w.
func WithTrace(w io.Writer) Option {
	return func(e *Engine) { e.trace = w }
}

// WithTraceTimestamps prefixes the lines of the trace with timestamps, mode is
// one of "none", "absolute" or "relative".
func WithTraceTimestamps(mode string) Option {
	return func(e *Engine) { e.traceTimestamps = mode }
}

// WithCollectors registers extra Prometheus collectors exposed by the console.
func WithCollectors(c ...prometheus.Collector) Option {
	return func(e *Engine) { e.collectors = append(e.collectors, c...) }
}

// WithEnv sets the function used to look up environment variables.
func WithEnv(getenv func(string) string) Option {
	return func(e *Engine) { e.getenv = getenv }
}

// WithNumCPU sets the number of CPUs of the host.
func WithNumCPU(n int) Option {
	return func(e *Engine) { e.numCPU = n }
}

// Engine owns the initialization of a fast-path stack and the dispatcher that
// routes socket calls to it.
type Engine struct {
	id              uuid.UUID
	config          Config
	backend         fastpath.Backend
	kernel          dispatch.Kernel
	trace           io.Writer
	traceTimestamps string
	closers         []io.Closer
	collectors      []prometheus.Collector
	getenv          func(string) string
	numCPU          int
	base            *slog.Logger
	logger          *slog.Logger

	once       sync.Once
	err        error
	started    time.Time
	workers    int
	queues     int
	dispatcher *dispatch.Dispatcher
	api        sockets.API
	registry   *prometheus.Registry
	console    *console.Console
	consoleURL string
}

// New constructs an engine initializing backend with config.
func New(backend fastpath.Backend, config Config, opts ...Option) *Engine {
	e := &Engine{
		id:      uuid.New(),
		config:  config,
		backend: backend,
		getenv:  os.Getenv,
		numCPU:  runtime.NumCPU(),
		base:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.base.With("component", "engine", "id", e.id.String())
	return e
}

// ID returns the instance identifier of the engine.
func (e *Engine) ID() uuid.UUID { return e.id }

// Start initializes the stack, attaches the interfaces, starts the console and
// arms the dispatcher. Only the first call has effects, later calls return its
// result.
func (e *Engine) Start(ctx context.Context) error {
	e.once.Do(func() { e.err = e.start(ctx) })
	return e.err
}

func (e *Engine) start(ctx context.Context) error {
	if e.kernel == nil {
		k, err := kernel.Default()
		if err != nil {
			return fmt.Errorf("resolving kernel entries: %w", err)
		}
		e.kernel = k
	}

	e.workers = Workers(e.numCPU, e.config.Cores)
	e.queues = ReceiveQueues(e.getenv, e.config.Queues)

	metrics := dispatch.NewMetrics()
	dispatchOptions := []dispatch.Option{
		dispatch.WithMetrics(metrics),
		dispatch.WithLogger(e.base.With("component", "dispatch")),
	}
	if e.config.PollInterval > 0 {
		dispatchOptions = append(dispatchOptions, dispatch.WithPollInterval(e.config.PollInterval))
	}
	e.dispatcher = dispatch.New(e.kernel, e.backend, dispatchOptions...)
	e.api = e.dispatcher
	if e.trace != nil {
		tracer := debug.NewTracer(e.dispatcher, e.trace)
		switch e.traceTimestamps {
		case "relative":
			tracer.RelativeTimestamps(true)
			tracer.EnableTimestamps(true)
		case "absolute":
			tracer.EnableTimestamps(true)
		}
		e.api = tracer
	}

	params := fastpath.GlobalParams{
		Interfaces: e.config.Interfaces,
		Workers:    e.workers,
	}
	if err := e.backend.InitGlobal(ctx, params); err != nil {
		return fmt.Errorf("global init of the stack: %w", err)
	}
	if err := e.backend.InitLocal(ctx); err != nil {
		return fmt.Errorf("local init of the stack: %w", err)
	}
	e.logger.Info("stack initialized", "workers", e.workers, "queues", e.queues)

	group, groupCtx := errgroup.WithContext(ctx)
	for _, name := range e.config.Interfaces {
		name := name
		group.Go(func() error {
			err := e.backend.IfnetCreate(groupCtx, name, fastpath.PktioParams{
				RxQueues: e.queues,
				TxQueues: e.workers,
			})
			if err != nil {
				return fmt.Errorf("creating interface %s: %w", name, err)
			}
			e.logger.Info("interface attached", "interface", name)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	e.registry = prometheus.NewRegistry()
	e.registry.MustRegister(metrics)
	e.registry.MustRegister(collectors.NewGoCollector())
	for _, c := range e.collectors {
		if err := e.registry.Register(c); err != nil {
			return fmt.Errorf("registering collector: %w", err)
		}
	}

	e.started = time.Now()

	if e.config.ConsoleAddress != "" {
		e.console = console.New(func() any { return e.Stats() }, e.registry,
			console.WithLogger(e.base.With("component", "console")),
			console.WithMaxConnections(e.config.MaxConnections),
		)
		addr, err := e.console.Start(ctx, e.config.ConsoleAddress)
		if err != nil {
			return fmt.Errorf("starting console: %w", err)
		}
		e.consoleURL = "http://" + addr.String()
	}

	e.dispatcher.Arm()
	e.logger.Info("dispatcher armed")
	return nil
}

// API returns the socket calls routed by the engine, or nil if the engine was
// not started.
func (e *Engine) API() sockets.API { return e.api }

// Dispatcher returns the dispatcher of the engine, or nil if the engine was
// not started.
func (e *Engine) Dispatcher() *dispatch.Dispatcher { return e.dispatcher }

// Registry returns the Prometheus registry of the engine.
func (e *Engine) Registry() *prometheus.Registry { return e.registry }

// ConsoleURL returns the base URL of the console, empty when it is disabled.
func (e *Engine) ConsoleURL() string { return e.consoleURL }

// Logger returns the logger that the engine derives component loggers from.
func (e *Engine) Logger() *slog.Logger { return e.base }

// Close disarms the dispatcher, stops the console and releases the stack when
// it has a Shutdown method.
func (e *Engine) Close() error {
	var errs []error
	if e.dispatcher != nil {
		e.dispatcher.Disarm()
	}
	if e.console != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.console.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if s, ok := e.backend.(shutdowner); ok {
		if err := s.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

// Stats is a snapshot of the state of an engine.
type Stats struct {
	ID      string               `json:"id" yaml:"id"`
	Started time.Time            `json:"started,omitempty" yaml:"started,omitempty"`
	Armed   bool                 `json:"armed" yaml:"armed"`
	Active  int                  `json:"active" yaml:"active"`
	Workers int                  `json:"workers" yaml:"workers"`
	Queues  int                  `json:"queues" yaml:"queues"`
	Console string               `json:"console,omitempty" yaml:"console,omitempty"`
	Stack   any                  `json:"stack,omitempty" yaml:"stack,omitempty"`
	Calls   []dispatch.CallStats `json:"calls" yaml:"calls"`
}

// Stats returns a snapshot of the state of the engine. Backends exposing a
// Stats method have its result included.
func (e *Engine) Stats() Stats {
	s := Stats{
		ID:      e.id.String(),
		Started: e.started,
		Active:  -1,
		Workers: e.workers,
		Queues:  e.queues,
		Console: e.consoleURL,
	}
	if e.dispatcher != nil {
		s.Armed = e.dispatcher.Armed()
		s.Active = e.dispatcher.Active()
		s.Calls = e.dispatcher.Metrics().Snapshot()
	}
	if st, ok := e.backend.(stackStats); ok {
		s.Stack = st.Stats()
	}
	return s
}

type shutdowner interface {
	Shutdown() error
}

type stackStats interface {
	Stats() userstack.Stats
}
