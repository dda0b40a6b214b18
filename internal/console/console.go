// Package console serves the management endpoints of a running engine.
//
//	GET /stats     snapshot of the engine state, JSON by default or YAML with
//	               ?format=yaml or an Accept header of application/yaml
//	GET /metrics   Prometheus metrics
//	GET /healthz   liveness probe
package console

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"
	"gopkg.in/yaml.v3"
)

// Option configures a Console.
type Option func(*Console)

// WithLogger sets the logger of the console.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Console) { c.logger = logger }
}

// WithMaxConnections bounds the number of concurrent connections accepted by
// the console. Zero means no limit.
func WithMaxConnections(n int) Option {
	return func(c *Console) { c.maxConnections = n }
}

// Console is an HTTP server exposing the state of an engine.
type Console struct {
	stats          func() any
	gatherer       prometheus.Gatherer
	maxConnections int
	logger         *slog.Logger
	server         *http.Server
	done           chan struct{}
}

// New constructs a console serving the values returned by stats and the
// metrics collected by gatherer.
func New(stats func() any, gatherer prometheus.Gatherer, opts ...Option) *Console {
	c := &Console{
		stats:    stats,
		gatherer: gatherer,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Handler returns the HTTP handler of the console.
func (c *Console) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/stats", c.serveStats)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{}))
	return mux
}

func (c *Console) serveStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var b []byte
	var err error
	stats := c.stats()
	if wantsYAML(r) {
		w.Header().Set("Content-Type", "application/yaml")
		b, err = yaml.Marshal(stats)
	} else {
		w.Header().Set("Content-Type", "application/json")
		b, err = json.MarshalIndent(stats, "", "  ")
		b = append(b, '\n')
	}
	if err != nil {
		c.logger.Error("encoding stats", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(b)
}

func wantsYAML(r *http.Request) bool {
	switch r.URL.Query().Get("format") {
	case "yaml", "yml":
		return true
	case "json":
		return false
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/yaml") || strings.Contains(accept, "text/yaml")
}

// Start listens on address and serves the console in the background. The
// console is ready to accept connections when Start returns.
func (c *Console) Start(ctx context.Context, address string) (net.Addr, error) {
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	if c.maxConnections > 0 {
		l = netutil.LimitListener(l, c.maxConnections)
	}

	c.server = &http.Server{
		Handler:           c.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		if err := c.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("console stopped", "error", err)
		}
	}()

	c.logger.Info("console listening", "address", l.Addr().String())
	return l.Addr(), nil
}

// Shutdown stops the console, waiting for active requests to complete until
// ctx is canceled.
func (c *Console) Shutdown(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	err := c.server.Shutdown(ctx)
	<-c.done
	return err
}
