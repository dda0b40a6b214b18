package engine

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jlijian3/nginx-ofp/internal/config"
	"github.com/jlijian3/nginx-ofp/internal/debug"
	"github.com/jlijian3/nginx-ofp/internal/logging"
	"github.com/jlijian3/nginx-ofp/internal/userstack"
)

// FromConfig constructs an engine running the userspace stack configured by
// c. The options are applied after the ones derived from the configuration.
func FromConfig(c *config.Config, opts ...Option) (*Engine, error) {
	logger, err := logging.New(logging.Options{
		EnvSpec:    os.Getenv(logging.EnvVar),
		ConfigSpec: c.Log.Level,
		Format:     c.Log.Format,
	})
	if err != nil {
		return nil, err
	}

	stack := userstack.New(
		userstack.WithLogger(logger),
		userstack.WithBufferSize(c.Stack.BufferSize.Int()),
		userstack.WithBufferPool(c.Stack.BufferPool.Int()),
		userstack.WithMaxSockets(c.Stack.MaxSockets),
	)

	var closers []io.Closer
	baseOptions := []Option{WithLogger(logger)}

	if path, ok := c.Trace.Path.Value(); ok {
		name, err := path.Resolve()
		if err != nil {
			return nil, err
		}
		f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening trace: %w", err)
		}
		w, err := debug.NewWriter(f, c.Trace.Compression)
		if err != nil {
			f.Close()
			return nil, err
		}
		// The compressor must be flushed before the file is closed.
		closers = append(closers, w, f)
		baseOptions = append(baseOptions, WithTrace(w), WithTraceTimestamps(c.Trace.Timestamps))
	}

	e := New(stack, Config{
		Interfaces:     c.Interfaces,
		Cores:          c.Cores,
		Queues:         c.Queues,
		ConsoleAddress: c.Console.Address,
		MaxConnections: c.Console.MaxConnections,
		PollInterval:   time.Duration(c.Stack.PollInterval),
	}, append(baseOptions, opts...)...)
	e.closers = closers
	return e, nil
}
