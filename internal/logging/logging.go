package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// EnvVar is the environment variable holding a log spec.
const EnvVar = "NGINXOFP_LOG"

const componentKey = "component"

// Options configures New. The first non-empty spec of CLISpec, EnvSpec and
// ConfigSpec is used.
type Options struct {
	CLISpec    string
	EnvSpec    string
	ConfigSpec string
	// Format is either "text" (the default) or "json".
	Format string
	// Output defaults to os.Stderr.
	Output io.Writer
}

// New constructs a logger filtering records by component.
func New(opts Options) (*slog.Logger, error) {
	var specString string
	switch {
	case opts.CLISpec != "":
		specString = opts.CLISpec
	case opts.EnvSpec != "":
		specString = opts.EnvSpec
	default:
		specString = opts.ConfigSpec
	}
	spec, err := ParseSpec(specString)
	if err != nil {
		return nil, fmt.Errorf("invalid log spec: %w", err)
	}

	output := opts.Output
	if output == nil {
		output = os.Stderr
	}
	handlerOptions := &slog.HandlerOptions{
		Level:       LevelTrace.Slog(),
		ReplaceAttr: replaceLevel,
	}

	var handler slog.Handler
	switch opts.Format {
	case "", "text":
		handler = slog.NewTextHandler(output, handlerOptions)
	case "json":
		handler = slog.NewJSONHandler(output, handlerOptions)
	default:
		return nil, fmt.Errorf("unknown log format: %q", opts.Format)
	}
	return slog.New(&filteringHandler{inner: handler, spec: &spec}), nil
}

// FromEnv constructs a text logger configured by the NGINXOFP_LOG environment
// variable.
func FromEnv() (*slog.Logger, error) {
	return New(Options{EnvSpec: os.Getenv(EnvVar)})
}

func replaceLevel(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey && len(groups) == 0 {
		if l, ok := a.Value.Any().(slog.Level); ok && Level(l) == LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}

type filteringHandler struct {
	inner     slog.Handler
	spec      *Spec
	component string
}

func (h *filteringHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.spec.LevelFor(h.component).Slog()
}

func (h *filteringHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.Enabled(ctx, r.Level) {
		return nil
	}
	return h.inner.Handle(ctx, r)
}

func (h *filteringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := &filteringHandler{
		inner:     h.inner.WithAttrs(attrs),
		spec:      h.spec,
		component: h.component,
	}
	for _, attr := range attrs {
		if attr.Key == componentKey {
			c.component = attr.Value.String()
		}
	}
	return c
}

func (h *filteringHandler) WithGroup(name string) slog.Handler {
	return &filteringHandler{
		inner:     h.inner.WithGroup(name),
		spec:      h.spec,
		component: h.component,
	}
}
