package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	ofpconfig "github.com/jlijian3/nginx-ofp/internal/config"
	"github.com/jlijian3/nginx-ofp/internal/engine"
	"github.com/jlijian3/nginx-ofp/internal/print/human"
	"github.com/jlijian3/nginx-ofp/internal/webserver"
)

const serveUsage = `
Usage:	nginx-ofp serve [options]

   The serve sub-command starts the fast-path stack on the configured
   interfaces and serves the files of a directory over HTTP. The listening
   socket and every connection live on the userspace stack, the sockets of
   other families are routed to the kernel.

   The server runs until it receives SIGINT or SIGTERM.

Example:

   $ NUM_QUEUES=2 nginx-ofp serve -i eth0 -L 0.0.0.0:80 --root /var/www

Options:
   -c, --config path              Path to the nginx-ofp configuration file (overrides NGINXOFPCONFIG)
       --console addr             Address of the monitoring console, empty to disable it
       --cores n                  Number of cores used by the stack, zero for all (default from the configuration)
   -h, --help                     Show this usage information
   -i, --interface name           Attach an interface to the stack (may be repeated)
   -L, --listen addr              IPv4 address and port to serve on (default to 0.0.0.0:8080)
       --queues n                 Number of receive queues per interface (overridden by NUM_QUEUES)
       --root dir                 Directory to serve files from (default to the working directory)
   -T, --trace path               Write a trace of the socket calls to a file
       --trace-compression type   Compression of the trace file, one of none, snappy, zstd (default to none)
       --trace-timestamps mode    Timestamps of the trace lines, one of none, absolute, relative (default to none)
   -v, --log-level spec           Log level, optionally per component (e.g. info,dispatch=debug)
`

func serve(ctx context.Context, args []string) error {
	var (
		interfaces       stringList
		cores            int
		queues           int
		consoleAddress   string
		listen           string
		root             human.Path
		trace            human.Path
		traceCompression = compression("none")
		traceTimestamps  = timestamps("none")
		logLevel         string
	)

	flagSet := newFlagSet("nginx-ofp serve", serveUsage)
	customVar(flagSet, &interfaces, "i", "interface")
	intVar(flagSet, &cores, "cores")
	intVar(flagSet, &queues, "queues")
	stringVar(flagSet, &consoleAddress, "console")
	stringVar(flagSet, &listen, "L", "listen")
	customVar(flagSet, &root, "root")
	customVar(flagSet, &trace, "T", "trace")
	customVar(flagSet, &traceCompression, "trace-compression")
	customVar(flagSet, &traceTimestamps, "trace-timestamps")
	stringVar(flagSet, &logLevel, "v", "log-level")

	args, err := parseFlags(flagSet, args)
	if err != nil {
		return err
	}
	if len(args) != 0 {
		return usageError("nginx-ofp serve: unexpected arguments: %q", args)
	}

	config, err := ofpconfig.Load()
	if err != nil {
		return err
	}

	flagSet.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "i", "interface":
			config.Interfaces = append(config.Interfaces, interfaces...)
		case "cores":
			config.Cores = cores
		case "queues":
			config.Queues = queues
		case "console":
			config.Console.Address = consoleAddress
		case "L", "listen":
			config.Server.Address = listen
		case "root":
			config.Server.Root = root
		case "T", "trace":
			config.Trace.Path = ofpconfig.NullableValue(trace)
		case "trace-compression":
			config.Trace.Compression = string(traceCompression)
		case "trace-timestamps":
			config.Trace.Timestamps = string(traceTimestamps)
		case "v", "log-level":
			config.Log.Level = logLevel
		}
	})
	config.Interfaces = dedup(config.Interfaces)

	if err := config.Validate(); err != nil {
		return usageError("nginx-ofp serve: %s", err)
	}

	rootDir, err := config.Server.Root.Resolve()
	if err != nil {
		return err
	}

	e, err := engine.FromConfig(config)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := e.Start(ctx); err != nil {
		return err
	}

	server := webserver.New(e.API(), rootDir,
		webserver.WithLogger(e.Logger()),
		webserver.WithBacklog(config.Server.Backlog),
	)
	return server.ListenAndServe(ctx, config.Server.Address)
}

// dedup removes repeated values, the flag and the configuration may both name
// the same interface.
func dedup(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	unique := values[:0]
	for _, v := range values {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			unique = append(unique, v)
		}
	}
	return unique
}
