package main

import (
	"context"
	"fmt"
	"strings"
)

const helpUsage = `
Usage:	nginx-ofp <command> [options]

Server Commands:
   serve    Serve static files from sockets of the fast-path stack

Monitoring Commands:
   stats    Show the call counters and interfaces of a running server

Other Commands:
   config   View or edit the nginx-ofp configuration
   help     Show usage information about nginx-ofp commands
   version  Show the nginx-ofp version information

Global Options:
   -c, --config path  Path to the nginx-ofp configuration file (overrides NGINXOFPCONFIG)
   -h, --help         Show usage information

For a description of each command, run 'nginx-ofp help <command>'.`

func help(ctx context.Context, args []string) error {
	flagSet := newFlagSet("nginx-ofp help", helpUsage)

	args, err := parseFlags(flagSet, args)
	if err != nil {
		return err
	}

	var cmd string
	var msg string

	if len(args) > 0 {
		cmd = args[0]
	}

	switch cmd {
	case "config":
		msg = configUsage
	case "help", "":
		msg = helpUsage
	case "serve":
		msg = serveUsage
	case "stats":
		msg = statsUsage
	case "version":
		msg = versionUsage
	default:
		return usageError("nginx-ofp help %s: unknown command", cmd)
	}

	fmt.Println(strings.TrimSpace(msg))
	return nil
}
