package main

import (
	"context"
)

const unknownCommand = `nginx-ofp %s: unknown command
For a list of commands available, run 'nginx-ofp help'.`

func unknown(ctx context.Context, cmd string) error {
	return usageError(unknownCommand, cmd)
}
