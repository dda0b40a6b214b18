package main

import (
	"context"
	"io"
	"log"
	"os"
)

func init() {
	// The engine logs with log/slog, the default logger is only used by
	// libraries.
	log.SetOutput(io.Discard)
}

func main() {
	os.Exit(root(context.Background(), os.Args[1:]...))
}
