package main

import (
	"context"
	"fmt"
	"runtime/debug"
)

const versionUsage = `
Usage:	nginx-ofp version

Options:
   -h, --help  Show this usage information
`

func version(ctx context.Context, args []string) error {
	flagSet := newFlagSet("nginx-ofp version", versionUsage)
	if _, err := parseFlags(flagSet, args); err != nil {
		return err
	}
	fmt.Printf("nginx-ofp %s\n", currentVersion())
	return nil
}

func currentVersion() string {
	version := "devel"
	if info, ok := debug.ReadBuildInfo(); ok {
		switch info.Main.Version {
		case "":
		case "(devel)":
		default:
			version = info.Main.Version
		}
	}
	return version
}
