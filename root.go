package main

// Notes on program structure
// --------------------------
//
// nginx-ofp uses subcommands to invoke specific functionalities of the
// program. Each subcommand is implemented by a function named after the
// command, in a file of the same name (e.g. the "help" command is implemented
// by the help function in help.go).
//
// The usage message for each command is declared by a constant starting with
// the command name and followed by the suffix "Usage". For example, the usage
// message for the "help" command is declared by the constant helpUsage.
//
// The usage message contains a "Usage:	nginx-ofp <command>" section presenting
// the structure of the command. Note the tabulation separating "Usage:" and
// "nginx-ofp".

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/pprof"
	"slices"
	"strings"

	ofpconfig "github.com/jlijian3/nginx-ofp/internal/config"
	"github.com/jlijian3/nginx-ofp/internal/print/human"
)

const rootUsage = `nginx-ofp - Socket calls on a userspace fast-path stack

   nginx-ofp routes the socket calls of a server to either the host kernel or
   a userspace network stack attached to the host interfaces. Sockets of the
   INET family live on the fast-path stack, every other socket is left to the
   kernel.

Example:

   $ nginx-ofp serve --interface eth0 --root /var/www
   ...

   $ nginx-ofp stats calls
   CALL    KERNEL  FAST-PATH  ERRORS
   socket  2       14
   ...

For a list of commands available, run 'nginx-ofp help'.`

// root is the nginx-ofp entrypoint.
func root(ctx context.Context, args ...string) int {
	var (
		// Secret options, we don't document them since they are only used for
		// development. Since they are not part of the public interface we may
		// remove or change the syntax at any time.
		cpuProfile human.Path
		memProfile human.Path
	)

	if path := os.Getenv(ofpconfig.EnvVar); path != "" {
		ofpconfig.Path = human.Path(path)
	}

	flagSet := newFlagSet("nginx-ofp", helpUsage)
	customVar(flagSet, &cpuProfile, "cpuprofile")
	customVar(flagSet, &memProfile, "memprofile")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "%s\n", err)
		return 2
	}

	if args = flagSet.Args(); len(args) == 0 {
		fmt.Println(rootUsage)
		return 0
	}

	if cpuProfile != "" {
		path, _ := cpuProfile.Resolve()
		f, err := os.Create(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "WARN: could not create CPU profile: %s\n", err)
		} else {
			defer f.Close()
			_ = pprof.StartCPUProfile(f)
			defer pprof.StopCPUProfile()
		}
	}

	if memProfile != "" {
		path, _ := memProfile.Resolve()
		defer func() {
			f, err := os.Create(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "WARN: could not create memory profile: %s\n", err)
				return
			}
			defer f.Close()
			runtime.GC()
			_ = pprof.WriteHeapProfile(f)
		}()
	}

	cmd, args := args[0], args[1:]

	var err error
	switch cmd {
	case "config":
		err = config(ctx, args)
	case "help":
		err = help(ctx, args)
	case "serve":
		err = serve(ctx, args)
	case "stats":
		err = stats(ctx, args)
	case "version":
		err = version(ctx, args)
	default:
		err = unknown(ctx, cmd)
	}

	switch e := err.(type) {
	case nil:
		return 0
	case exitCode:
		return int(e)
	case usage:
		fmt.Fprintf(os.Stderr, "%s\n", e)
		return 2
	default:
		fmt.Fprintf(os.Stderr, "ERR: nginx-ofp %s: %s\n", cmd, err)
		return 1
	}
}

// exitCode is an error type returned from command functions to indicate the
// exit code that should be returned by the program.
type exitCode int

func (e exitCode) Error() string {
	return fmt.Sprintf("exit: %d", e)
}

// usage is an error type returned from command functions to indicate a usage
// error.
//
// Usage errors cause the program to exit with status code 2.
type usage string

func usageError(msg string, args ...any) error {
	return usage(fmt.Sprintf(msg, args...))
}

func (e usage) Error() string {
	return string(e)
}

func setEnum[T ~string](enum *T, typ string, value string, options ...string) error {
	for _, option := range options {
		if option == value {
			*enum = T(option)
			return nil
		}
	}
	return fmt.Errorf("unsupported %s: %q (not one of %s)", typ, value, strings.Join(options, ", "))
}

type compression string

func (c compression) String() string {
	return string(c)
}

func (c *compression) Set(value string) error {
	return setEnum(c, "compression type", value, "snappy", "zstd", "none")
}

type timestamps string

func (t timestamps) String() string {
	return string(t)
}

func (t *timestamps) Set(value string) error {
	return setEnum(t, "timestamps", value, "none", "absolute", "relative")
}

type outputFormat string

func (o outputFormat) String() string {
	return string(o)
}

func (o *outputFormat) Set(value string) error {
	return setEnum(o, "output format", value, "text", "json", "yaml")
}

type stringList []string

func (s stringList) String() string {
	return fmt.Sprintf("%v", []string(s))
}

func (s *stringList) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func newFlagSet(cmd, usage string) *flag.FlagSet {
	usage = strings.TrimSpace(usage)
	flagSet := flag.NewFlagSet(cmd, flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.Usage = func() { fmt.Println(usage) }
	customVar(flagSet, &ofpconfig.Path, "c", "config")
	return flagSet
}

// parseFlags is a greedy parser which consumes all options known to f and
// returns the remaining arguments.
//
// Asking for help yields exitCode(0), other parsing failures are usage errors.
func parseFlags(f *flag.FlagSet, args []string) ([]string, error) {
	var unknownArgs []string
	for {
		if err := f.Parse(args); err != nil {
			if errors.Is(err, flag.ErrHelp) {
				return nil, exitCode(0)
			}
			return nil, usageError("%s: %s", f.Name(), err)
		}
		if args = f.Args(); len(args) == 0 {
			return unknownArgs, nil
		}
		i := slices.IndexFunc(args, func(s string) bool {
			return strings.HasPrefix(s, "-")
		})
		if i < 0 {
			i = len(args)
		} else if args[i] == "-" {
			i++
		}
		unknownArgs = append(unknownArgs, args[:i]...)
		args = args[i:]
	}
}

func boolVar(f *flag.FlagSet, dst *bool, name string, alias ...string) {
	f.BoolVar(dst, name, *dst, "")
	for _, name := range alias {
		f.BoolVar(dst, name, *dst, "")
	}
}

func intVar(f *flag.FlagSet, dst *int, name string, alias ...string) {
	f.IntVar(dst, name, *dst, "")
	for _, name := range alias {
		f.IntVar(dst, name, *dst, "")
	}
}

func stringVar(f *flag.FlagSet, dst *string, name string, alias ...string) {
	f.StringVar(dst, name, *dst, "")
	for _, name := range alias {
		f.StringVar(dst, name, *dst, "")
	}
}

func customVar(f *flag.FlagSet, dst flag.Value, name string, alias ...string) {
	f.Var(dst, name, "")
	for _, name := range alias {
		f.Var(dst, name, "")
	}
}
