package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	ofpconfig "github.com/jlijian3/nginx-ofp/internal/config"
	"github.com/jlijian3/nginx-ofp/internal/dispatch"
	"github.com/jlijian3/nginx-ofp/internal/engine"
	"github.com/jlijian3/nginx-ofp/internal/print/human"
	"github.com/jlijian3/nginx-ofp/internal/print/jsonprint"
	"github.com/jlijian3/nginx-ofp/internal/print/textprint"
	"github.com/jlijian3/nginx-ofp/internal/print/yamlprint"
	"github.com/jlijian3/nginx-ofp/internal/stream"
	"github.com/jlijian3/nginx-ofp/internal/userstack"
)

const statsUsage = `
Usage:	nginx-ofp stats [calls|interfaces] [options]

   The stats sub-command queries the console of a running server. Without a
   resource type, it shows a summary of the engine state. The calls resource
   lists the number of calls routed to the kernel and to the fast-path stack,
   and the interfaces resource lists the interfaces attached to the stack.

Examples:

   $ nginx-ofp stats
   ENGINE ID                             ARMED  ACTIVE  WORKERS  QUEUES  SOCKETS  UPTIME
   f6e9acbc-0543-47df-9413-b99f569cfa3b  true   1       3        2       12       2m31s

   $ nginx-ofp stats interfaces -o json
   {
     "name": "eth0",
     ...
   }

Options:
   -c, --config path    Path to the nginx-ofp configuration file (overrides NGINXOFPCONFIG)
       --console addr   Address of the console to query (default from the configuration)
   -h, --help           Show this usage information
   -o, --output format  Output format, one of: text, json, yaml
   -q, --quiet          Only display the first column of text tables, without headers
`

// statsReport is the payload of the /stats endpoint when the server runs on
// the userspace stack.
type statsReport struct {
	engine.Stats
	Stack userstack.Stats `json:"stack"`
}

type statsSummary struct {
	ID      string         `json:"id"      yaml:"id"      text:"ENGINE ID"`
	Armed   bool           `json:"armed"   yaml:"armed"   text:"ARMED"`
	Active  int            `json:"active"  yaml:"active"  text:"ACTIVE"`
	Workers int            `json:"workers" yaml:"workers" text:"WORKERS"`
	Queues  int            `json:"queues"  yaml:"queues"  text:"QUEUES"`
	Sockets int            `json:"sockets" yaml:"sockets" text:"SOCKETS"`
	Uptime  human.Duration `json:"uptime"  yaml:"uptime"  text:"UPTIME"`
}

func stats(ctx context.Context, args []string) error {
	var (
		consoleAddress string
		output         = outputFormat("text")
		quiet          = false
	)

	flagSet := newFlagSet("nginx-ofp stats", statsUsage)
	stringVar(flagSet, &consoleAddress, "console")
	customVar(flagSet, &output, "o", "output")
	boolVar(flagSet, &quiet, "q", "quiet")

	args, err := parseFlags(flagSet, args)
	if err != nil {
		return err
	}

	var resource string
	switch len(args) {
	case 0:
	case 1:
		resource = args[0]
	default:
		return usageError("nginx-ofp stats: too many arguments: %q", args)
	}

	if consoleAddress == "" {
		config, err := ofpconfig.Load()
		if err != nil {
			return err
		}
		consoleAddress = config.Console.Address
	}
	if consoleAddress == "" {
		return fmt.Errorf("the console is disabled, set console.address in %s or pass --console", ofpconfig.Path)
	}

	switch resource {
	case "", "summary":
		report, err := fetchStats(ctx, consoleAddress)
		if err != nil {
			return err
		}
		return printValues(output,
			newTableWriter(os.Stdout, quiet, nil, func(s statsSummary) (statsSummary, error) { return s, nil }),
			summarize(report),
		)

	case "call", "calls":
		report, err := fetchStats(ctx, consoleAddress)
		if err != nil {
			return err
		}
		type call struct {
			Call     string `text:"CALL"`
			Kernel   uint64 `text:"KERNEL"`
			FastPath uint64 `text:"FAST-PATH"`
			Errors   uint64 `text:"ERRORS"`
		}
		return printValues(output,
			newTableWriter(os.Stdout, quiet, nil, func(c dispatch.CallStats) (call, error) {
				row := call{Call: c.Call, Kernel: c.Kernel, FastPath: c.FastPath}
				for _, n := range c.Errors {
					row.Errors += n
				}
				return row, nil
			}),
			report.Calls...,
		)

	case "if", "ifs", "interface", "interfaces":
		report, err := fetchStats(ctx, consoleAddress)
		if err != nil {
			return err
		}
		type ifnet struct {
			Name     string `text:"NAME"`
			Index    int    `text:"INDEX"`
			Addrs    string `text:"ADDRESSES"`
			RxQueues int    `text:"RX QUEUES"`
			TxQueues int    `text:"TX QUEUES"`
		}
		return printValues(output,
			newTableWriter(os.Stdout, quiet,
				func(a, b ifnet) int { return a.Index - b.Index },
				func(i userstack.Interface) (ifnet, error) {
					return ifnet{
						Name:     i.Name,
						Index:    i.Index,
						Addrs:    strings.Join(i.Addrs, ","),
						RxQueues: i.RxQueues,
						TxQueues: i.TxQueues,
					}, nil
				},
			),
			report.Stack.Interfaces...,
		)

	default:
		return usageError("nginx-ofp stats: no resources matching '%s'\n\nUse 'nginx-ofp stats <resource type>' where the supported resource types are:\n   calls\n   interfaces", resource)
	}
}

func summarize(report *statsReport) statsSummary {
	summary := statsSummary{
		ID:      report.ID,
		Armed:   report.Armed,
		Active:  report.Active,
		Workers: report.Workers,
		Queues:  report.Queues,
		Sockets: report.Stack.Sockets,
	}
	if !report.Started.IsZero() {
		summary.Uptime = human.Duration(time.Since(report.Started).Round(time.Second))
	}
	return summary
}

// newTableWriter returns a text table of rows of type T1 built from the values
// of type T2 written to it. Quiet tables only list the first column, without
// a header.
func newTableWriter[T1, T2 any](w io.Writer, quiet bool, orderBy func(T1, T1) int, conv func(T2) (T1, error)) stream.WriteCloser[T2] {
	opts := []textprint.TableOption[T1]{
		textprint.OrderBy(orderBy),
	}
	if quiet {
		opts = append(opts,
			textprint.Header[T1](false),
			textprint.List[T1](true),
		)
	}
	tw := textprint.NewTableWriter[T1](w, opts...)
	cw := stream.ConvertWriter[T1](tw, conv)
	return stream.NewWriteCloser(cw, tw)
}

func printValues[T any](output outputFormat, table stream.WriteCloser[T], values ...T) error {
	var writer stream.WriteCloser[T]
	switch output {
	case "json":
		writer = jsonprint.NewWriter[T](os.Stdout)
	case "yaml":
		writer = yamlprint.NewWriter[T](os.Stdout)
	default:
		writer = table
	}
	_, err := stream.Copy[T](writer, stream.NewReader(values...))
	if cerr := writer.Close(); err == nil {
		err = cerr
	}
	return err
}

func fetchStats(ctx context.Context, address string) (*statsReport, error) {
	if !strings.Contains(address, "://") {
		address = "http://" + address
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(address, "/")+"/stats?format=json", nil)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: 5 * time.Second}
	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, fmt.Errorf("%s: %s: %s", req.URL, res.Status, strings.TrimSpace(string(b)))
	}

	report := new(statsReport)
	if err := json.NewDecoder(res.Body).Decode(report); err != nil {
		return nil, fmt.Errorf("decoding stats: %w", err)
	}
	return report, nil
}
