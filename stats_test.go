package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/jlijian3/nginx-ofp/internal/assert"
	"github.com/jlijian3/nginx-ofp/internal/dispatch"
	"github.com/jlijian3/nginx-ofp/internal/engine"
	"github.com/jlijian3/nginx-ofp/internal/sockets"
	"github.com/jlijian3/nginx-ofp/internal/userstack"
	"gopkg.in/yaml.v3"
)

func startEngine(t *testing.T) *engine.Engine {
	e := engine.New(userstack.New(), engine.Config{
		Interfaces:     []string{"lo"},
		ConsoleAddress: "127.0.0.1:0",
	},
		engine.WithNumCPU(4),
		engine.WithEnv(func(string) string { return "" }),
	)
	t.Cleanup(func() { e.Close() })
	assert.OK(t, e.Start(context.Background()))
	return e
}

var statsTests = tests{
	"show the stats command help with the short option": func(t *testing.T) {
		stdout, stderr, exitCode := nginxOFP(t, "stats", "-h")
		assert.Equal(t, exitCode, 0)
		assert.HasPrefix(t, stdout, "Usage:\tnginx-ofp stats ")
		assert.Equal(t, stderr, "")
	},

	"the summary shows the engine state": func(t *testing.T) {
		e := startEngine(t)
		stdout, stderr, exitCode := nginxOFP(t, "stats", "--console", e.ConsoleURL())
		assert.Equal(t, exitCode, 0)
		assert.Equal(t, stderr, "")
		assert.HasPrefix(t, stdout, "ENGINE ID")
		assert.True(t, strings.Contains(stdout, e.ID().String()))
	},

	"the summary as json": func(t *testing.T) {
		e := startEngine(t)
		address := strings.TrimPrefix(e.ConsoleURL(), "http://")
		stdout, stderr, exitCode := nginxOFP(t, "stats", "--console", address, "-o", "json")
		assert.Equal(t, exitCode, 0)
		assert.Equal(t, stderr, "")

		var summary statsSummary
		assert.OK(t, json.Unmarshal([]byte(stdout), &summary))
		assert.Equal(t, summary.ID, e.ID().String())
		assert.True(t, summary.Armed)
		assert.Equal(t, summary.Workers, 3)
		assert.Equal(t, summary.Queues, 1)
	},

	"the calls are listed in a table": func(t *testing.T) {
		e := startEngine(t)
		stdout, stderr, exitCode := nginxOFP(t, "stats", "calls", "--console", e.ConsoleURL())
		assert.Equal(t, exitCode, 0)
		assert.Equal(t, stderr, "")

		lines := strings.Split(strings.TrimSpace(stdout), "\n")
		assert.Equal(t, len(lines), len(sockets.Calls)+1)
		assert.HasPrefix(t, lines[0], "CALL")
		assert.HasPrefix(t, lines[1], "socket")
	},

	"only the call names are listed in quiet mode": func(t *testing.T) {
		e := startEngine(t)
		stdout, _, exitCode := nginxOFP(t, "stats", "calls", "-q", "--console", e.ConsoleURL())
		assert.Equal(t, exitCode, 0)

		lines := strings.Split(strings.TrimSpace(stdout), "\n")
		assert.Equal(t, len(lines), len(sockets.Calls))
		for i, call := range sockets.Calls {
			assert.Equal(t, strings.TrimSpace(lines[i]), call)
		}
	},

	"the calls as json": func(t *testing.T) {
		e := startEngine(t)
		stdout, _, exitCode := nginxOFP(t, "stats", "calls", "--console", e.ConsoleURL(), "-o", "json")
		assert.Equal(t, exitCode, 0)

		var calls []dispatch.CallStats
		d := json.NewDecoder(strings.NewReader(stdout))
		for {
			var c dispatch.CallStats
			if err := d.Decode(&c); err != nil {
				if !errors.Is(err, io.EOF) {
					t.Fatal(err)
				}
				break
			}
			calls = append(calls, c)
		}
		assert.Equal(t, len(calls), len(sockets.Calls))
		assert.Equal(t, calls[0].Call, "socket")
	},

	"the interfaces as yaml": func(t *testing.T) {
		e := startEngine(t)
		stdout, _, exitCode := nginxOFP(t, "stats", "interfaces", "--console", e.ConsoleURL(), "-o", "yaml")
		assert.Equal(t, exitCode, 0)

		var i userstack.Interface
		assert.OK(t, yaml.NewDecoder(strings.NewReader(stdout)).Decode(&i))
		assert.Equal(t, i.Name, "lo")
		assert.Equal(t, i.RxQueues, 1)
		assert.Equal(t, i.TxQueues, 3)
	},

	"the interfaces are listed in a table": func(t *testing.T) {
		e := startEngine(t)
		stdout, _, exitCode := nginxOFP(t, "stats", "ifs", "--console", e.ConsoleURL())
		assert.Equal(t, exitCode, 0)
		assert.HasPrefix(t, stdout, "NAME")
		assert.True(t, strings.Contains(stdout, "lo "))
	},

	"only the interface names are listed in quiet mode": func(t *testing.T) {
		e := startEngine(t)
		stdout, _, exitCode := nginxOFP(t, "stats", "interfaces", "-q", "--console", e.ConsoleURL())
		assert.Equal(t, exitCode, 0)
		assert.Equal(t, strings.TrimSpace(stdout), "lo")
	},

	"unknown resource types cause an error": func(t *testing.T) {
		_, stderr, exitCode := nginxOFP(t, "stats", "processes", "--console", "127.0.0.1:1")
		assert.Equal(t, exitCode, 2)
		assert.HasPrefix(t, stderr, "nginx-ofp stats: no resources matching 'processes'")
	},

	"a disabled console is reported": func(t *testing.T) {
		_, stderr, exitCode := nginxOFP(t, "stats")
		assert.Equal(t, exitCode, 1)
		assert.True(t, strings.Contains(stderr, "the console is disabled"))
	},
}
