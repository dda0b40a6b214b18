package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jlijian3/nginx-ofp/internal/assert"
	ofpconfig "github.com/jlijian3/nginx-ofp/internal/config"
	"gopkg.in/yaml.v3"
)

var configTests = tests{
	"show the config command help with the short option": func(t *testing.T) {
		stdout, stderr, exitCode := nginxOFP(t, "config", "-h")
		assert.Equal(t, exitCode, 0)
		assert.HasPrefix(t, stdout, "Usage:\tnginx-ofp config ")
		assert.Equal(t, stderr, "")
	},

	"the text output is the content of the configuration file": func(t *testing.T) {
		stdout, stderr, exitCode := nginxOFP(t, "config")
		assert.Equal(t, exitCode, 0)
		assert.Equal(t, stdout, testConfiguration)
		assert.Equal(t, stderr, "")
	},

	"the json output has the defaults applied": func(t *testing.T) {
		stdout, stderr, exitCode := nginxOFP(t, "config", "-o", "json")
		assert.Equal(t, exitCode, 0)
		assert.Equal(t, stderr, "")

		var c ofpconfig.Config
		assert.OK(t, json.Unmarshal([]byte(stdout), &c))
		assert.Equal(t, c.Queues, 1)
		assert.Equal(t, c.Console.Address, "")
		assert.Equal(t, c.Log.Level, "error")
		assert.Equal(t, c.Server.Backlog, 511)
	},

	"the yaml output has the defaults applied": func(t *testing.T) {
		stdout, stderr, exitCode := nginxOFP(t, "config", "--output", "yaml")
		assert.Equal(t, exitCode, 0)
		assert.Equal(t, stderr, "")

		var c ofpconfig.Config
		assert.OK(t, yaml.Unmarshal([]byte(stdout), &c))
		assert.Equal(t, c.Log.Format, "text")
		assert.Equal(t, c.Trace.Compression, "none")
	},

	"the defaults are shown when the file does not exist": func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "missing.yaml")
		stdout, stderr, exitCode := nginxOFP(t, "config", "-c", path)
		assert.Equal(t, exitCode, 0)
		assert.Equal(t, stderr, "")
		assert.True(t, strings.Contains(stdout, "console:"))
		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err))
	},

	"invalid configuration files are reported": func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "invalid.yaml")
		assert.OK(t, os.WriteFile(path, []byte("queues: 0\n"), 0666))
		_, stderr, exitCode := nginxOFP(t, "config", "-o", "json", "--config", path)
		assert.Equal(t, exitCode, 1)
		assert.HasPrefix(t, stderr, "ERR: nginx-ofp config: ")
		assert.True(t, strings.Contains(stderr, "queues"))
	},

	"passing an unsupported output format causes an error": func(t *testing.T) {
		_, _, exitCode := nginxOFP(t, "config", "-o", "xml")
		assert.Equal(t, exitCode, 2)
	},

	"editing the configuration requires an editor": func(t *testing.T) {
		t.Setenv("EDITOR", "")
		_, stderr, exitCode := nginxOFP(t, "config", "--edit")
		assert.Equal(t, exitCode, 1)
		assert.Equal(t, stderr, "ERR: nginx-ofp config: $EDITOR is not set\n")
	},

	"the configuration is updated by the editor": func(t *testing.T) {
		t.Setenv("EDITOR", "sed -i -e s/queues:\\ 1/queues:\\ 4/")
		_, stderr, exitCode := nginxOFP(t, "config", "--edit")
		assert.Equal(t, exitCode, 0)
		assert.Equal(t, stderr, "")

		c, err := ofpconfig.Load()
		assert.OK(t, err)
		assert.Equal(t, c.Queues, 4)
	},
}
