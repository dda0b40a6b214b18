package main

import (
	"testing"

	"github.com/jlijian3/nginx-ofp/internal/assert"
)

var helpTests = tests{
	"calling help with an unknown command causes an error": func(t *testing.T) {
		stdout, stderr, exitCode := nginxOFP(t, "help", "whatever")
		assert.Equal(t, exitCode, 2)
		assert.Equal(t, stdout, "")
		assert.Equal(t, stderr, "nginx-ofp help whatever: unknown command\n")
	},

	"passing an unsupported flag to the command causes an error": func(t *testing.T) {
		_, _, exitCode := nginxOFP(t, "help", "-_")
		assert.Equal(t, exitCode, 2)
	},

	"show the help command help with the short option": func(t *testing.T) {
		stdout, stderr, exitCode := nginxOFP(t, "help", "-h")
		assert.Equal(t, exitCode, 0)
		assert.HasPrefix(t, stdout, "Usage:\tnginx-ofp <command> ")
		assert.Equal(t, stderr, "")
	},

	"show the help command help with the long option": func(t *testing.T) {
		stdout, stderr, exitCode := nginxOFP(t, "help", "--help")
		assert.Equal(t, exitCode, 0)
		assert.HasPrefix(t, stdout, "Usage:\tnginx-ofp <command> ")
		assert.Equal(t, stderr, "")
	},

	"show the help command help after a command name": func(t *testing.T) {
		stdout, stderr, exitCode := nginxOFP(t, "help", "stats", "--help")
		assert.Equal(t, exitCode, 0)
		assert.HasPrefix(t, stdout, "Usage:\tnginx-ofp <command> ")
		assert.Equal(t, stderr, "")
	},

	"nginx-ofp help config": func(t *testing.T) {
		stdout, stderr, exitCode := nginxOFP(t, "help", "config")
		assert.Equal(t, exitCode, 0)
		assert.HasPrefix(t, stdout, "Usage:\tnginx-ofp config ")
		assert.Equal(t, stderr, "")
	},

	"nginx-ofp help help": func(t *testing.T) {
		stdout, stderr, exitCode := nginxOFP(t, "help", "help")
		assert.Equal(t, exitCode, 0)
		assert.HasPrefix(t, stdout, "Usage:\tnginx-ofp <command> ")
		assert.Equal(t, stderr, "")
	},

	"nginx-ofp help serve": func(t *testing.T) {
		stdout, stderr, exitCode := nginxOFP(t, "help", "serve")
		assert.Equal(t, exitCode, 0)
		assert.HasPrefix(t, stdout, "Usage:\tnginx-ofp serve ")
		assert.Equal(t, stderr, "")
	},

	"nginx-ofp help stats": func(t *testing.T) {
		stdout, stderr, exitCode := nginxOFP(t, "help", "stats")
		assert.Equal(t, exitCode, 0)
		assert.HasPrefix(t, stdout, "Usage:\tnginx-ofp stats ")
		assert.Equal(t, stderr, "")
	},

	"nginx-ofp help version": func(t *testing.T) {
		stdout, stderr, exitCode := nginxOFP(t, "help", "version")
		assert.Equal(t, exitCode, 0)
		assert.HasPrefix(t, stdout, "Usage:\tnginx-ofp version\n")
		assert.Equal(t, stderr, "")
	},
}
