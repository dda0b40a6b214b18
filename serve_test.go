package main

import (
	"strings"
	"testing"

	"github.com/jlijian3/nginx-ofp/internal/assert"
)

var serveTests = tests{
	"show the serve command help with the long option": func(t *testing.T) {
		stdout, stderr, exitCode := nginxOFP(t, "serve", "--help")
		assert.Equal(t, exitCode, 0)
		assert.HasPrefix(t, stdout, "Usage:\tnginx-ofp serve ")
		assert.Equal(t, stderr, "")
	},

	"passing an unsupported trace compression causes an error": func(t *testing.T) {
		_, stderr, exitCode := nginxOFP(t, "serve", "--trace-compression", "gzip")
		assert.Equal(t, exitCode, 2)
		assert.True(t, strings.Contains(stderr, "gzip"))
	},

	"passing arguments to the command causes an error": func(t *testing.T) {
		_, stderr, exitCode := nginxOFP(t, "serve", "index.html")
		assert.Equal(t, exitCode, 2)
		assert.HasPrefix(t, stderr, "nginx-ofp serve: unexpected arguments")
	},

	"invalid options are reported as usage errors": func(t *testing.T) {
		_, stderr, exitCode := nginxOFP(t, "serve", "--cores", "-1")
		assert.Equal(t, exitCode, 2)
		assert.True(t, strings.Contains(stderr, "cores"))
	},

	"attaching an unknown interface fails to start the server": func(t *testing.T) {
		_, stderr, exitCode := nginxOFP(t, "serve", "-i", "nonexistent0", "--console", "")
		assert.Equal(t, exitCode, 1)
		assert.True(t, strings.Contains(stderr, "ERR: nginx-ofp serve: "))
		assert.True(t, strings.Contains(stderr, "nonexistent0"))
	},

	"listening on a non IPv4 address fails": func(t *testing.T) {
		_, stderr, exitCode := nginxOFP(t, "serve", "-L", "[::1]:8080", "--root", t.TempDir())
		assert.Equal(t, exitCode, 1)
		assert.True(t, strings.Contains(stderr, "not an IPv4 address"))
	},
}
