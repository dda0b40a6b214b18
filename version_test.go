package main

import (
	"strings"
	"testing"

	"github.com/jlijian3/nginx-ofp/internal/assert"
)

var versionTests = tests{
	"show the version command help with the short option": func(t *testing.T) {
		stdout, stderr, exitCode := nginxOFP(t, "version", "-h")
		assert.Equal(t, exitCode, 0)
		assert.HasPrefix(t, stdout, "Usage:\tnginx-ofp version\n")
		assert.Equal(t, stderr, "")
	},

	"show the version command help with the long option": func(t *testing.T) {
		stdout, stderr, exitCode := nginxOFP(t, "version", "--help")
		assert.Equal(t, exitCode, 0)
		assert.HasPrefix(t, stdout, "Usage:\tnginx-ofp version\n")
		assert.Equal(t, stderr, "")
	},

	"the version starts with the prefix nginx-ofp": func(t *testing.T) {
		stdout, stderr, exitCode := nginxOFP(t, "version")
		assert.Equal(t, exitCode, 0)
		assert.HasPrefix(t, stdout, "nginx-ofp ")
		assert.Equal(t, stderr, "")
	},

	"the version number is not empty": func(t *testing.T) {
		stdout, stderr, exitCode := nginxOFP(t, "version")
		assert.Equal(t, exitCode, 0)
		assert.Equal(t, stderr, "")

		_, version, _ := strings.Cut(strings.TrimSpace(stdout), " ")
		assert.NotEqual(t, version, "")
	},

	"passing an unsupported flag to the command causes an error": func(t *testing.T) {
		_, stderr, exitCode := nginxOFP(t, "version", "-_")
		assert.Equal(t, exitCode, 2)
		assert.HasPrefix(t, stderr, "nginx-ofp version: ")
	},
}
