package main

import (
	"testing"

	"github.com/jlijian3/nginx-ofp/internal/assert"
)

var rootTests = tests{
	"invoking nginx-ofp without a command shows the introduction": func(t *testing.T) {
		stdout, stderr, exitCode := nginxOFP(t)
		assert.Equal(t, exitCode, 0)
		assert.HasPrefix(t, stdout, "nginx-ofp - ")
		assert.Equal(t, stderr, "")
	},

	"show the nginx-ofp help with the short option": func(t *testing.T) {
		stdout, stderr, exitCode := nginxOFP(t, "-h")
		assert.Equal(t, exitCode, 0)
		assert.HasPrefix(t, stdout, "Usage:\tnginx-ofp <command> ")
		assert.Equal(t, stderr, "")
	},

	"passing an unsupported flag to nginx-ofp causes an error": func(t *testing.T) {
		_, _, exitCode := nginxOFP(t, "-_")
		assert.Equal(t, exitCode, 2)
	},
}
