package main

import (
	"testing"

	"github.com/jlijian3/nginx-ofp/internal/assert"
)

var unknownTests = tests{
	"an error is reported when invoking an unknown command": func(t *testing.T) {
		stdout, stderr, exitCode := nginxOFP(t, "whatever")
		assert.Equal(t, exitCode, 2)
		assert.Equal(t, stdout, "")
		assert.HasPrefix(t, stderr, "nginx-ofp whatever: unknown command\n")
	},
}
